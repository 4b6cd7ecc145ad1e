package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// regexParser runs a single named-capture-group regular expression; group
// names are matched case-insensitively against the field aliases
// fieldsToParsedEvent recognizes.
type regexParser struct {
	name string
	re   *regexp.Regexp
}

func newRegexParser(name, body string) (Parser, error) {
	re, err := regexp.Compile(body)
	if err != nil {
		return nil, fmt.Errorf("custom parser %q: invalid regex: %w", name, err)
	}
	if len(re.SubexpNames()) <= 1 {
		return nil, fmt.Errorf("custom parser %q: regex has no named capture groups", name)
	}
	return &regexParser{name: name, re: re}, nil
}

func (p *regexParser) Name() string { return p.name }

func (p *regexParser) Parse(raw string) (*event.ParsedEvent, error) {
	m := p.re.FindStringSubmatch(raw)
	if m == nil {
		return nil, &ParseError{Parser: p.name, Reason: "regex did not match"}
	}
	fields := make(map[string]string)
	for i, g := range p.re.SubexpNames() {
		if g == "" || i >= len(m) || m[i] == "" {
			continue
		}
		fields[strings.ToLower(g)] = m[i]
	}
	return fieldsToParsedEvent(fields), nil
}

// grokParser is a simplified grok dialect: the body is a sequence of
// literal text and %{name} placeholders, compiled down to the same named
// regex engine the regex parser uses.
type grokParser struct {
	*regexParser
}

var grokPlaceholderRe = regexp.MustCompile(`%\{(\w+)\}`)

func newGrokParser(name, body string) (Parser, error) {
	pattern := regexp.QuoteMeta(body)
	// QuoteMeta escapes the braces of our own placeholders, so
	// translate the escaped form back into a named capture group.
	pattern = regexp.MustCompile(`%\\\{(\w+)\\\}`).ReplaceAllString(pattern, `(?P<$1>\S+)`)
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, fmt.Errorf("custom parser %q: invalid grok pattern: %w", name, err)
	}
	return &grokParser{&regexParser{name: name, re: re}}, nil
}

func (p *grokParser) Name() string { return p.name }

// jsonPathParser evaluates a gojq program against the raw message decoded
// as JSON; the program must produce a JSON object whose keys are the field
// aliases fieldsToParsedEvent recognizes.
type jsonPathParser struct {
	name string
	code *gojq.Code
}

func newJSONPathParser(name, body string) (Parser, error) {
	query, err := gojq.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("custom parser %q: invalid json-path program: %w", name, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("custom parser %q: could not compile json-path program: %w", name, err)
	}
	return &jsonPathParser{name: name, code: code}, nil
}

func (p *jsonPathParser) Name() string { return p.name }

func (p *jsonPathParser) Parse(raw string) (*event.ParsedEvent, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &ParseError{Parser: p.name, Reason: "raw message is not valid JSON"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	iter := p.code.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok {
		return nil, &ParseError{Parser: p.name, Reason: "json-path program produced no output"}
	}
	if err, ok := v.(error); ok {
		return nil, &ParseError{Parser: p.name, Reason: err.Error()}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Parser: p.name, Reason: "json-path program did not produce an object"}
	}

	fields := make(map[string]string, len(obj))
	for k, val := range obj {
		switch t := val.(type) {
		case string:
			fields[strings.ToLower(k)] = t
		case float64, bool:
			fields[strings.ToLower(k)] = fmt.Sprint(t)
		}
	}
	return fieldsToParsedEvent(fields), nil
}

// cefTemplateParser parses the message with the generic CEF parser and then
// requires every extension key the body lists; a message missing any of
// them is rejected with a ParseError.
type cefTemplateParser struct {
	name         string
	requiredKeys []string
	fallback     Parser
}

func newCEFTemplateParser(name, body string) (Parser, error) {
	keys := strings.Fields(body)
	if len(keys) == 0 {
		return nil, fmt.Errorf("custom parser %q: cef-template body lists no required keys", name)
	}
	return &cefTemplateParser{name: name, requiredKeys: keys, fallback: NewCEF()}, nil
}

func (p *cefTemplateParser) Name() string { return p.name }

func (p *cefTemplateParser) Parse(raw string) (*event.ParsedEvent, error) {
	parsed, err := p.fallback.Parse(raw)
	if err != nil {
		return nil, &ParseError{Parser: p.name, Reason: err.Error()}
	}
	ext := parseCEFExtension(extensionPart(raw))
	for _, k := range p.requiredKeys {
		if _, ok := ext[k]; !ok {
			return nil, &ParseError{Parser: p.name, Reason: fmt.Sprintf("required CEF key %q missing", k)}
		}
	}
	return parsed, nil
}

func extensionPart(raw string) string {
	fields := splitUnescaped(strings.TrimPrefix(raw, "CEF:"), '|', 8)
	if len(fields) < 8 {
		return ""
	}
	return fields[7]
}

// fieldsToParsedEvent maps a lower-cased string-keyed bag onto ParsedEvent
// fields through the alias list below (it overlaps the JSON parser's keys
// but is not the same list), putting anything unmatched into CustomFields.
func fieldsToParsedEvent(fields map[string]string) *event.ParsedEvent {
	p := &event.ParsedEvent{}
	take := func(dst **string, keys ...string) {
		for _, k := range keys {
			if v, ok := fields[k]; ok && v != "" {
				val := v
				*dst = &val
				delete(fields, k)
				return
			}
		}
	}
	take(&p.Hostname, "hostname", "host")
	take(&p.SourceIP, "source_ip", "src_ip", "src")
	take(&p.DestIP, "dest_ip", "dst_ip", "dst")
	take(&p.Vendor, "vendor")
	take(&p.Product, "product")
	take(&p.Facility, "facility")
	take(&p.Severity, "severity")
	take(&p.Protocol, "protocol", "proto")
	take(&p.UserName, "user_name", "user")
	take(&p.ProcessName, "process_name", "process")
	take(&p.FilePath, "file_path", "path")
	take(&p.URL, "url", "request")
	take(&p.Message, "message", "msg")
	take(&p.ThreatName, "threat_name")

	if len(fields) > 0 {
		p.CustomFields = fields
	}
	return p
}
