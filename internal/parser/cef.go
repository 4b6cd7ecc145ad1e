package parser

import (
	"strconv"
	"strings"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// cefParser parses ArcSight Common Event Format:
//
//	CEF:Version|Vendor|Product|Version|SignatureID|Name|Severity|Extension
type cefParser struct{}

func NewCEF() Parser { return cefParser{} }

func (cefParser) Name() string { return "CEF" }

func (cefParser) Parse(raw string) (*event.ParsedEvent, error) {
	if !strings.HasPrefix(raw, "CEF:") {
		return nil, &ParseError{Parser: "CEF", Reason: "missing CEF: prefix"}
	}
	fields := splitUnescaped(raw[len("CEF:"):], '|', 8)
	if len(fields) < 7 {
		return nil, &ParseError{Parser: "CEF", Reason: "too few header fields"}
	}

	vendor := fields[1]
	product := fields[2]
	version := fields[3]
	sigID := fields[4]
	sigName := fields[5]
	severity := fields[6]

	p := &event.ParsedEvent{
		Vendor:        &vendor,
		Product:       &product,
		Version:       &version,
		SignatureID:   &sigID,
		SignatureName: &sigName,
		Severity:      &severity,
	}

	if len(fields) == 8 {
		ext := parseCEFExtension(fields[7])
		applyCEFExtension(p, ext)
	}

	return p, nil
}

// splitUnescaped splits s on sep, ignoring occurrences preceded by a
// backslash, stopping once maxFields-1 splits have been made (CEF's
// extension field may itself contain unescaped '|').
func splitUnescaped(s string, sep byte, maxFields int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < maxFields-1; i++ {
		if s[i] == sep && (i == 0 || s[i-1] != '\\') {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func parseCEFExtension(ext string) map[string]string {
	out := make(map[string]string)
	parts := strings.Fields(ext)
	var key, val string
	var buf []string
	flush := func() {
		if key != "" {
			out[key] = strings.Join(buf, " ")
		}
	}
	for _, tok := range parts {
		if i := strings.Index(tok, "="); i > 0 && isCEFKey(tok[:i]) {
			flush()
			key = tok[:i]
			val = tok[i+1:]
			buf = []string{val}
		} else if key != "" {
			buf = append(buf, tok)
		}
	}
	flush()
	return out
}

func isCEFKey(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_') {
			return false
		}
	}
	return s != ""
}

func applyCEFExtension(p *event.ParsedEvent, ext map[string]string) {
	assign := func(key string, dst **string) {
		if v, ok := ext[key]; ok && v != "" {
			*dst = &v
		}
	}
	assign("src", &p.SourceIP)
	assign("dst", &p.DestIP)
	assign("dhost", &p.Hostname)
	assign("shost", &p.Hostname)
	assign("suser", &p.UserName)
	assign("msg", &p.Message)
	assign("request", &p.URL)
	assign("fname", &p.FileName)
	assign("filePath", &p.FilePath)
	assign("cs1", &p.ThreatName)
	assign("proto", &p.Protocol)

	if v, ok := ext["spt"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			u := uint32(n)
			p.SrcPort = &u
		}
	}
	if v, ok := ext["dpt"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			u := uint32(n)
			p.DestPort = &u
		}
	}
}
