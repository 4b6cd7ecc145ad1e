package parser

import (
	"strconv"
	"strings"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// keyValueParser handles space-separated key=value (optionally quoted)
// logs, the shape most commonly emitted by firewalls and load balancers.
type keyValueParser struct{}

func NewKeyValue() Parser { return keyValueParser{} }

func (keyValueParser) Name() string { return "KeyValue" }

func (keyValueParser) Parse(raw string) (*event.ParsedEvent, error) {
	pairs := splitKeyValuePairs(raw)
	if len(pairs) == 0 {
		return nil, &ParseError{Parser: "KeyValue", Reason: "no key=value pairs found"}
	}

	p := &event.ParsedEvent{}
	known := map[string]struct{}{}
	assignStrField := func(key string, dst **string) {
		if v, ok := pairs[key]; ok && v != "" {
			*dst = &v
			known[key] = struct{}{}
		}
	}
	assignStrField("src", &p.SourceIP)
	assignStrField("src_ip", &p.SourceIP)
	assignStrField("dst", &p.DestIP)
	assignStrField("dst_ip", &p.DestIP)
	assignStrField("host", &p.Hostname)
	assignStrField("hostname", &p.Hostname)
	assignStrField("vendor", &p.Vendor)
	assignStrField("product", &p.Product)
	assignStrField("user", &p.UserName)
	assignStrField("proto", &p.Protocol)
	assignStrField("action", &p.Message)

	if v, ok := pairs["spt"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			u := uint32(n)
			p.SrcPort = &u
			known["spt"] = struct{}{}
		}
	}
	if v, ok := pairs["dpt"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			u := uint32(n)
			p.DestPort = &u
			known["dpt"] = struct{}{}
		}
	}

	for k, v := range pairs {
		if _, ok := known[k]; ok {
			continue
		}
		if p.CustomFields == nil {
			p.CustomFields = make(map[string]string)
		}
		p.CustomFields[k] = v
	}

	return p, nil
}

func splitKeyValuePairs(raw string) map[string]string {
	out := make(map[string]string)
	var i int
	for i < len(raw) {
		for i < len(raw) && raw[i] == ' ' {
			i++
		}
		start := i
		for i < len(raw) && raw[i] != '=' && raw[i] != ' ' {
			i++
		}
		if i >= len(raw) || raw[i] != '=' {
			i++
			continue
		}
		key := raw[start:i]
		i++ // skip '='
		var val string
		if i < len(raw) && raw[i] == '"' {
			i++
			vs := i
			for i < len(raw) && raw[i] != '"' {
				i++
			}
			val = raw[vs:i]
			i++
		} else {
			vs := i
			for i < len(raw) && raw[i] != ' ' {
				i++
			}
			val = raw[vs:i]
		}
		if key = strings.TrimSpace(key); key != "" {
			out[key] = val
		}
	}
	return out
}
