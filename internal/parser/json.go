package parser

import (
	"encoding/json"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// jsonParser handles strict JSON object payloads, mapping known keys onto
// ParsedEvent fields (spec §4.2).
type jsonParser struct{}

func NewJSON() Parser { return jsonParser{} }

func (jsonParser) Name() string { return "JSON" }

func (jsonParser) Parse(raw string) (*event.ParsedEvent, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, &ParseError{Parser: "JSON", Reason: err.Error()}
	}
	if len(m) == 0 {
		return nil, &ParseError{Parser: "JSON", Reason: "empty object"}
	}

	p := &event.ParsedEvent{}
	strField(m, "hostname", &p.Hostname)
	strField(m, "host", &p.Hostname)
	strField(m, "source_ip", &p.SourceIP)
	strField(m, "src_ip", &p.SourceIP)
	strField(m, "vendor", &p.Vendor)
	strField(m, "product", &p.Product)
	strField(m, "facility", &p.Facility)
	strField(m, "severity", &p.Severity)
	strField(m, "cim_protocol", &p.CIMProtocol)
	strField(m, "protocol", &p.Protocol)
	strField(m, "dest_ip", &p.DestIP)
	strField(m, "dst_ip", &p.DestIP)
	strField(m, "user_name", &p.UserName)
	strField(m, "user", &p.UserName)
	strField(m, "process_name", &p.ProcessName)
	strField(m, "file_path", &p.FilePath)
	strField(m, "url", &p.URL)
	strField(m, "rule_id", &p.RuleID)
	strField(m, "threat_name", &p.ThreatName)
	strField(m, "app_name", &p.AppName)
	strField(m, "email_sender", &p.EmailSender)
	strField(m, "message", &p.Message)
	strField(m, "msg", &p.Message)

	u32Field(m, "src_port", &p.SrcPort)
	u32Field(m, "dest_port", &p.DestPort)
	u32Field(m, "dst_port", &p.DestPort)
	u32Field(m, "timestamp", &p.Timestamp)
	u32Field(m, "duration", &p.Duration)
	u64Field(m, "bytes_in", &p.BytesIn)
	u64Field(m, "bytes_out", &p.BytesOut)

	if tags, ok := m["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				p.Tags = append(p.Tags, s)
			}
		}
	}

	known := map[string]struct{}{
		"hostname": {}, "host": {}, "source_ip": {}, "src_ip": {}, "vendor": {}, "product": {},
		"facility": {}, "severity": {}, "cim_protocol": {}, "protocol": {}, "dest_ip": {}, "dst_ip": {},
		"user_name": {}, "user": {}, "process_name": {}, "file_path": {}, "url": {}, "rule_id": {},
		"threat_name": {}, "app_name": {}, "email_sender": {}, "message": {}, "msg": {},
		"src_port": {}, "dest_port": {}, "dst_port": {}, "timestamp": {}, "duration": {},
		"bytes_in": {}, "bytes_out": {}, "tags": {},
	}
	for k, v := range m {
		if _, ok := known[k]; ok {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			if p.CustomFields == nil {
				p.CustomFields = make(map[string]string)
			}
			p.CustomFields[k] = s
		}
	}

	return p, nil
}

func strField(m map[string]any, key string, dst **string) {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			*dst = &s
		}
	}
}

func u32Field(m map[string]any, key string, dst **uint32) {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			u := uint32(f)
			*dst = &u
		}
	}
}

func u64Field(m map[string]any, key string, dst **uint64) {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			u := uint64(f)
			*dst = &u
		}
	}
}
