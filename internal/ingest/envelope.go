package ingest

import "encoding/json"

// Envelope is the message-bus wire shape consumed by the worker (spec
// §4.1): a subset of Event's fields plus whatever a producer attaches.
// Unmarshalled permissively — anything beyond the mandatory fields is
// optional and is folded in later via the parser/taxonomy pipeline.
type Envelope struct {
	EventID        string `json:"event_id"`
	TenantID       string `json:"tenant_id"`
	EventTimestamp uint32 `json:"event_timestamp"`
	SourceIP       string `json:"source_ip"`
	SourceType     string `json:"source_type"`
	RawEvent       string `json:"raw_event"`
}

func decodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate enforces the mandatory-field contract of spec §4.1: a message
// missing any of these is a permanent parse error, not a retryable one.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return errMissingField("event_id")
	}
	if e.TenantID == "" {
		return errMissingField("tenant_id")
	}
	if e.SourceIP == "" {
		return errMissingField("source_ip")
	}
	if e.RawEvent == "" {
		return errMissingField("raw_event")
	}
	return nil
}

type missingFieldError string

func (e missingFieldError) Error() string { return "ingest: missing mandatory field: " + string(e) }

func errMissingField(field string) error { return missingFieldError(field) }
