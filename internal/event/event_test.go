package event

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	return &Event{
		EventID:       NewID(),
		TenantID:      "tenant-a",
		SourceIP:      "10.0.0.1",
		RawEvent:      "raw payload",
		SourceType:    "Auto-detected",
		EventCategory: "Unknown",
		EventOutcome:  "Unknown",
		EventAction:   "Unknown",
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestEvent_Validate_OK(t *testing.T) {
	e := validEvent()
	assert.NoError(t, e.Validate())
}

func TestEvent_Validate_MissingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing event_id", func(e *Event) { e.EventID = "" }},
		{"malformed event_id", func(e *Event) { e.EventID = "not-a-uuid" }},
		{"missing tenant_id", func(e *Event) { e.TenantID = "" }},
		{"missing source_ip", func(e *Event) { e.SourceIP = "" }},
		{"missing raw_event", func(e *Event) { e.RawEvent = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEvent()
			tc.mutate(e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestEvent_MarshalRow(t *testing.T) {
	e := validEvent()
	b, err := e.MarshalRow()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"event_id"`)
	assert.Contains(t, string(b), e.TenantID)
	assert.NotContains(t, string(b), `"dest_ip"`, "omitempty should drop unset optional fields")
}

func TestIngestionTimestampNow(t *testing.T) {
	ts := IngestionTimestampNow()
	assert.Greater(t, ts, uint32(0))
}

func strp(s string) *string { return &s }
func u32p(v uint32) *uint32 { return &v }

func TestFold_CanonicalWinsOverLegacy(t *testing.T) {
	base := validEvent()
	parsed := &ParsedEvent{
		Protocol:    strp("tcp-legacy"),
		CIMProtocol: strp("tcp"),
	}
	out := Fold(base, parsed)
	require.NotNil(t, out.Protocol)
	assert.Equal(t, "tcp", *out.Protocol)
}

func TestFold_LegacyUsedWhenNoCanonical(t *testing.T) {
	base := validEvent()
	parsed := &ParsedEvent{Protocol: strp("udp")}
	out := Fold(base, parsed)
	require.NotNil(t, out.Protocol)
	assert.Equal(t, "udp", *out.Protocol)
}

func TestFold_ParsedTimestampAndSourceIPOverrideEnvelope(t *testing.T) {
	base := validEvent()
	base.EventTimestamp = 100
	base.SourceIP = "1.1.1.1"
	parsed := &ParsedEvent{
		Timestamp: u32p(200),
		SourceIP:  strp("2.2.2.2"),
	}
	out := Fold(base, parsed)
	assert.EqualValues(t, 200, out.EventTimestamp)
	assert.Equal(t, "2.2.2.2", out.SourceIP)
}

func TestFold_NilParsedLeavesBaseUnchanged(t *testing.T) {
	base := validEvent()
	out := Fold(base, nil)
	assert.Equal(t, *base, *out)
}

func TestFold_TenantNeverOverwritten(t *testing.T) {
	base := validEvent()
	base.TenantID = "tenant-a"
	out := Fold(base, &ParsedEvent{})
	assert.Equal(t, "tenant-a", out.TenantID)
}

func TestParsedEvent_HasSignal(t *testing.T) {
	assert.False(t, (&ParsedEvent{}).HasSignal())
	assert.True(t, (&ParsedEvent{Vendor: strp("cisco")}).HasSignal())
	assert.True(t, (&ParsedEvent{CustomFields: map[string]string{"k": "v"}}).HasSignal())
	var nilP *ParsedEvent
	assert.False(t, nilP.HasSignal())
}

func TestParsedEvent_SourceTypeUsed(t *testing.T) {
	assert.Equal(t, "cisco", (&ParsedEvent{Vendor: strp("cisco")}).SourceTypeUsed())
	assert.Equal(t, "Syslog", (&ParsedEvent{Facility: strp("local0")}).SourceTypeUsed())
	assert.Equal(t, "Auto-detected", (&ParsedEvent{}).SourceTypeUsed())
}
