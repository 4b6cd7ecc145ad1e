// Package event implements the normalized Event record (C1): the flat,
// tenant-scoped record every ingested message is folded into before it is
// written to the columnar store.
package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the normalized, immutable-after-commit security event record.
// Field families mirror spec §3: network, identity, endpoint, web, device,
// geo, security, application, email, and free-form. An optional field is
// either absent (nil / not present in the JSON payload) or semantically
// meaningful — empty string is never a valid present value.
type Event struct {
	// Mandatory
	EventID             string `json:"event_id"`
	TenantID            string `json:"tenant_id"`
	EventTimestamp      uint32 `json:"event_timestamp"`
	IngestionTimestamp  uint32 `json:"ingestion_timestamp"`
	SourceIP            string `json:"source_ip"`
	SourceType          string `json:"source_type"`
	RawEvent            string `json:"raw_event"`
	EventCategory       string `json:"event_category"`
	EventOutcome        string `json:"event_outcome"`
	EventAction         string `json:"event_action"`
	IsThreat            uint8  `json:"is_threat"`
	LogSourceID         *string `json:"log_source_id,omitempty"`
	ParsingStatus       *string `json:"parsing_status,omitempty"`
	ParseErrorMsg       *string `json:"parse_error_msg,omitempty"`

	// Network
	DestIP     *string `json:"dest_ip,omitempty"`
	SrcPort    *uint32 `json:"src_port,omitempty"`
	DestPort   *uint32 `json:"dest_port,omitempty"`
	Protocol   *string `json:"protocol,omitempty"`
	BytesIn    *uint64 `json:"bytes_in,omitempty"`
	BytesOut   *uint64 `json:"bytes_out,omitempty"`
	PacketsIn  *uint64 `json:"packets_in,omitempty"`
	PacketsOut *uint64 `json:"packets_out,omitempty"`
	Duration   *uint32 `json:"duration,omitempty"`

	// Identity
	UserName   *string `json:"user_name,omitempty"`
	UserDomain *string `json:"user_domain,omitempty"`
	UserID     *string `json:"user_id,omitempty"`
	SessionID  *string `json:"session_id,omitempty"`
	AuthMethod *string `json:"auth_method,omitempty"`
	AuthApp    *string `json:"auth_app,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`

	// Endpoint
	ProcessName       *string `json:"process_name,omitempty"`
	ProcessID         *string `json:"process_id,omitempty"`
	ParentProcessName *string `json:"parent_process_name,omitempty"`
	ParentProcessID   *string `json:"parent_process_id,omitempty"`
	FilePath          *string `json:"file_path,omitempty"`
	FileName          *string `json:"file_name,omitempty"`
	FileSize          *uint64 `json:"file_size,omitempty"`
	RegistryKey       *string `json:"registry_key,omitempty"`
	RegistryValue     *string `json:"registry_value,omitempty"`
	CommandLine       *string `json:"command_line,omitempty"`

	// Web
	URL                 *string `json:"url,omitempty"`
	URIPath             *string `json:"uri_path,omitempty"`
	URIQuery            *string `json:"uri_query,omitempty"`
	HTTPMethod          *string `json:"http_method,omitempty"`
	HTTPStatusCode      *uint32 `json:"http_status_code,omitempty"`
	HTTPUserAgent       *string `json:"http_user_agent,omitempty"`
	HTTPReferrer        *string `json:"http_referrer,omitempty"`
	HTTPContentType     *string `json:"http_content_type,omitempty"`
	HTTPContentLength   *uint64 `json:"http_content_length,omitempty"`

	// Device
	SrcHost    *string `json:"src_host,omitempty"`
	DestHost   *string `json:"dest_host,omitempty"`
	DeviceType *string `json:"device_type,omitempty"`
	Vendor     *string `json:"vendor,omitempty"`
	Product    *string `json:"product,omitempty"`
	Version    *string `json:"version,omitempty"`

	// Geo
	SrcCountry    *string `json:"src_country,omitempty"`
	DestCountry   *string `json:"dest_country,omitempty"`
	SrcZone       *string `json:"src_zone,omitempty"`
	DestZone      *string `json:"dest_zone,omitempty"`
	InterfaceIn   *string `json:"interface_in,omitempty"`
	InterfaceOut  *string `json:"interface_out,omitempty"`
	VlanID        *uint32 `json:"vlan_id,omitempty"`

	// Security
	RuleID         *string  `json:"rule_id,omitempty"`
	RuleName       *string  `json:"rule_name,omitempty"`
	PolicyID       *string  `json:"policy_id,omitempty"`
	PolicyName     *string  `json:"policy_name,omitempty"`
	SignatureID    *string  `json:"signature_id,omitempty"`
	SignatureName  *string  `json:"signature_name,omitempty"`
	ThreatName     *string  `json:"threat_name,omitempty"`
	ThreatCategory *string  `json:"threat_category,omitempty"`
	Severity       *string  `json:"severity,omitempty"`
	Priority       *uint32  `json:"priority,omitempty"`

	// Application
	AppName     *string `json:"app_name,omitempty"`
	AppCategory *string `json:"app_category,omitempty"`
	ServiceName *string `json:"service_name,omitempty"`

	// Email
	EmailSender    *string `json:"email_sender,omitempty"`
	EmailRecipient *string `json:"email_recipient,omitempty"`
	EmailSubject   *string `json:"email_subject,omitempty"`

	// Free-form
	Tags         []string          `json:"tags,omitempty"`
	Message      *string           `json:"message,omitempty"`
	Details      *string           `json:"details,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// NewID generates a well-formed event_id (invariant 2 of spec §8).
func NewID() string {
	return uuid.NewString()
}

// Validate enforces the mandatory-field and presence invariants from
// spec §3/§4.1. It does not duplicate the excluded schema-validation tool —
// it only checks the shape a parser or envelope must already satisfy.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("event_id is not a well-formed UUID: %w", err)
	}
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.SourceIP == "" {
		return fmt.Errorf("source_ip is required")
	}
	if e.RawEvent == "" {
		return fmt.Errorf("raw_event is required")
	}
	v := reflect.ValueOf(e).Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.Ptr && !f.IsNil() && f.Elem().Kind() == reflect.String && f.Elem().String() == "" {
			name := strings.Split(v.Type().Field(i).Tag.Get("json"), ",")[0]
			return fmt.Errorf("%s is present but empty", name)
		}
	}
	return nil
}

// MarshalRow renders the event as a single JSON object suitable for
// ClickHouse's JSONEachRow insert format (used both for single-row and
// batched writes — C5 encodes a batch as newline-delimited MarshalRow
// output).
func (e *Event) MarshalRow() ([]byte, error) {
	return json.Marshal(e)
}

// IngestionTimestampNow stamps the event with the current ingestion time as
// seconds since the epoch, matching EventTimestamp's u32 representation.
func IngestionTimestampNow() uint32 {
	return uint32(time.Now().Unix())
}
