package query

// AllowedFields is the fixed set of filterable/sortable field names from
// spec §6. Any filter or sort field outside this set is rejected with
// ErrInvalidField.
var AllowedFields = map[string]struct{}{
	"event_id": {}, "tenant_id": {}, "event_timestamp": {}, "ingestion_timestamp": {},
	"source_ip": {}, "source_type": {}, "raw_event": {}, "event_category": {},
	"event_outcome": {}, "event_action": {}, "log_source_id": {}, "parsing_status": {},
	"parse_error_msg": {}, "dest_ip": {}, "src_port": {}, "dest_port": {}, "protocol": {},
	"bytes_in": {}, "bytes_out": {}, "packets_in": {}, "packets_out": {}, "duration": {},
	"user_name": {}, "user_domain": {}, "user_id": {}, "process_name": {}, "process_id": {},
	"parent_process_name": {}, "parent_process_id": {}, "file_path": {}, "file_name": {},
	"file_size": {}, "command_line": {}, "registry_key": {}, "registry_value": {},
	"url": {}, "uri_path": {}, "uri_query": {}, "http_method": {}, "http_status_code": {},
	"http_user_agent": {}, "http_referrer": {}, "http_content_type": {}, "http_content_length": {},
	"src_host": {}, "dest_host": {}, "device_type": {}, "vendor": {}, "product": {}, "version": {},
	"src_country": {}, "dest_country": {}, "src_zone": {}, "dest_zone": {}, "interface_in": {},
	"interface_out": {}, "vlan_id": {}, "rule_id": {}, "rule_name": {}, "policy_id": {},
	"policy_name": {}, "signature_id": {}, "signature_name": {}, "threat_name": {},
	"threat_category": {}, "severity": {}, "priority": {}, "auth_method": {}, "auth_app": {},
	"failure_reason": {}, "session_id": {}, "app_name": {}, "app_category": {}, "service_name": {},
	"email_sender": {}, "email_recipient": {}, "email_subject": {}, "tags": {}, "message": {},
	"details": {}, "custom_fields": {},
}

// DefaultProjection is the explicit column list used when SearchRequest
// does not restrict fields (spec §4.5).
var DefaultProjection = []string{
	"event_id", "tenant_id", "event_timestamp", "ingestion_timestamp", "source_ip",
	"source_type", "raw_event", "event_category", "event_outcome", "event_action",
	"is_threat", "dest_ip", "src_port", "dest_port", "protocol", "bytes_in", "bytes_out",
	"user_name", "process_name", "file_path", "url", "vendor", "product", "rule_id",
	"threat_name", "severity", "message", "tags", "custom_fields",
}

func IsAllowedField(f string) bool {
	_, ok := AllowedFields[f]
	return ok
}
