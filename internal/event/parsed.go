package event

// ParsedEvent is the intermediate output of a parser (C2): every field is
// optional, and a parser may report both a canonical form of a value (e.g.
// CIMProtocol) and a legacy duplicate (Protocol) — canonical wins when both
// are present (spec §3/§4.1 precedence rule).
type ParsedEvent struct {
	Timestamp  *uint32
	Hostname   *string
	SourceIP   *string
	Vendor     *string
	Product    *string
	Facility   *string
	Severity   *string
	IsThreat   *uint8

	// canonical/legacy pairs
	CIMProtocol *string
	Protocol    *string

	DestIP     *string
	SrcPort    *uint32
	DestPort   *uint32
	BytesIn    *uint64
	BytesOut   *uint64
	PacketsIn  *uint64
	PacketsOut *uint64
	Duration   *uint32

	UserName      *string
	UserDomain    *string
	UserID        *string
	SessionID     *string
	AuthMethod    *string
	AuthApp       *string
	FailureReason *string

	ProcessName       *string
	ProcessID         *string
	ParentProcessName *string
	ParentProcessID   *string
	FilePath          *string
	FileName          *string
	FileSize          *uint64
	RegistryKey       *string
	RegistryValue     *string
	CommandLine       *string

	URL               *string
	URIPath           *string
	URIQuery          *string
	HTTPMethod        *string
	HTTPStatusCode    *uint32
	HTTPUserAgent     *string
	HTTPReferrer      *string
	HTTPContentType   *string
	HTTPContentLength *uint64

	DeviceType *string
	Version    *string

	SrcCountry   *string
	DestCountry  *string
	SrcZone      *string
	DestZone     *string
	InterfaceIn  *string
	InterfaceOut *string
	VlanID       *uint32

	RuleID         *string
	RuleName       *string
	PolicyID       *string
	PolicyName     *string
	SignatureID    *string
	SignatureName  *string
	ThreatName     *string
	ThreatCategory *string
	Priority       *uint32

	AppName     *string
	AppCategory *string
	ServiceName *string

	EmailSender    *string
	EmailRecipient *string
	EmailSubject   *string

	Tags         []string
	Message      *string
	Details      *string
	CustomFields map[string]string
}

// HasSignal reports whether a ParsedEvent carries enough information to be
// considered non-trivial, per spec §4.1 step 2: "accept the first whose
// output is non-trivial (has any of: timestamp, hostname, source_ip,
// vendor, product, or any additional field)".
func (p *ParsedEvent) HasSignal() bool {
	if p == nil {
		return false
	}
	if p.Timestamp != nil || p.Hostname != nil || p.SourceIP != nil || p.Vendor != nil || p.Product != nil {
		return true
	}
	return p.anyAdditionalField()
}

func (p *ParsedEvent) anyAdditionalField() bool {
	switch {
	case p.Protocol != nil, p.CIMProtocol != nil, p.DestIP != nil, p.UserName != nil,
		p.ProcessName != nil, p.FilePath != nil, p.URL != nil, p.RuleID != nil,
		p.ThreatName != nil, p.AppName != nil, p.EmailSender != nil, p.Message != nil,
		p.Facility != nil, p.Severity != nil:
		return true
	}
	return len(p.Tags) > 0 || len(p.CustomFields) > 0
}

// SourceTypeUsed derives source_type_used per spec §4.1 step 3: vendor if
// set, else "Syslog" if facility is present, else "Auto-detected".
func (p *ParsedEvent) SourceTypeUsed() string {
	if p == nil {
		return "Auto-detected"
	}
	if p.Vendor != nil && *p.Vendor != "" {
		return *p.Vendor
	}
	if p.Facility != nil && *p.Facility != "" {
		return "Syslog"
	}
	return "Auto-detected"
}

// Fold merges an envelope-derived base Event with a ParsedEvent following
// the precedence rules of spec §4.1: canonical parsed value > legacy parsed
// value > envelope/raw fallback. Parsed timestamp and source_ip override the
// envelope's. TenantID is never overwritten by a parser (invariant 3).
func Fold(base *Event, parsed *ParsedEvent) *Event {
	e := *base
	if parsed == nil {
		return &e
	}

	if parsed.Timestamp != nil {
		e.EventTimestamp = *parsed.Timestamp
	}
	if parsed.SourceIP != nil && *parsed.SourceIP != "" {
		e.SourceIP = *parsed.SourceIP
	}

	// canonical (CIMProtocol) wins over legacy (Protocol)
	if parsed.CIMProtocol != nil && *parsed.CIMProtocol != "" {
		e.Protocol = parsed.CIMProtocol
	} else if parsed.Protocol != nil && *parsed.Protocol != "" {
		e.Protocol = parsed.Protocol
	}

	assignStr(&e.DestIP, parsed.DestIP)
	assignU32(&e.SrcPort, parsed.SrcPort)
	assignU32(&e.DestPort, parsed.DestPort)
	assignU64(&e.BytesIn, parsed.BytesIn)
	assignU64(&e.BytesOut, parsed.BytesOut)
	assignU64(&e.PacketsIn, parsed.PacketsIn)
	assignU64(&e.PacketsOut, parsed.PacketsOut)
	assignU32(&e.Duration, parsed.Duration)

	assignStr(&e.UserName, parsed.UserName)
	assignStr(&e.UserDomain, parsed.UserDomain)
	assignStr(&e.UserID, parsed.UserID)
	assignStr(&e.SessionID, parsed.SessionID)
	assignStr(&e.AuthMethod, parsed.AuthMethod)
	assignStr(&e.AuthApp, parsed.AuthApp)
	assignStr(&e.FailureReason, parsed.FailureReason)

	assignStr(&e.ProcessName, parsed.ProcessName)
	assignStr(&e.ProcessID, parsed.ProcessID)
	assignStr(&e.ParentProcessName, parsed.ParentProcessName)
	assignStr(&e.ParentProcessID, parsed.ParentProcessID)
	assignStr(&e.FilePath, parsed.FilePath)
	assignStr(&e.FileName, parsed.FileName)
	assignU64(&e.FileSize, parsed.FileSize)
	assignStr(&e.RegistryKey, parsed.RegistryKey)
	assignStr(&e.RegistryValue, parsed.RegistryValue)
	assignStr(&e.CommandLine, parsed.CommandLine)

	assignStr(&e.URL, parsed.URL)
	assignStr(&e.URIPath, parsed.URIPath)
	assignStr(&e.URIQuery, parsed.URIQuery)
	assignStr(&e.HTTPMethod, parsed.HTTPMethod)
	assignU32(&e.HTTPStatusCode, parsed.HTTPStatusCode)
	assignStr(&e.HTTPUserAgent, parsed.HTTPUserAgent)
	assignStr(&e.HTTPReferrer, parsed.HTTPReferrer)
	assignStr(&e.HTTPContentType, parsed.HTTPContentType)
	assignU64(&e.HTTPContentLength, parsed.HTTPContentLength)

	assignStr(&e.DeviceType, parsed.DeviceType)
	assignStr(&e.Vendor, parsed.Vendor)
	assignStr(&e.Product, parsed.Product)
	assignStr(&e.Version, parsed.Version)

	assignStr(&e.SrcCountry, parsed.SrcCountry)
	assignStr(&e.DestCountry, parsed.DestCountry)
	assignStr(&e.SrcZone, parsed.SrcZone)
	assignStr(&e.DestZone, parsed.DestZone)
	assignStr(&e.InterfaceIn, parsed.InterfaceIn)
	assignStr(&e.InterfaceOut, parsed.InterfaceOut)
	assignU32(&e.VlanID, parsed.VlanID)

	assignStr(&e.RuleID, parsed.RuleID)
	assignStr(&e.RuleName, parsed.RuleName)
	assignStr(&e.PolicyID, parsed.PolicyID)
	assignStr(&e.PolicyName, parsed.PolicyName)
	assignStr(&e.SignatureID, parsed.SignatureID)
	assignStr(&e.SignatureName, parsed.SignatureName)
	assignStr(&e.ThreatName, parsed.ThreatName)
	assignStr(&e.ThreatCategory, parsed.ThreatCategory)
	assignStr(&e.Severity, parsed.Severity)
	assignU32(&e.Priority, parsed.Priority)

	assignStr(&e.AppName, parsed.AppName)
	assignStr(&e.AppCategory, parsed.AppCategory)
	assignStr(&e.ServiceName, parsed.ServiceName)

	assignStr(&e.EmailSender, parsed.EmailSender)
	assignStr(&e.EmailRecipient, parsed.EmailRecipient)
	assignStr(&e.EmailSubject, parsed.EmailSubject)

	if len(parsed.Tags) > 0 {
		e.Tags = parsed.Tags
	}
	assignStr(&e.Message, parsed.Message)
	assignStr(&e.Details, parsed.Details)
	if len(parsed.CustomFields) > 0 {
		if e.CustomFields == nil {
			e.CustomFields = make(map[string]string, len(parsed.CustomFields))
		}
		for k, v := range parsed.CustomFields {
			e.CustomFields[k] = v
		}
	}

	if parsed.IsThreat != nil && *parsed.IsThreat == 1 {
		e.IsThreat = 1
	}

	return &e
}

func assignStr(dst **string, src *string) {
	if src != nil && *src != "" {
		*dst = src
	}
}

func assignU32(dst **uint32, src *uint32) {
	if src != nil {
		*dst = src
	}
}

func assignU64(dst **uint64, src *uint64) {
	if src != nil {
		*dst = src
	}
}
