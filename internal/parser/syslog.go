package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// syslogParser extracts facility/severity/hostname/message from an
// RFC3164 or RFC5424-flavored line (spec §4.2). It does not fully implement
// either RFC; it extracts the fields the pipeline actually consumes.
type syslogParser struct{}

func NewSyslog() Parser { return syslogParser{} }

func (syslogParser) Name() string { return "Syslog" }

// priRe matches the leading "<NNN>" priority value common to both RFCs.
var priRe = regexp.MustCompile(`^<(\d{1,3})>`)

// rfc5424Re matches "<PRI>VERSION TIMESTAMP HOSTNAME APP PROCID MSGID MESSAGE".
var rfc5424Re = regexp.MustCompile(`^<\d{1,3}>1\s+\S+\s+(\S+)\s+(\S+)\s+\S+\s+\S+\s+(.*)$`)

// rfc3164Re matches "<PRI>MMM DD HH:MM:SS HOSTNAME TAG: MESSAGE".
var rfc3164Re = regexp.MustCompile(`^<\d{1,3}>\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+(\S+)\s+(.*)$`)

func (syslogParser) Parse(raw string) (*event.ParsedEvent, error) {
	m := priRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, &ParseError{Parser: "Syslog", Reason: "no priority prefix"}
	}
	pri, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, &ParseError{Parser: "Syslog", Reason: "invalid priority"}
	}
	facility := strconv.Itoa(pri / 8)
	severity := strconv.Itoa(pri % 8)

	p := &event.ParsedEvent{
		Facility: &facility,
		Severity: &severity,
	}

	if g := rfc5424Re.FindStringSubmatch(raw); g != nil {
		hostname := g[1]
		app := g[2]
		msg := strings.TrimSpace(g[3])
		p.Hostname = &hostname
		p.AppName = &app
		if msg != "" {
			p.Message = &msg
		}
		return p, nil
	}

	if g := rfc3164Re.FindStringSubmatch(raw); g != nil {
		hostname := g[1]
		msg := strings.TrimSpace(g[2])
		p.Hostname = &hostname
		if msg != "" {
			p.Message = &msg
		}
		return p, nil
	}

	return nil, &ParseError{Parser: "Syslog", Reason: "unrecognized syslog framing"}
}
