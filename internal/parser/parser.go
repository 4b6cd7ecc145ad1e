// Package parser implements the parser registry (C2): a set of built-in
// parsers plus tenant-scoped custom parser definitions, dispatched per
// spec §4.1-4.2.
package parser

import (
	"fmt"

	"github.com/iff-guardian/siem-platform/internal/event"
)

// Parser is the capability every built-in and custom parser implements.
type Parser interface {
	// Name identifies the parser for binding lookups ("JSON", "Syslog", or
	// a custom parser_name).
	Name() string
	Parse(raw string) (*event.ParsedEvent, error)
}

// ParseError signals a raw message this parser could not interpret; it is
// not a permanent shape error — the registry just tries the next candidate.
type ParseError struct {
	Parser string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parser %s: %s", e.Parser, e.Reason)
}

// CustomDef is a tenant-scoped custom parser definition (spec §3): a named
// parser_type + body, only usable for events whose tenant_id matches.
type CustomDef struct {
	TenantID   string
	ParserName string
	ParserType string // "regex" | "grok" | "json-path" | "cef-template"
	Body       string
}

// Compile builds the runnable Parser for this definition, per spec §9's
// design note modeling ParserDef as a variant dispatched by type tag.
func (d CustomDef) Compile() (Parser, error) {
	switch d.ParserType {
	case "regex":
		return newRegexParser(d.ParserName, d.Body)
	case "grok":
		return newGrokParser(d.ParserName, d.Body)
	case "json-path":
		return newJSONPathParser(d.ParserName, d.Body)
	case "cef-template":
		return newCEFTemplateParser(d.ParserName, d.Body)
	default:
		return nil, fmt.Errorf("unknown parser_type %q for parser %q", d.ParserType, d.ParserName)
	}
}
