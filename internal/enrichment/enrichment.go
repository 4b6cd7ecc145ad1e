// Package enrichment implements the process-wide enrichment caches (C3):
// the log-source binding map, the taxonomy rule list, the tenant-scoped
// custom parser definitions, and the threat-indicator set. All four are
// mutated only by a single refresher goroutine and read through an
// atomically-swapped immutable snapshot, so readers never block a refresh
// and a refresh never blocks a reader.
package enrichment

import (
	"strings"
	"sync/atomic"

	"github.com/iff-guardian/siem-platform/internal/parser"
)

// TaxonomyRule is §3's taxonomy rule: a linear-scan, first-match mapping
// from a raw/source_ip substring to the {category, outcome, action} triple.
type TaxonomyRule struct {
	TenantID      string
	SourceType    string
	FieldToCheck  string // "raw_message" | "source_ip"
	ValueToMatch  string
	EventCategory string
	EventOutcome  string
	EventAction   string
}

const (
	FieldRawMessage = "raw_message"
	FieldSourceIP   = "source_ip"
)

// snapshot is one immutable generation of the four caches. logSources maps
// source_ip to a parser_type_name; "unknown" is a negative binding cached to
// suppress repeat lookups.
type snapshot struct {
	logSources map[string]string
	taxonomy   []TaxonomyRule
	custom     []parser.CustomDef
	threatSet  map[string]struct{}
}

// Caches holds the current snapshot of all four enrichment structures and
// exposes only read operations plus an atomic Swap used by the refresher.
type Caches struct {
	v atomic.Pointer[snapshot]
}

func NewCaches() *Caches {
	c := &Caches{}
	c.v.Store(&snapshot{
		logSources: map[string]string{},
		threatSet:  map[string]struct{}{},
	})
	return c
}

// Swap installs a new snapshot atomically; used by the refresher after a
// successful fetch of all four sources. Passing a nil slice/map for any
// argument leaves that structure empty, not "unchanged" — callers must
// supply the prior value themselves on a partial refresh failure (§4.1:
// "a refresh failure logs a warning and leaves the prior cache intact").
func (c *Caches) Swap(logSources map[string]string, taxonomy []TaxonomyRule, custom []parser.CustomDef, threatIndicators []string) {
	threatSet := make(map[string]struct{}, len(threatIndicators))
	for _, ip := range threatIndicators {
		threatSet[ip] = struct{}{}
	}
	ls := make(map[string]string, len(logSources))
	for k, v := range logSources {
		ls[k] = v
	}
	c.v.Store(&snapshot{
		logSources: ls,
		taxonomy:   append([]TaxonomyRule(nil), taxonomy...),
		custom:     append([]parser.CustomDef(nil), custom...),
		threatSet:  threatSet,
	})
}

// Binding returns the parser_type_name bound to source_ip, and whether a
// binding exists at all (an absent binding vs. the "unknown" negative
// binding are distinguished by the caller).
func (c *Caches) Binding(sourceIP string) (name string, found bool) {
	s := c.v.Load()
	name, found = s.logSources[sourceIP]
	return name, found
}

// MatchTaxonomy runs the linear first-match scan described in spec §4.1/§4.3.
// rawMessage and sourceIP are the two fields a rule may check.
func (c *Caches) MatchTaxonomy(tenantID, sourceType, rawMessage, sourceIP string) (category, outcome, action string) {
	s := c.v.Load()
	lowerRaw := strings.ToLower(rawMessage)
	lowerIP := strings.ToLower(sourceIP)
	for _, rule := range s.taxonomy {
		if rule.TenantID != tenantID || rule.SourceType != sourceType {
			continue
		}
		var haystack string
		switch rule.FieldToCheck {
		case FieldSourceIP:
			haystack = lowerIP
		default:
			haystack = lowerRaw
		}
		if strings.Contains(haystack, strings.ToLower(rule.ValueToMatch)) {
			return rule.EventCategory, rule.EventOutcome, rule.EventAction
		}
	}
	return "Unknown", "Unknown", "Unknown"
}

// IsThreat reports whether sourceIP is a member of the threat-indicator set.
func (c *Caches) IsThreat(sourceIP string) bool {
	s := c.v.Load()
	_, ok := s.threatSet[sourceIP]
	return ok
}

// CustomParserDefs returns the full custom-parser-definition list as of the
// current snapshot; consumers filter by tenant themselves (spec §4.3).
func (c *Caches) CustomParserDefs() []parser.CustomDef {
	s := c.v.Load()
	return append([]parser.CustomDef(nil), s.custom...)
}

// Snapshot exposes the raw current state for callers (e.g. a refresher
// computing a diff, or a health/metrics reporter) that need every field at
// once without four separate atomic loads racing against a concurrent Swap.
type Snapshot struct {
	LogSources map[string]string
	Taxonomy   []TaxonomyRule
	Custom     []parser.CustomDef
	ThreatSet  map[string]struct{}
}

func (c *Caches) Snapshot() Snapshot {
	s := c.v.Load()
	return Snapshot{
		LogSources: s.logSources,
		Taxonomy:   s.taxonomy,
		Custom:     s.custom,
		ThreatSet:  s.threatSet,
	}
}
