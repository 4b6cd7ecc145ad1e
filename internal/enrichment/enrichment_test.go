package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iff-guardian/siem-platform/internal/parser"
)

func TestCaches_Binding(t *testing.T) {
	c := NewCaches()
	c.Swap(map[string]string{"10.0.0.1": "JSON", "10.0.0.2": "unknown"}, nil, nil, nil)

	name, found := c.Binding("10.0.0.1")
	assert.True(t, found)
	assert.Equal(t, "JSON", name)

	name, found = c.Binding("10.0.0.2")
	assert.True(t, found)
	assert.Equal(t, "unknown", name)

	_, found = c.Binding("10.0.0.99")
	assert.False(t, found)
}

func TestCaches_MatchTaxonomy_FirstMatchWins(t *testing.T) {
	c := NewCaches()
	rules := []TaxonomyRule{
		{TenantID: "t1", SourceType: "firewall", FieldToCheck: FieldRawMessage, ValueToMatch: "DENY", EventCategory: "Network", EventOutcome: "Failure", EventAction: "Blocked"},
		{TenantID: "t1", SourceType: "firewall", FieldToCheck: FieldRawMessage, ValueToMatch: "deny", EventCategory: "Other", EventOutcome: "Other", EventAction: "Other"},
	}
	c.Swap(nil, rules, nil, nil)

	cat, outcome, action := c.MatchTaxonomy("t1", "firewall", "action=DENY src=1.2.3.4", "1.2.3.4")
	assert.Equal(t, "Network", cat)
	assert.Equal(t, "Failure", outcome)
	assert.Equal(t, "Blocked", action)
}

func TestCaches_MatchTaxonomy_NoMatchReturnsDefaults(t *testing.T) {
	c := NewCaches()
	cat, outcome, action := c.MatchTaxonomy("t1", "firewall", "anything", "1.2.3.4")
	assert.Equal(t, "Unknown", cat)
	assert.Equal(t, "Unknown", outcome)
	assert.Equal(t, "Unknown", action)
}

func TestCaches_MatchTaxonomy_BySourceIPField(t *testing.T) {
	c := NewCaches()
	rules := []TaxonomyRule{
		{TenantID: "t1", SourceType: "vpn", FieldToCheck: FieldSourceIP, ValueToMatch: "10.0.", EventCategory: "Authentication", EventOutcome: "Success", EventAction: "Login"},
	}
	c.Swap(nil, rules, nil, nil)
	cat, _, _ := c.MatchTaxonomy("t1", "vpn", "irrelevant", "10.0.5.5")
	assert.Equal(t, "Authentication", cat)
}

func TestCaches_IsThreat(t *testing.T) {
	c := NewCaches()
	c.Swap(nil, nil, nil, []string{"1.2.3.4"})
	assert.True(t, c.IsThreat("1.2.3.4"))
	assert.False(t, c.IsThreat("5.6.7.8"))
}

func TestCaches_CustomParserDefs_FilteredByTenantAtConsumer(t *testing.T) {
	c := NewCaches()
	defs := []parser.CustomDef{
		{TenantID: "t1", ParserName: "a", ParserType: "regex", Body: "x"},
		{TenantID: "t2", ParserName: "b", ParserType: "regex", Body: "y"},
	}
	c.Swap(nil, nil, defs, nil)
	all := c.CustomParserDefs()
	require.Len(t, all, 2)
}

func TestRefresher_KeepsPriorCacheOnFetchFailure(t *testing.T) {
	c := NewCaches()
	c.Swap(map[string]string{"10.0.0.1": "JSON"}, nil, nil, []string{"1.1.1.1"})

	// Both configured source URLs point nowhere, so both fetches fail; the
	// prior log-source and threat snapshots must survive the refresh.
	r := NewRefresher(c, Sources{
		LogSourcesURL: "http://127.0.0.1:0/log-sources",
		ThreatSetURL:  "http://127.0.0.1:0/threats",
	}, time.Minute, zap.NewNop().Sugar())

	r.refreshOnce(context.Background())

	name, found := c.Binding("10.0.0.1")
	assert.True(t, found)
	assert.Equal(t, "JSON", name)
	assert.True(t, c.IsThreat("1.1.1.1"))
}

func TestRefresher_SuccessfulFetchSwapsIn(t *testing.T) {
	logSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode([]logSourceRow{{SourceIP: "10.0.0.9", ParserType: "Syslog"}})
	}))
	defer logSrv.Close()

	c := NewCaches()
	r := NewRefresher(c, Sources{LogSourcesURL: logSrv.URL}, time.Minute, zap.NewNop().Sugar())
	r.refreshOnce(context.Background())

	name, found := c.Binding("10.0.0.9")
	assert.True(t, found)
	assert.Equal(t, "Syslog", name)
}
