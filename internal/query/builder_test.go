package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableFor(t *testing.T) {
	assert.Equal(t, "events_acme_co", TableFor("acme-co"))
	assert.Equal(t, "", TableFor(""))
}

func TestBuild_TenantIsolation(t *testing.T) {
	b, err := Build(Request{TenantID: "acme", Pagination: Pagination{Size: 10}}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "events_acme")
	assert.Contains(t, b.SQL, "tenant_id = :tenant")
	assert.Equal(t, "acme", b.Params["tenant"])
}

func TestBuild_NoTenant_UnionAllTables(t *testing.T) {
	b, err := Build(Request{Pagination: Pagination{Size: 10}}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "merge(currentDatabase(), '^events_')")
	assert.Contains(t, b.SQL, "_table != 'events_v2'")
}

func TestBuild_InvalidFilterField(t *testing.T) {
	_, err := Build(Request{Filters: []Filter{{Field: "not_allowed", Op: OpEquals, Value: "x"}}}, BuildOptions{})
	require.Error(t, err)
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "InvalidField", qerr.Code)
}

func TestBuild_InvalidSortField(t *testing.T) {
	_, err := Build(Request{Sort: []SortField{{Field: "nope"}}}, BuildOptions{})
	assert.Error(t, err)
}

func TestBuild_RegexDisabledByDefault(t *testing.T) {
	_, err := Build(Request{Filters: []Filter{{Field: "message", Op: OpRegex, Value: ".*"}}}, BuildOptions{RegexEnabled: false})
	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "RegexDisabled", qerr.Code)
}

func TestBuild_RegexEnabled(t *testing.T) {
	b, err := Build(Request{Filters: []Filter{{Field: "message", Op: OpRegex, Value: "^foo"}}}, BuildOptions{RegexEnabled: true})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "match(message, :f0)")
	assert.Equal(t, "^foo", b.Params["f0"])
}

func TestBuild_EachOperator(t *testing.T) {
	cases := []struct {
		op       FilterOp
		wantFrag string
	}{
		{OpEquals, "user_name = :f0"},
		{OpNotEquals, "user_name != :f0"},
		{OpContains, "user_name ILIKE :f0"},
		{OpNotContains, "user_name NOT ILIKE :f0"},
		{OpStartsWith, "user_name ILIKE :f0"},
		{OpEndsWith, "user_name ILIKE :f0"},
		{OpGt, "user_name > :f0"},
		{OpGte, "user_name >= :f0"},
		{OpLt, "user_name < :f0"},
		{OpLte, "user_name <= :f0"},
		{OpExists, "user_name IS NOT NULL"},
		{OpNotExists, "user_name IS NULL"},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			b, err := Build(Request{Filters: []Filter{{Field: "user_name", Op: tc.op, Value: "jane"}}}, BuildOptions{})
			require.NoError(t, err)
			assert.Contains(t, b.SQL, tc.wantFrag)
		})
	}
}

func TestBuild_Between(t *testing.T) {
	b, err := Build(Request{Filters: []Filter{{Field: "priority", Op: OpBetween, Low: "1", High: "5"}}}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "priority BETWEEN :f0_a AND :f0_b")
	assert.Equal(t, "1", b.Params["f0_a"])
	assert.Equal(t, "5", b.Params["f0_b"])
}

func TestBuild_In(t *testing.T) {
	b, err := Build(Request{Filters: []Filter{{Field: "severity", Op: OpIn, Values: []string{"high", "critical"}}}}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "severity IN (:f0_0,:f0_1)")
	assert.Equal(t, "high", b.Params["f0_0"])
}

func TestBuild_PageSizeClamped(t *testing.T) {
	b, err := Build(Request{Pagination: Pagination{Size: 999999, Page: 1}}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "LIMIT 1000")
}

func TestBuild_DefaultOrderAndPagination(t *testing.T) {
	b, err := Build(Request{}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "ORDER BY event_timestamp DESC")
	assert.Contains(t, b.SQL, "LIMIT 50 OFFSET 0")
}

func TestBuild_FreeTextILIKEByDefault(t *testing.T) {
	b, err := Build(Request{Query: "login failed"}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "message ILIKE :q_like")
	assert.Equal(t, "%login+failed%", b.Params["q_like"])
}

func TestBuild_FreeTextFullTextEnabled(t *testing.T) {
	b, err := Build(Request{Query: "login", Options: Options{FullTextSearch: true}}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "hasToken(message, :q)")
}

func TestBuild_ProjectionOverride(t *testing.T) {
	b, err := Build(Request{Fields: []string{"event_id", "tenant_id"}}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "SELECT event_id, tenant_id FROM")
}

func TestBuild_ProjectionOverrideInvalidField(t *testing.T) {
	_, err := Build(Request{Fields: []string{"not_real"}}, BuildOptions{})
	assert.Error(t, err)
}

func TestBuildAggregation_Count(t *testing.T) {
	b, err := BuildAggregation("acme", AggRequest{Kind: AggCount}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "SELECT count() FROM")
}

func TestBuildAggregation_Terms(t *testing.T) {
	b, err := BuildAggregation("acme", AggRequest{Kind: AggTerms, Field: "severity"}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "GROUP BY severity ORDER BY doc_count DESC LIMIT 10")
}

func TestBuildAggregation_TermsInvalidField(t *testing.T) {
	_, err := BuildAggregation("acme", AggRequest{Kind: AggTerms, Field: "nope"}, BuildOptions{})
	assert.Error(t, err)
}

func TestBuildAggregation_DateHistogram(t *testing.T) {
	b, err := BuildAggregation("acme", AggRequest{Kind: AggDateHistogram, Interval: "1 hour"}, BuildOptions{})
	require.NoError(t, err)
	assert.Contains(t, b.SQL, "toStartOfInterval(toDateTime(event_timestamp), INTERVAL 1 hour)")
}

func TestBuildAggregation_Unsupported(t *testing.T) {
	_, err := BuildAggregation("acme", AggRequest{Kind: "Bogus"}, BuildOptions{})
	assert.Error(t, err)
}

func TestEscapeLiteral(t *testing.T) {
	assert.Equal(t, "O''Brien", EscapeLiteral("O'Brien"))
}
