package search

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/internal/query"
)

type fakeStore struct {
	calls int
	rows  []*event.Event
	err   error
}

func (f *fakeStore) Query(ctx context.Context, sql string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return json.Marshal(f.rows)
}

func sampleEvent(id string) *event.Event {
	return &event.Event{EventID: id, TenantID: "acme", EventTimestamp: 1000, SourceType: "Syslog"}
}

func TestSearch_CacheMissThenHit(t *testing.T) {
	store := &fakeStore{rows: []*event.Event{sampleEvent("e1"), sampleEvent("e2")}}
	svc := NewService(store, time.Minute, false)

	req := query.Request{TenantID: "acme", Options: query.Options{EnableCaching: true}}

	resp1, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp1.Metadata.CacheHit)
	assert.Len(t, resp1.Hits.Hits, 2)
	assert.Equal(t, 1, store.calls)

	resp2, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp2.Metadata.CacheHit)
	assert.Equal(t, 1, store.calls, "second search must be served from cache, not re-query the store")

	total, hits, misses, failed, _ := svc.Metrics.Snapshot()
	assert.Equal(t, uint64(2), total)
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, uint64(0), failed)
}

func TestSearch_CachingDisabledAlwaysQueries(t *testing.T) {
	store := &fakeStore{rows: []*event.Event{sampleEvent("e1")}}
	svc := NewService(store, time.Minute, false)
	req := query.Request{TenantID: "acme"}

	_, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, store.calls)
}

func TestSearch_CacheExpiresAfterTTL(t *testing.T) {
	store := &fakeStore{rows: []*event.Event{sampleEvent("e1")}}
	svc := NewService(store, time.Millisecond, false)
	req := query.Request{TenantID: "acme", Options: query.Options{EnableCaching: true}}

	_, err := svc.Search(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Metadata.CacheHit)
	assert.Equal(t, 2, store.calls)
}

func TestSearch_InvalidFieldPropagatesBuilderError(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, time.Minute, false)
	req := query.Request{Filters: []query.Filter{{Field: "not_allowed", Op: query.OpEquals, Value: "x"}}}

	_, err := svc.Search(context.Background(), req)
	require.Error(t, err)
	var qerr *query.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 0, store.calls)
}

func TestSearch_StoreErrorRecordsFailedMetric(t *testing.T) {
	store := &fakeStore{err: assert.AnError}
	svc := NewService(store, time.Minute, false)

	_, err := svc.Search(context.Background(), query.Request{TenantID: "acme"})
	require.Error(t, err)

	_, _, _, failed, _ := svc.Metrics.Snapshot()
	assert.Equal(t, uint64(1), failed)
}

func TestSearch_TotalAndHasNext(t *testing.T) {
	store := &fakeStore{rows: []*event.Event{sampleEvent("e1"), sampleEvent("e2")}}
	svc := NewService(store, time.Minute, false)
	req := query.Request{TenantID: "acme", Pagination: query.Pagination{Size: 2, Page: 0, IncludeTotal: true}}

	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Hits.Total)
	assert.Equal(t, 2, *resp.Hits.Total)
	assert.False(t, resp.Hits.HasNext)
}

func TestSearch_AggregationsPopulated(t *testing.T) {
	store := &fakeStore{rows: []*event.Event{sampleEvent("e1")}}
	svc := NewService(store, time.Minute, false)
	req := query.Request{
		TenantID: "acme",
		Aggregations: map[string]query.AggRequest{
			"by_severity": {Kind: query.AggTerms, Field: "severity"},
		},
	}

	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls, "expected one query for hits and one for the aggregation")
	require.Contains(t, resp.Aggregations, "by_severity")
}

func TestSearch_AggregationBuilderErrorPropagates(t *testing.T) {
	store := &fakeStore{rows: []*event.Event{sampleEvent("e1")}}
	svc := NewService(store, time.Minute, false)
	req := query.Request{
		TenantID: "acme",
		Aggregations: map[string]query.AggRequest{
			"bad": {Kind: query.AggTerms, Field: "not_allowed"},
		},
	}

	_, err := svc.Search(context.Background(), req)
	require.Error(t, err)
	var qerr *query.Error
	require.ErrorAs(t, err, &qerr)
}

func TestFingerprint_StableForEquivalentRequests(t *testing.T) {
	a := query.Request{TenantID: "acme", Query: "login"}
	b := query.Request{TenantID: "acme", Query: "login"}
	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestFingerprint_DiffersForDifferentRequests(t *testing.T) {
	a := query.Request{TenantID: "acme", Query: "login"}
	b := query.Request{TenantID: "acme", Query: "logout"}
	fa, _ := Fingerprint(a)
	fb, _ := Fingerprint(b)
	assert.NotEqual(t, fa, fb)
}

func TestGetByID_NotFound(t *testing.T) {
	store := &fakeStore{rows: nil}
	svc := NewService(store, time.Minute, false)
	e, err := svc.GetByID(context.Background(), "acme", "missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestGetByID_Found(t *testing.T) {
	store := &fakeStore{rows: []*event.Event{sampleEvent("e1")}}
	svc := NewService(store, time.Minute, false)
	e, err := svc.GetByID(context.Background(), "acme", "e1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "e1", e.EventID)
}
