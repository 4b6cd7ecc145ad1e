// Package search implements the search service (C7): builds and executes
// a query via internal/query, caches responses by request fingerprint, and
// tracks query metrics.
package search

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/internal/query"
	"github.com/iff-guardian/siem-platform/pkg/chclient"
)

// Hit is one matched document in a SearchResponse.
type Hit struct {
	ID    string       `json:"id"`
	Score *float64     `json:"score,omitempty"`
	Source *event.Event `json:"source"`
}

// Hits is the response's hits envelope.
type Hits struct {
	Total        *int  `json:"total,omitempty"`
	MaxScore     *float64 `json:"max_score,omitempty"`
	Hits         []Hit `json:"hits"`
	Page         int   `json:"page"`
	Size         int   `json:"size"`
	HasNext      bool  `json:"has_next"`
}

// Metadata is the response's metadata envelope.
type Metadata struct {
	TookMs      int64  `json:"took_ms"`
	TimedOut    bool   `json:"timed_out"`
	QueryID     string `json:"query_id"`
	TenantID    string `json:"tenant_id"`
	CacheHit    bool   `json:"cache_hit"`
	Explanation string `json:"explanation,omitempty"`
}

// Response is the search service's output (spec §4.6).
type Response struct {
	Hits         Hits                   `json:"hits"`
	Aggregations map[string]any         `json:"aggregations,omitempty"`
	Metadata     Metadata               `json:"metadata"`
}

type cacheEntry struct {
	response  Response
	createdAt time.Time
	ttl       time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// Metrics tracks the counters spec §4.6 names.
type Metrics struct {
	mu             sync.Mutex
	TotalQueries   uint64
	CacheHits      uint64
	CacheMisses    uint64
	FailedQueries  uint64
	avgQueryTimeMs float64
}

func (m *Metrics) recordQuery(elapsed time.Duration, failed, cacheHit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalQueries++
	if failed {
		m.FailedQueries++
		return
	}
	if cacheHit {
		m.CacheHits++
	} else {
		m.CacheMisses++
	}
	const alpha = 0.2
	ms := float64(elapsed.Microseconds()) / 1000.0
	if m.avgQueryTimeMs == 0 {
		m.avgQueryTimeMs = ms
	} else {
		m.avgQueryTimeMs = alpha*ms + (1-alpha)*m.avgQueryTimeMs
	}
}

func (m *Metrics) Snapshot() (total, hits, misses, failed uint64, avgMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TotalQueries, m.CacheHits, m.CacheMisses, m.FailedQueries, m.avgQueryTimeMs
}

// Store is the subset of chclient.Client the search service needs; an
// interface here keeps the service unit-testable without an HTTP server.
type Store interface {
	Query(ctx context.Context, sql string) ([]byte, error)
}

var _ Store = (*chclient.Client)(nil)

// Service implements C7.
type Service struct {
	store        Store
	defaultTTL   time.Duration
	regexEnabled bool

	mu    sync.Mutex
	cache map[string]cacheEntry

	Metrics *Metrics
}

func NewService(store Store, defaultTTL time.Duration, regexEnabled bool) *Service {
	return &Service{
		store:        store,
		defaultTTL:   defaultTTL,
		regexEnabled: regexEnabled,
		cache:        make(map[string]cacheEntry),
		Metrics:      &Metrics{},
	}
}

// Fingerprint computes a stable hash of the normalized request (spec §4.6).
func Fingerprint(req query.Request) (string, error) {
	// Canonicalize via JSON: Go's encoding/json sorts map keys, and we
	// control field order through the struct definition, so two
	// logically-identical requests always serialize identically.
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("search: fingerprint: %w", err)
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Search implements the cache-then-build-then-execute flow of spec §4.6.
func (s *Service) Search(ctx context.Context, req query.Request) (*Response, error) {
	start := time.Now()
	queryID := newQueryID()

	fp, err := Fingerprint(req)
	if err != nil {
		s.Metrics.recordQuery(time.Since(start), true, false)
		return nil, err
	}

	if req.Options.EnableCaching {
		if resp, ok := s.lookupCache(fp); ok {
			resp.Metadata.CacheHit = true
			resp.Metadata.QueryID = queryID
			s.Metrics.recordQuery(time.Since(start), false, true)
			return &resp, nil
		}
	}

	built, err := query.Build(req, query.BuildOptions{RegexEnabled: s.regexEnabled})
	if err != nil {
		s.Metrics.recordQuery(time.Since(start), true, false)
		return nil, err
	}

	raw, err := s.store.Query(ctx, built.SQL)
	if err != nil {
		s.Metrics.recordQuery(time.Since(start), true, false)
		return nil, fmt.Errorf("search: execute: %w", err)
	}

	events, err := decodeRows(raw)
	if err != nil {
		s.Metrics.recordQuery(time.Since(start), true, false)
		return nil, fmt.Errorf("search: decode rows: %w", err)
	}

	size := req.Pagination.Size
	if size <= 0 {
		size = 50
	}
	// Pages are 1-indexed throughout (matching the builder's offset
	// convention, (page-1)*size); a page below 1 is treated as page 1.
	page := req.Pagination.Page
	if page < 1 {
		page = 1
	}
	hits := make([]Hit, len(events))
	for i, e := range events {
		hits[i] = Hit{ID: e.EventID, Source: e}
	}

	resp := Response{
		Hits: Hits{
			Hits:    hits,
			Page:    page,
			Size:    size,
			HasNext: len(hits) == size,
		},
		Metadata: Metadata{
			TookMs:   time.Since(start).Milliseconds(),
			QueryID:  queryID,
			TenantID: req.TenantID,
			CacheHit: false,
		},
	}

	if req.Pagination.IncludeTotal {
		total := len(hits)
		resp.Hits.Total = &total
		resp.Hits.HasNext = page*size < total
	}

	if len(req.Aggregations) > 0 {
		aggs, err := s.runAggregations(ctx, req)
		if err != nil {
			s.Metrics.recordQuery(time.Since(start), true, false)
			return nil, err
		}
		resp.Aggregations = aggs
	}

	if req.Options.EnableCaching {
		ttl := s.defaultTTL
		if req.Options.CacheTTLSecs > 0 {
			ttl = time.Duration(req.Options.CacheTTLSecs) * time.Second
		}
		s.storeCache(fp, resp, ttl)
	}

	s.Metrics.recordQuery(time.Since(start), false, false)
	return &resp, nil
}

// runAggregations builds and executes every requested named aggregation
// (spec §4.6: "populate aggregations" on a cache miss).
func (s *Service) runAggregations(ctx context.Context, req query.Request) (map[string]any, error) {
	out := make(map[string]any, len(req.Aggregations))
	for name, aggReq := range req.Aggregations {
		built, err := query.BuildAggregation(req.TenantID, aggReq, query.BuildOptions{RegexEnabled: s.regexEnabled})
		if err != nil {
			return nil, err
		}
		raw, err := s.store.Query(ctx, built.SQL)
		if err != nil {
			return nil, fmt.Errorf("search: execute aggregation %q: %w", name, err)
		}
		rows, err := decodeAggRows(raw)
		if err != nil {
			return nil, fmt.Errorf("search: decode aggregation %q: %w", name, err)
		}
		out[name] = rows
	}
	return out, nil
}

func (s *Service) lookupCache(fp string) (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[fp]
	if !ok || entry.expired(time.Now()) {
		return Response{}, false
	}
	return entry.response, true
}

// storeCache inserts fp's entry and opportunistically sweeps expired
// entries (spec §4.6: "expired entries are removed opportunistically on
// insert").
func (s *Service) storeCache(fp string, resp Response, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.cache {
		if e.expired(now) {
			delete(s.cache, k)
		}
	}
	s.cache[fp] = cacheEntry{response: resp, createdAt: now, ttl: ttl}
}

func decodeRows(raw []byte) ([]*event.Event, error) {
	var events []*event.Event
	if err := json.Unmarshal(raw, &events); err == nil {
		return events, nil
	}
	// Fall back to JSONEachRow-style newline-delimited objects.
	events = nil
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var e event.Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, &e)
	}
	return events, nil
}

// decodeAggRows decodes an aggregation query's rows the same way
// decodeRows decodes event rows: either a JSON array or JSONEachRow-style
// newline-delimited objects, since the store is free to return either.
func decodeAggRows(raw []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	rows = nil
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func newQueryID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// GetByID executes a single-row lookup by event_id.
func (s *Service) GetByID(ctx context.Context, tenantID, eventID string) (*event.Event, error) {
	req := query.Request{
		TenantID: tenantID,
		Filters:  []query.Filter{{Field: "event_id", Op: query.OpEquals, Value: eventID}},
		Pagination: query.Pagination{Page: 0, Size: 1},
	}
	resp, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Hits.Hits) == 0 {
		return nil, nil
	}
	return resp.Hits.Hits[0].Source, nil
}
