package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iff-guardian/siem-platform/internal/parser"
)

// Sources describes where the refresher fetches each of the four caches
// from; each is a plain HTTP GET returning a JSON array, matching the
// "source endpoints" the worker polls per spec §4.1.
type Sources struct {
	LogSourcesURL string
	TaxonomyURL   string
	CustomParsersURL string
	ThreatSetURL  string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

type logSourceRow struct {
	SourceIP string `json:"source_ip"`
	ParserType string `json:"parser_type_name"`
}

type customParserRow struct {
	TenantID   string `json:"tenant_id"`
	ParserName string `json:"parser_name"`
	ParserType string `json:"parser_type"`
	Body       string `json:"body"`
}

type threatRow struct {
	IP string `json:"ip"`
}

// Refresher periodically refetches all four caches and swaps them in,
// holding the prior snapshot on any individual fetch failure.
type Refresher struct {
	caches   *Caches
	sources  Sources
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewRefresher(caches *Caches, sources Sources, interval time.Duration, log *zap.SugaredLogger) *Refresher {
	if sources.HTTPClient == nil {
		sources.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if sources.Timeout == 0 {
		sources.Timeout = 10 * time.Second
	}
	return &Refresher{caches: caches, sources: sources, interval: interval, log: log}
}

// Run blocks refreshing on a ticker until ctx is cancelled. It refreshes
// once immediately before entering the loop.
func (r *Refresher) Run(ctx context.Context) {
	r.refreshOnce(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, r.sources.Timeout)
	defer cancel()

	logSources, err := r.fetchLogSources(cctx)
	if err != nil {
		r.log.Warnw("enrichment refresh: log-source cache fetch failed, keeping prior cache", "error", err)
		logSources = r.caches.Snapshot().LogSources
	}

	taxonomy, err := r.fetchTaxonomy(cctx)
	if err != nil {
		r.log.Warnw("enrichment refresh: taxonomy cache fetch failed, keeping prior cache", "error", err)
		taxonomy = r.caches.Snapshot().Taxonomy
	}

	custom, err := r.fetchCustomParsers(cctx)
	if err != nil {
		r.log.Warnw("enrichment refresh: custom parser cache fetch failed, keeping prior cache", "error", err)
		custom = r.caches.Snapshot().Custom
	}

	threatIndicators, err := r.fetchThreatSet(cctx)
	if err != nil {
		r.log.Warnw("enrichment refresh: threat-set fetch failed, keeping prior cache", "error", err)
		prior := r.caches.Snapshot().ThreatSet
		threatIndicators = make([]string, 0, len(prior))
		for ip := range prior {
			threatIndicators = append(threatIndicators, ip)
		}
	}

	r.caches.Swap(logSources, taxonomy, custom, threatIndicators)
}

func (r *Refresher) fetchLogSources(ctx context.Context) (map[string]string, error) {
	if r.sources.LogSourcesURL == "" {
		return map[string]string{}, nil
	}
	var rows []logSourceRow
	if err := getJSON(ctx, r.sources.HTTPClient, r.sources.LogSourcesURL, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.SourceIP] = row.ParserType
	}
	return out, nil
}

func (r *Refresher) fetchTaxonomy(ctx context.Context) ([]TaxonomyRule, error) {
	if r.sources.TaxonomyURL == "" {
		return nil, nil
	}
	var rules []TaxonomyRule
	if err := getJSON(ctx, r.sources.HTTPClient, r.sources.TaxonomyURL, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *Refresher) fetchCustomParsers(ctx context.Context) ([]parser.CustomDef, error) {
	if r.sources.CustomParsersURL == "" {
		return nil, nil
	}
	var rows []customParserRow
	if err := getJSON(ctx, r.sources.HTTPClient, r.sources.CustomParsersURL, &rows); err != nil {
		return nil, err
	}
	out := make([]parser.CustomDef, len(rows))
	for i, row := range rows {
		out[i] = parser.CustomDef{
			TenantID:   row.TenantID,
			ParserName: row.ParserName,
			ParserType: row.ParserType,
			Body:       row.Body,
		}
	}
	return out, nil
}

func (r *Refresher) fetchThreatSet(ctx context.Context) ([]string, error) {
	if r.sources.ThreatSetURL == "" {
		return nil, nil
	}
	var rows []threatRow
	if err := getJSON(ctx, r.sources.HTTPClient, r.sources.ThreatSetURL, &rows); err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.IP
	}
	return out, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
