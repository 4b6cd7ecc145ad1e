// Package metrics defines the domain counters/gauges/histograms (C9) that
// the ingestion, storage, search, health, and rule-pack components record
// against, separate from the ambient HTTP request metrics in pkg/metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Domain holds every Prometheus collector the pipeline's components share.
// It is constructed once per process and threaded into each component.
type Domain struct {
	EventsIngestedTotal   *prometheus.CounterVec
	ParseFailuresTotal    *prometheus.CounterVec
	EnrichmentCacheHits   *prometheus.CounterVec
	EnrichmentCacheMisses *prometheus.CounterVec
	StorageErrorsTotal    *prometheus.CounterVec
	StorageBytesTotal     *prometheus.CounterVec
	StorageDurationMs     *prometheus.HistogramVec

	SearchTotalQueries  prometheus.Counter
	SearchCacheHits     prometheus.Counter
	SearchCacheMisses   prometheus.Counter
	SearchFailedQueries prometheus.Counter
	SearchDurationMs    prometheus.Histogram

	HealthComponentStatus *prometheus.GaugeVec

	RulePackApplyTotal   *prometheus.CounterVec
	RulePackRollbackTotal *prometheus.CounterVec
}

// NewDomain builds and registers every domain collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across test runs.
func NewDomain(reg prometheus.Registerer) *Domain {
	d := &Domain{
		EventsIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_events_ingested_total",
			Help: "Total events successfully ingested, by tenant and source_type_used.",
		}, []string{"tenant", "source_type"}),
		ParseFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_parse_failures_total",
			Help: "Total messages dropped for an envelope decode or mandatory-field error, by tenant.",
		}, []string{"tenant"}),
		EnrichmentCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_enrichment_cache_hits_total",
			Help: "Enrichment lookups served from cache, by cache kind.",
		}, []string{"cache"}),
		EnrichmentCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_enrichment_cache_misses_total",
			Help: "Enrichment lookups with no match, by cache kind.",
		}, []string{"cache"}),
		StorageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_storage_errors_total",
			Help: "Storage write failures, by destination.",
		}, []string{"destination"}),
		StorageBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_storage_bytes_total",
			Help: "Bytes successfully written, by destination.",
		}, []string{"destination"}),
		StorageDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siem_storage_duration_milliseconds",
			Help:    "Storage write latency, by destination.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"destination"}),
		SearchTotalQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siem_search_total_queries",
			Help: "Total search requests handled.",
		}),
		SearchCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siem_search_cache_hits_total",
			Help: "Search requests served from the fingerprint cache.",
		}),
		SearchCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siem_search_cache_misses_total",
			Help: "Search requests that executed against the store.",
		}),
		SearchFailedQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siem_search_failed_queries_total",
			Help: "Search requests that errored before returning a response.",
		}),
		SearchDurationMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siem_search_duration_milliseconds",
			Help:    "Search request latency.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		HealthComponentStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siem_health_component_status",
			Help: "Last probe outcome per component: 0=Healthy 1=Degraded 2=Unhealthy 3=Unknown -1=NotConfigured.",
		}, []string{"component"}),
		RulePackApplyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_rulepack_apply_total",
			Help: "Rule-pack apply operations, by tenant and outcome.",
		}, []string{"tenant", "outcome"}),
		RulePackRollbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_rulepack_rollback_total",
			Help: "Rule-pack rollback operations, by tenant.",
		}, []string{"tenant"}),
	}

	reg.MustRegister(
		d.EventsIngestedTotal, d.ParseFailuresTotal,
		d.EnrichmentCacheHits, d.EnrichmentCacheMisses,
		d.StorageErrorsTotal, d.StorageBytesTotal, d.StorageDurationMs,
		d.SearchTotalQueries, d.SearchCacheHits, d.SearchCacheMisses,
		d.SearchFailedQueries, d.SearchDurationMs,
		d.HealthComponentStatus,
		d.RulePackApplyTotal, d.RulePackRollbackTotal,
	)
	return d
}

// StatusGaugeValue maps a health.Status to the gauge convention documented
// on HealthComponentStatus.
func StatusGaugeValue(status string) float64 {
	switch status {
	case "Healthy":
		return 0
	case "Degraded":
		return 1
	case "Unhealthy":
		return 2
	case "Unknown":
		return 3
	case "NotConfigured":
		return -1
	default:
		return 3
	}
}
