package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/iff-guardian/siem-platform/pkg/bus"
	"github.com/iff-guardian/siem-platform/pkg/chclient"
	"github.com/iff-guardian/siem-platform/pkg/kv"
)

func durationMs(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// ColumnarStoreProbe implements spec §4.7's two-phase columnar check:
// GET /ping then POST "SELECT 1".
type ColumnarStoreProbe struct {
	Client  *chclient.Client
	Timeout time.Duration
}

func (p *ColumnarStoreProbe) Name() string { return "ColumnarStore" }

func (p *ColumnarStoreProbe) Check(ctx context.Context) Component {
	if p.Client == nil {
		return Component{Name: p.Name(), Status: StatusNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(p.Timeout, time.Second))
	defer cancel()

	start := time.Now()
	if err := p.Client.Ping(ctx); err != nil {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: err.Error(), ResponseTimeMs: durationMs(time.Since(start))}
	}
	if err := p.Client.SelectOne(ctx); err != nil {
		return Component{Name: p.Name(), Status: StatusDegraded, Message: err.Error(), ResponseTimeMs: durationMs(time.Since(start))}
	}
	return Component{Name: p.Name(), Status: StatusHealthy, ResponseTimeMs: durationMs(time.Since(start))}
}

// KVStreamProbe implements the PING → PONG check against Redis.
type KVStreamProbe struct {
	Client  *kv.Client
	Timeout time.Duration
}

func (p *KVStreamProbe) Name() string { return "KVStream" }

func (p *KVStreamProbe) Check(ctx context.Context) Component {
	if p.Client == nil {
		return Component{Name: p.Name(), Status: StatusNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(p.Timeout, 800*time.Millisecond))
	defer cancel()

	start := time.Now()
	if err := p.Client.HealthCheck(ctx); err != nil {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: err.Error(), ResponseTimeMs: durationMs(time.Since(start))}
	}
	return Component{Name: p.Name(), Status: StatusHealthy, ResponseTimeMs: durationMs(time.Since(start))}
}

// MessageBusProbe checks that a metadata fetch succeeds within timeout.
type MessageBusProbe struct {
	Producer *bus.Producer
	Timeout  time.Duration
}

func (p *MessageBusProbe) Name() string { return "MessageBus" }

func (p *MessageBusProbe) Check(ctx context.Context) Component {
	if p.Producer == nil {
		return Component{Name: p.Name(), Status: StatusNotConfigured}
	}
	timeout := timeoutOr(p.Timeout, 2*time.Second)
	start := time.Now()
	if err := p.Producer.FetchMetadataHealth(timeout); err != nil {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: err.Error(), ResponseTimeMs: durationMs(time.Since(start))}
	}
	return Component{Name: p.Name(), Status: StatusHealthy, ResponseTimeMs: durationMs(time.Since(start))}
}

// ObservabilityExporterProbe checks GET health_url returns 2xx.
type ObservabilityExporterProbe struct {
	HealthURL string
	Client    *http.Client
	Timeout   time.Duration
}

func (p *ObservabilityExporterProbe) Name() string { return "Observability-exporter" }

func (p *ObservabilityExporterProbe) Check(ctx context.Context) Component {
	if p.HealthURL == "" {
		return Component{Name: p.Name(), Status: StatusNotConfigured}
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutOr(p.Timeout, 1500*time.Millisecond))
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.HealthURL, nil)
	if err != nil {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: err.Error(), ResponseTimeMs: durationMs(time.Since(start))}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Component{
			Name: p.Name(), Status: StatusUnhealthy,
			Message:        fmt.Sprintf("unexpected status %d", resp.StatusCode),
			ResponseTimeMs: durationMs(time.Since(start)),
		}
	}
	return Component{Name: p.Name(), Status: StatusHealthy, ResponseTimeMs: durationMs(time.Since(start))}
}

// SelfProbe checks the process's own /health endpoint, exercised when the
// process exposes itself over a loopback or sidecar address.
type SelfProbe struct {
	URL    string
	Client *http.Client
}

func (p *SelfProbe) Name() string { return "Self" }

func (p *SelfProbe) Check(ctx context.Context) Component {
	if p.URL == "" {
		return Component{Name: p.Name(), Status: StatusNotConfigured}
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: err.Error(), ResponseTimeMs: durationMs(time.Since(start))}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Component{Name: p.Name(), Status: StatusUnhealthy, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode), ResponseTimeMs: durationMs(time.Since(start))}
	}
	return Component{Name: p.Name(), Status: StatusHealthy, ResponseTimeMs: durationMs(time.Since(start))}
}

func timeoutOr(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}
