// Command siem-api serves the external HTTP interface (C11): event
// ingest/search, health, and rule-pack deployment. Grounded on the
// teacher's cmd/gateway/main.go wiring shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iff-guardian/siem-platform/internal/api"
	"github.com/iff-guardian/siem-platform/internal/config"
	"github.com/iff-guardian/siem-platform/internal/enrichment"
	"github.com/iff-guardian/siem-platform/internal/event"
	"github.com/iff-guardian/siem-platform/internal/health"
	"github.com/iff-guardian/siem-platform/internal/metrics"
	"github.com/iff-guardian/siem-platform/internal/parser"
	"github.com/iff-guardian/siem-platform/internal/rulepack"
	"github.com/iff-guardian/siem-platform/internal/search"
	"github.com/iff-guardian/siem-platform/pkg/bus"
	"github.com/iff-guardian/siem-platform/pkg/chclient"
	"github.com/iff-guardian/siem-platform/pkg/kv"
	"github.com/iff-guardian/siem-platform/pkg/logger"
	pkgmetrics "github.com/iff-guardian/siem-platform/pkg/metrics"
)

func main() {
	cfg, err := config.Load("siem-api")
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	zcfg := zap.NewProductionConfig()
	if !cfg.IsProduction() {
		zcfg.Development = true
		zcfg.Encoding = "console"
	}
	zapLog, err := zcfg.Build()
	if err != nil {
		log.Fatal("failed to build logger:", err)
	}
	sugar := zapLog.Sugar().With("service", cfg.ServiceName)

	metricsCollector := pkgmetrics.NewCollector(cfg.ServiceName)
	dom := metrics.NewDomain(prometheus.DefaultRegisterer)

	ch := chclient.New(cfg.Columnar.URL, cfg.Columnar.Database, 10*time.Second)
	searchSvc := search.NewService(ch, cfg.SearchCacheTTL(), cfg.Search.RegexEnabled)

	var kvClient *kv.Client
	if cfg.KV.URL != "" {
		kvClient, err = kv.New(cfg.KV.URL)
		if err != nil {
			sugar.Errorw("failed to connect to kv store, rule-pack idempotency/locking degraded", "error", err)
		}
	}

	var rpStore rulepack.Store
	if cfg.RulePackDB.DSN != "" {
		rpStore, err = rulepack.NewPostgresStore(context.Background(), cfg.RulePackDB.DSN)
		if err != nil {
			sugar.Fatalw("failed to connect to rule-pack database", "error", err)
		}
	}

	var uploader *rulepack.Uploader
	var planner *rulepack.Planner
	var applier *rulepack.Applier
	if rpStore != nil {
		uploader = rulepack.NewUploader(rpStore)
		planner = rulepack.NewPlanner(rpStore)
		applier = rulepack.NewApplier(rpStore, kvClient)
	}

	var producer *bus.Producer
	if cfg.Bus.Brokers != "" {
		producer, err = bus.NewProducer(cfg.Bus.Brokers, cfg.Bus.Topic)
		if err != nil {
			sugar.Errorw("failed to create bus producer, ingest endpoints will fail", "error", err)
		}
	}

	scheduler := health.NewScheduler(cfg.HealthCheckInterval(),
		&health.ColumnarStoreProbe{Client: ch},
		&health.KVStreamProbe{Client: kvClient},
		&health.MessageBusProbe{Producer: producer},
		&health.SelfProbe{URL: fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", cfg.Port)},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	devIngest := buildDevIngestFunc(cfg, sugar)

	srv := api.NewServer(cfg, searchSvc, scheduler, planner, uploader, applier, producer, devIngest, dom)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkgmetrics.Middleware(cfg.ServiceName, metricsCollector))
	router.GET("/metrics", pkgmetrics.HandlerFunc())

	apiGroup := router.Group("/api/v1")
	srv.RegisterRoutes(apiGroup)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		sugar.Infow("siem-api starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("failed to start server", "error", err)
		}
	}()

	config.WatchTunables(cfg, logger.New(cfg.LogLevel, cfg.ServiceName), func(updated *config.Config) {
		sugar.Infow("configuration tunables reloaded",
			"batch_size", updated.Batch.Size, "batch_timeout_ms", updated.Batch.TimeoutMs,
			"search_cache_ttl_secs", updated.Search.CacheTTLSecs, "health_check_interval_secs", updated.Health.CheckIntervalSecs)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down siem-api")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("server forced to shutdown", "error", err)
	}
}

// buildDevIngestFunc wires the synchronous dev-injection path
// (SPEC_FULL.md §C.2): run a raw envelope through parse/enrich without a
// live broker, for local testing. Only mounted by api.RegisterRoutes when
// cfg.Environment != production.
func buildDevIngestFunc(cfg *config.Config, log *zap.SugaredLogger) api.IngestFunc {
	registry := parser.NewRegistry()
	caches := enrichment.NewCaches()

	return func(raw []byte) (*api.IngestOutcome, error) {
		var env struct {
			EventID        string `json:"event_id"`
			TenantID       string `json:"tenant_id"`
			EventTimestamp uint32 `json:"event_timestamp"`
			SourceIP       string `json:"source_ip"`
			SourceType     string `json:"source_type"`
			RawEvent       string `json:"raw_event"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if env.EventID == "" {
			env.EventID = event.NewID()
		}

		binding, _ := caches.Binding(env.SourceIP)
		result := registry.Dispatch(env.TenantID, binding, env.RawEvent)

		base := &event.Event{
			EventID:            env.EventID,
			TenantID:           env.TenantID,
			EventTimestamp:     env.EventTimestamp,
			IngestionTimestamp: event.IngestionTimestampNow(),
			SourceIP:           env.SourceIP,
			SourceType:         result.SourceTypeUsed,
			RawEvent:           env.RawEvent,
		}
		e := event.Fold(base, result.Parsed)

		category, outcome, action := caches.MatchTaxonomy(e.TenantID, e.SourceType, e.RawEvent, e.SourceIP)
		e.EventCategory = category
		e.EventOutcome = outcome
		e.EventAction = action
		if caches.IsThreat(e.SourceIP) {
			e.IsThreat = 1
		}

		log.Debugw("dev ingest processed event", "event_id", e.EventID, "tenant_id", e.TenantID)
		return &api.IngestOutcome{Event: e}, nil
	}
}
