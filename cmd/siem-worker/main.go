// Command siem-worker runs the ingestion worker (C4): consume the event
// bus, enrich, batch, and write each batch to the ColumnarStore
// destination. The other configured destinations are registered with the
// storage manager but the worker's flush does not write to them.
// Grounded on the teacher's cmd/gateway/main.go wiring shape (config.Load,
// structured logger, metrics, graceful shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iff-guardian/siem-platform/internal/config"
	"github.com/iff-guardian/siem-platform/internal/enrichment"
	"github.com/iff-guardian/siem-platform/internal/ingest"
	"github.com/iff-guardian/siem-platform/internal/metrics"
	"github.com/iff-guardian/siem-platform/internal/parser"
	"github.com/iff-guardian/siem-platform/internal/storage"
	"github.com/iff-guardian/siem-platform/pkg/blobstore"
	"github.com/iff-guardian/siem-platform/pkg/bus"
	"github.com/iff-guardian/siem-platform/pkg/chclient"
	"github.com/iff-guardian/siem-platform/pkg/kv"
)

func main() {
	cfg, err := config.Load("siem-worker")
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

	dom := metrics.NewDomain(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := storage.NewManager()
	registerDestinations(ctx, cfg, mgr, sugar)

	consumer, err := bus.NewConsumer(bus.ConsumerConfig{
		Brokers: cfg.Bus.Brokers,
		GroupID: cfg.Bus.GroupID,
		Topic:   cfg.Bus.Topic,
	})
	if err != nil {
		sugar.Fatalw("failed to create bus consumer", "error", err)
	}

	registry := parser.NewRegistry()
	caches := enrichment.NewCaches()

	refresher := enrichment.NewRefresher(caches, enrichment.Sources{
		LogSourcesURL:    os.Getenv("LOG_SOURCES_URL"),
		TaxonomyURL:      os.Getenv("TAXONOMY_URL"),
		CustomParsersURL: os.Getenv("CUSTOM_PARSERS_URL"),
		ThreatSetURL:     os.Getenv("THREAT_SET_URL"),
	}, time.Minute, sugar)
	go refresher.Run(ctx)

	worker := ingest.NewWorker(consumer, registry, caches, mgr, dom, ingest.Config{
		BatchSize:    cfg.Batch.Size,
		BatchTimeout: cfg.BatchTimeout(),
	}, sugar)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		sugar.Infow("serving metrics", "port", cfg.Port)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), mux); err != nil {
			sugar.Errorw("metrics server stopped", "error", err)
		}
	}()

	go func() {
		sugar.Infow("ingestion worker starting", "topic", cfg.Bus.Topic, "group_id", cfg.Bus.GroupID)
		if err := worker.Run(ctx); err != nil {
			sugar.Errorw("ingestion worker stopped with error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down ingestion worker")
	cancel()
	_ = consumer.Close()
	mgr.CloseAll()
}

// registerDestinations wires the columnar, KV/stream, blob-store and HTTP
// destinations (spec §4.4); a destination whose required config is absent
// is simply skipped. The message-bus and file destinations are not
// registered here.
func registerDestinations(ctx context.Context, cfg *config.Config, mgr *storage.Manager, log *zap.SugaredLogger) {
	if cfg.Columnar.URL != "" {
		ch := chclient.New(cfg.Columnar.URL, cfg.Columnar.Database, 10*time.Second)
		dest, err := storage.NewColumnarDestination(ch, cfg.Columnar.EventsTable)
		if err != nil {
			log.Errorw("failed to configure columnar destination", "error", err)
		} else {
			mgr.Register(dest)
		}
	}

	if cfg.KV.URL != "" {
		kvClient, err := kv.New(cfg.KV.URL)
		if err != nil {
			log.Errorw("failed to configure kv client", "error", err)
		} else {
			mgr.Register(storage.NewKVStreamDestination(kvClient, time.Hour, 10000))
		}
	}

	if cfg.BlobStore.Bucket != "" {
		blobClient, err := blobstore.New(ctx, cfg.BlobStore.Region, cfg.BlobStore.Bucket, cfg.BlobStore.Endpoint)
		if err != nil {
			log.Errorw("failed to configure blob store destination", "error", err)
		} else {
			mgr.Register(storage.NewBlobDestination(blobClient, cfg.BlobStore.Prefix))
		}
	}

	if cfg.HTTPDest.URL != "" {
		mgr.Register(storage.NewHTTPDestination("HTTPDest", cfg.HTTPDest.URL, cfg.HTTPDest.Method, nil, cfg.HTTPDest.RatePerSec))
	}
}
