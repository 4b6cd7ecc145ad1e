// Package config loads the pipeline's runtime configuration: mandatory
// settings from environment variables (spec §6), with an optional YAML
// overlay for the tunables that are safe to hot-reload (batch sizing,
// cache TTLs, health check interval). Modeled on the teacher's
// pkg/config, split into a typed struct and getEnv/getIntEnv helpers
// rather than viper-unmarshalled env binding, because the destination
// config here is a discriminated union viper can't express cleanly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/iff-guardian/siem-platform/pkg/logger"
)

// Config is the fully resolved runtime configuration for any of the
// three entrypoints (siem-worker, siem-api, siem-loadgen).
type Config struct {
	ServiceName string
	Environment string
	Port        int
	LogLevel    string

	Bus        BusConfig
	Columnar   ColumnarConfig
	KV         KVConfig
	BlobStore  BlobStoreConfig
	HTTPDest   HTTPDestConfig
	RulePackDB RulePackDBConfig

	Batch  BatchConfig
	Search SearchConfig
	Health HealthConfig
}

// BusConfig configures the Kafka consumer/producer (C4/C5).
type BusConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

// ColumnarConfig configures the ClickHouse-shaped columnar store (C5/C7).
type ColumnarConfig struct {
	URL        string
	Database   string
	Table      string
	EventsTable string
}

// KVConfig configures the Redis-backed KV/stream destination, search
// cache, idempotency cache, and distributed lock.
type KVConfig struct {
	URL string
}

// BlobStoreConfig configures the S3-shaped archival destination.
type BlobStoreConfig struct {
	Region   string
	Bucket   string
	Endpoint string
	Prefix   string
}

// HTTPDestConfig configures the outbound webhook destination.
type HTTPDestConfig struct {
	URL          string
	Method       string
	RatePerSec   float64
}

// RulePackDBConfig configures the Postgres-backed rule-pack metadata store.
type RulePackDBConfig struct {
	DSN string
}

// BatchConfig controls ingestion batching (hot-reloadable).
type BatchConfig struct {
	Size        int
	TimeoutMs   int
}

// SearchConfig controls the query/search cache defaults (hot-reloadable).
type SearchConfig struct {
	CacheTTLSecs   int
	RegexEnabled   bool
}

// HealthConfig controls the health scheduler cadence (hot-reloadable).
type HealthConfig struct {
	CheckIntervalSecs int
}

// ConfigError wraps a fatal configuration problem, surfaced as exit code 1
// (spec §6, §7).
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Load resolves Config from environment variables, optionally overlaid by
// ./config/<environment>.yaml or ./config/config.yaml if present.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		ServiceName: serviceName,
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getIntEnv("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Bus: BusConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_TOPIC", "siem.events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "siem-ingest"),
		},
		Columnar: ColumnarConfig{
			URL:         getEnv("CLICKHOUSE_URL", ""),
			Database:    getEnv("CLICKHOUSE_DB", "siem"),
			Table:       getEnv("CLICKHOUSE_TABLE", "events"),
			EventsTable: getEnv("EVENTS_TABLE_NAME", "events"),
		},
		KV: KVConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		BlobStore: BlobStoreConfig{
			Region:   getEnv("BLOBSTORE_REGION", "us-east-1"),
			Bucket:   getEnv("BLOBSTORE_BUCKET", ""),
			Endpoint: getEnv("BLOBSTORE_ENDPOINT_URL", ""),
			Prefix:   getEnv("BLOBSTORE_PREFIX", "events/"),
		},
		HTTPDest: HTTPDestConfig{
			URL:        getEnv("API_URL", ""),
			Method:     getEnv("HTTPDEST_METHOD", "POST"),
			RatePerSec: getFloatEnv("HTTPDEST_RATE_PER_SEC", 50.0),
		},
		RulePackDB: RulePackDBConfig{
			DSN: getEnv("RULEPACK_DATABASE_URL", ""),
		},
		Batch: BatchConfig{
			Size:      getIntEnv("BATCH_SIZE", 500),
			TimeoutMs: getIntEnv("BATCH_TIMEOUT_MS", 2000),
		},
		Search: SearchConfig{
			CacheTTLSecs: getIntEnv("SEARCH_CACHE_TTL_SECS", 30),
			RegexEnabled: getBoolEnv("SEARCH_REGEX_ENABLED", false),
		},
		Health: HealthConfig{
			CheckIntervalSecs: getIntEnv("HEALTH_CHECK_INTERVAL_SECS", 30),
		},
	}

	applyYAMLOverlay(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyYAMLOverlay loads ./config/<env>.yaml or ./config/config.yaml, if
// present, and overwrites only the hot-reloadable tunables. Missing files
// are not an error: env vars and defaults remain in effect.
func applyYAMLOverlay(cfg *Config) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetConfigName(cfg.Environment)

	if err := v.ReadInConfig(); err != nil {
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			return
		}
	}

	readTunables(v, cfg)
}

func readTunables(v *viper.Viper, cfg *Config) {
	if v.IsSet("batch.size") {
		cfg.Batch.Size = v.GetInt("batch.size")
	}
	if v.IsSet("batch.timeout_ms") {
		cfg.Batch.TimeoutMs = v.GetInt("batch.timeout_ms")
	}
	if v.IsSet("search.cache_ttl_secs") {
		cfg.Search.CacheTTLSecs = v.GetInt("search.cache_ttl_secs")
	}
	if v.IsSet("health.check_interval_secs") {
		cfg.Health.CheckIntervalSecs = v.GetInt("health.check_interval_secs")
	}
}

// WatchTunables starts an fsnotify watch on the active viper config file
// and invokes onChange whenever the hot-reloadable fields change. Identity
// fields (brokers, URLs, credentials) are never touched by this path —
// changing them requires a process restart.
func WatchTunables(cfg *Config, log logger.Logger, onChange func(*Config)) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetConfigName(cfg.Environment)
	if err := v.ReadInConfig(); err != nil {
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			return
		}
	}

	var mu sync.Mutex
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		readTunables(v, cfg)
		log.Info("config hot-reloaded", "file", e.Name)
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
}

func validate(cfg *Config) error {
	if cfg.Bus.Brokers == "" {
		return &ConfigError{Field: "KAFKA_BROKERS", Msg: "required"}
	}
	if cfg.Columnar.URL == "" {
		return &ConfigError{Field: "CLICKHOUSE_URL", Msg: "required"}
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return &ConfigError{Field: "PORT", Msg: "must be between 1 and 65535"}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Batch.TimeoutMs) * time.Millisecond
}

func (c *Config) SearchCacheTTL() time.Duration {
	return time.Duration(c.Search.CacheTTLSecs) * time.Second
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Health.CheckIntervalSecs) * time.Second
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
