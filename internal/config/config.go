package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Lux Analytics service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Privacy    PrivacyConfig
	Ingest     IngestConfig
	Rollup     RollupConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional high-volume raw event store.
// When disabled, raw events live in PostgreSQL alongside the other tables.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
	MaxConns int
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	IngestRPS   float64
	IngestBurst int
	QueryRPS    float64
	QueryBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP country enrichment at ingestion.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// PrivacyConfig holds the salt for one-way PII hashing.
type PrivacyConfig struct {
	HashSalt string
}

// IngestConfig bounds inbound event payloads and store calls.
type IngestConfig struct {
	MaxPayloadBytes int64
	StoreTimeout    time.Duration
}

// RollupConfig controls the daily aggregation scheduler.
type RollupConfig struct {
	ScheduleEnabled bool
	Interval        time.Duration
	LockTTL         time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LUX_ANALYTICS_HTTP_ADDR", ":8080"),
			Env:             getEnv("LUX_ANALYTICS_ENV", "development"),
			ShutdownTimeout: getDurationEnv("LUX_ANALYTICS_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("LUX_ANALYTICS_DB_HOST", "localhost"),
			Port:     getIntEnv("LUX_ANALYTICS_DB_PORT", 5432),
			User:     getEnv("LUX_ANALYTICS_DB_USER", "luxanalytics"),
			Password: getEnv("LUX_ANALYTICS_DB_PASSWORD", "luxanalytics_secret"),
			DBName:   getEnv("LUX_ANALYTICS_DB_NAME", "luxanalytics"),
			SSLMode:  getEnv("LUX_ANALYTICS_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LUX_ANALYTICS_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("LUX_ANALYTICS_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("LUX_ANALYTICS_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("LUX_ANALYTICS_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LUX_ANALYTICS_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("LUX_ANALYTICS_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("LUX_ANALYTICS_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("LUX_ANALYTICS_CLICKHOUSE_DB", "luxanalytics"),
			User:     getEnv("LUX_ANALYTICS_CLICKHOUSE_USER", "default"),
			Password: getEnv("LUX_ANALYTICS_CLICKHOUSE_PASSWORD", ""),
			MaxConns: getIntEnv("LUX_ANALYTICS_CLICKHOUSE_MAX_CONNS", 10),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("LUX_ANALYTICS_AUTH_ENABLED", true),
			MasterKey: getEnv("LUX_ANALYTICS_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("LUX_ANALYTICS_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/v1/events"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("LUX_ANALYTICS_RATE_LIMIT_ENABLED", true),
			IngestRPS:   getFloatEnv("LUX_ANALYTICS_RATE_LIMIT_INGEST_RPS", 1000),
			IngestBurst: getIntEnv("LUX_ANALYTICS_RATE_LIMIT_INGEST_BURST", 200),
			QueryRPS:    getFloatEnv("LUX_ANALYTICS_RATE_LIMIT_QUERY_RPS", 100),
			QueryBurst:  getIntEnv("LUX_ANALYTICS_RATE_LIMIT_QUERY_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("LUX_ANALYTICS_LOG_LEVEL", "info"),
			Format: getEnv("LUX_ANALYTICS_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LUX_ANALYTICS_METRICS_ENABLED", true),
			Path:    getEnv("LUX_ANALYTICS_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("LUX_ANALYTICS_GEO_ENABLED", false),
			DatabasePath: getEnv("LUX_ANALYTICS_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Privacy: PrivacyConfig{
			HashSalt: getEnv("LUX_ANALYTICS_HASH_SALT", ""),
		},
		Ingest: IngestConfig{
			MaxPayloadBytes: int64(getIntEnv("LUX_ANALYTICS_INGEST_MAX_BYTES", 64*1024)),
			StoreTimeout:    getDurationEnv("LUX_ANALYTICS_INGEST_STORE_TIMEOUT", 5*time.Second),
		},
		Rollup: RollupConfig{
			ScheduleEnabled: getBoolEnv("LUX_ANALYTICS_ROLLUP_SCHEDULE_ENABLED", true),
			Interval:        getDurationEnv("LUX_ANALYTICS_ROLLUP_INTERVAL", time.Hour),
			LockTTL:         getDurationEnv("LUX_ANALYTICS_ROLLUP_LOCK_TTL", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("LUX_ANALYTICS_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Privacy.HashSalt == "" && c.IsProduction() {
		return fmt.Errorf("LUX_ANALYTICS_HASH_SALT is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
