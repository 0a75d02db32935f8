// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database (required when a postgres backend is selected)
	DatabaseURL string

	// SQLite database file (required when a sqlite backend is selected)
	SQLitePath string

	// Backends: "memory", "postgres" or "sqlite" for routes; any of those or "s3" for the cache.
	RouteBackend string
	CacheBackend string

	// Optional YAML file of routes upserted at startup
	RoutesFile string

	// S3 cache
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Auth
	JWTSecret string

	// Drive: local mirror of the shared drive (rclone mount, Drive for desktop)
	DriveMirrorPath    string
	DriveRetryAttempts int

	// Sync
	SyncTimeout      time.Duration
	FetchConcurrency int
	SyncPolicy       string // "join" or "reject"

	// Cache TTL sweeps
	CacheMaxAgeHours int
	CleanupInterval  time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:        envOr("METRICS_ADDR", ":9090"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "json"),
		DatabaseURL:        envOr("DATABASE_URL", ""),
		SQLitePath:         envOr("SQLITE_PATH", "drivecms.db"),
		RouteBackend:       envOr("ROUTE_BACKEND", "memory"),
		CacheBackend:       envOr("CACHE_BACKEND", "memory"),
		RoutesFile:         envOr("ROUTES_FILE", ""),
		S3Endpoint:         envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:           envOr("S3_BUCKET", "drivecms"),
		S3Prefix:           envOr("S3_PREFIX", "hierarchy"),
		S3AccessKey:        envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:           envOr("S3_REGION", "us-east-1"),
		S3UseSSL:           envBool("S3_USE_SSL", false),
		JWTSecret:          envOr("JWT_SECRET", ""),
		DriveMirrorPath:    envOr("DRIVE_MIRROR_PATH", "/data/drive"),
		DriveRetryAttempts: envInt("DRIVE_RETRY_ATTEMPTS", 3),
		SyncTimeout:        envDuration("SYNC_TIMEOUT", 60*time.Second),
		FetchConcurrency:   envInt("FETCH_CONCURRENCY", 4),
		SyncPolicy:         envOr("SYNC_POLICY", "join"),
		CacheMaxAgeHours:   envInt("CACHE_MAX_AGE_HOURS", 7*24),
		CleanupInterval:    envDuration("CLEANUP_INTERVAL", time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations.
func (c *Config) Validate() error {
	switch c.RouteBackend {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("ROUTE_BACKEND must be memory, postgres or sqlite, got %q", c.RouteBackend)
	}
	switch c.CacheBackend {
	case "memory", "postgres", "sqlite", "s3":
	default:
		return fmt.Errorf("CACHE_BACKEND must be memory, postgres, sqlite or s3, got %q", c.CacheBackend)
	}
	if (c.RouteBackend == "postgres" || c.CacheBackend == "postgres") && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if (c.RouteBackend == "sqlite" || c.CacheBackend == "sqlite") && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.SyncPolicy != "join" && c.SyncPolicy != "reject" {
		return fmt.Errorf("SYNC_POLICY must be join or reject, got %q", c.SyncPolicy)
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("SYNC_TIMEOUT must be positive")
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}
	if c.CacheMaxAgeHours < 1 {
		return fmt.Errorf("CACHE_MAX_AGE_HOURS must be at least 1")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
