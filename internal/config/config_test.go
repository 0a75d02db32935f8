package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.RouteBackend)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 60*time.Second, cfg.SyncTimeout)
	assert.Equal(t, "join", cfg.SyncPolicy)
	assert.Equal(t, 168, cfg.CacheMaxAgeHours)
	assert.Equal(t, "drivecms.db", cfg.SQLitePath)
	assert.Empty(t, cfg.RoutesFile)
}

func TestLoadSQLiteBackends(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ROUTE_BACKEND", "sqlite")
	t.Setenv("CACHE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/var/lib/drivecms/state.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.RouteBackend)
	assert.Equal(t, "/var/lib/drivecms/state.db", cfg.SQLitePath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SYNC_TIMEOUT", "5s")
	t.Setenv("FETCH_CONCURRENCY", "8")
	t.Setenv("CACHE_BACKEND", "s3")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("CLEANUP_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.SyncTimeout)
	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.Equal(t, "s3", cfg.CacheBackend)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"postgres without url", map[string]string{"JWT_SECRET": "s", "ROUTE_BACKEND": "postgres"}},
		{"unknown cache backend", map[string]string{"JWT_SECRET": "s", "CACHE_BACKEND": "redis"}},
		{"bad policy", map[string]string{"JWT_SECRET": "s", "SYNC_POLICY": "queue"}},
		{"zero concurrency", map[string]string{"JWT_SECRET": "s", "FETCH_CONCURRENCY": "0"}},
		{"negative cleanup interval", map[string]string{"JWT_SECRET": "s", "CLEANUP_INTERVAL": "-1m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
