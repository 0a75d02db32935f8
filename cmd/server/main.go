// DriveCMS Server
//
// Features:
// - Route registry mapping URL paths to shared Drive folders
// - Hierarchy synthesis with single-flight sync per route
// - Staleness tiers with silent background refresh
// - Route backends (memory, PostgreSQL, SQLite) and YAML route seeding
// - Cache backends (memory, PostgreSQL, SQLite, S3)
// - Prometheus metrics, structured logging (zap) and SSE sync events
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/api"
	"github.com/fruitsalade/drivecms/internal/auth"
	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/internal/cache/s3cache"
	"github.com/fruitsalade/drivecms/internal/config"
	"github.com/fruitsalade/drivecms/internal/drive"
	"github.com/fruitsalade/drivecms/internal/events"
	"github.com/fruitsalade/drivecms/internal/hierarchy"
	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metadata/postgres"
	"github.com/fruitsalade/drivecms/internal/metadata/sqlite"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/internal/routes"
	"github.com/fruitsalade/drivecms/internal/syncer"
	"github.com/fruitsalade/drivecms/pkg/retry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("DriveCMS server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("route_backend", cfg.RouteBackend),
		zap.String("cache_backend", cfg.CacheBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL when a backend needs it
	var metaStore *postgres.Store
	if cfg.RouteBackend == "postgres" || cfg.CacheBackend == "postgres" {
		logging.Info("connecting to PostgreSQL...")
		metaStore, err = postgres.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer metaStore.Close()

		if migrationsDir := findMigrationsDir(); migrationsDir != "" {
			logging.Info("running migrations...", zap.String("dir", migrationsDir))
			if err := metaStore.Migrate(migrationsDir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
	}

	var liteStore *sqlite.Store
	if cfg.RouteBackend == "sqlite" || cfg.CacheBackend == "sqlite" {
		logging.Info("opening SQLite...", zap.String("path", cfg.SQLitePath))
		liteStore, err = sqlite.New(cfg.SQLitePath)
		if err != nil {
			logging.Fatal("sqlite open failed", zap.Error(err))
		}
		defer liteStore.Close()
	}

	var routeStore routes.Store
	switch cfg.RouteBackend {
	case "postgres":
		routeStore = metaStore.Routes()
	case "sqlite":
		routeStore = liteStore.Routes()
	default:
		routeStore = routes.NewMemoryStore()
	}
	registry := routes.NewRegistry(routeStore)

	if cfg.RoutesFile != "" {
		seed, err := routes.LoadSeedFile(cfg.RoutesFile)
		if err != nil {
			logging.Fatal("routes file invalid", zap.String("path", cfg.RoutesFile), zap.Error(err))
		}
		if _, err := registry.Seed(ctx, seed); err != nil {
			logging.Fatal("route seeding failed", zap.Error(err))
		}
	}

	var cacheStore cache.Store
	switch cfg.CacheBackend {
	case "postgres":
		cacheStore = metaStore.Cache()
	case "sqlite":
		cacheStore = liteStore.Cache()
	case "s3":
		s3Store, err := s3cache.New(ctx, s3cache.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			logging.Fatal("S3 cache init failed", zap.Error(err))
		}
		cacheStore = s3Store
	default:
		cacheStore = cache.NewMemoryStore()
	}

	// Drive reader over the local mirror
	local, err := drive.NewLocalReader(drive.LocalConfig{RootPath: cfg.DriveMirrorPath})
	if err != nil {
		logging.Fatal("drive mirror init failed", zap.Error(err))
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.DriveRetryAttempts
	reader := drive.NewResilientReader(local, retryCfg)

	authHandler, err := auth.New(cfg.JWTSecret)
	if err != nil {
		logging.Fatal("auth init failed", zap.Error(err))
	}

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	policy, err := syncer.ParsePolicy(cfg.SyncPolicy)
	if err != nil {
		logging.Fatal("invalid sync policy", zap.Error(err))
	}
	coord := syncer.New(reader, registry, cacheStore, broadcaster, syncer.Config{
		Policy:           policy,
		Timeout:          cfg.SyncTimeout,
		FetchConcurrency: cfg.FetchConcurrency,
	})
	invalidator := cache.NewInvalidator(cacheStore, broadcaster)
	svc := hierarchy.NewService(registry, cacheStore, invalidator, coord)

	srv := api.NewServer(svc, authHandler, broadcaster, cfg.CacheMaxAgeHours)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Start periodic metrics update
	if metaStore != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metaStore.UpdateConnectionMetrics()
				}
			}
		}()
	}

	// Start periodic cache TTL sweep
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := svc.CleanupExpired(ctx, cfg.CacheMaxAgeHours); err != nil {
					logging.Error("cache cleanup failed", zap.Error(err))
				}
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
