package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tabula/internal/config"
	"github.com/JonMunkholm/tabula/internal/core"
	"github.com/JonMunkholm/tabula/internal/logging"
	"github.com/JonMunkholm/tabula/internal/translator"
	"github.com/JonMunkholm/tabula/internal/version"
	"github.com/JonMunkholm/tabula/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	policy, err := version.ParsePolicy(cfg.Transform.ForkPolicy)
	if err != nil {
		slog.Error("invalid fork policy", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, &cfg.Storage, version.Options{Policy: policy})
	if err != nil {
		slog.Error("failed to open version store", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	tr, err := newTranslator(&cfg.Translator)
	if err != nil {
		slog.Error("failed to configure translator", "error", err)
		os.Exit(1)
	}

	limiter := core.NewLimiter(cfg.Transform.MaxConcurrent, cfg.Transform.MaxWaitTime)
	service := core.NewService(store, tr, limiter, core.Options{
		InitialRows: cfg.Transform.PreviewInitialRows,
		ResultRows:  cfg.Transform.PreviewResultRows,
		SampleRows:  cfg.Translator.SampleRows,
	})

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Let in-flight transforms finish writing their versions.
		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for transforms to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("transforms did not complete in time", "error", err)
			} else {
				slog.Info("all transforms completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		closeStore()
		os.Exit(1)
	}
	<-done
}

// openStore builds the configured version store. The returned func releases
// everything the store holds.
func openStore(ctx context.Context, cfg *config.StorageConfig, opts version.Options) (version.Store, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	if cfg.GCSBucket != "" {
		blobs, err := version.NewGCSBlobs(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile, cfg.GCSPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open gcs bucket: %w", err)
		}
		closers = append(closers, func() { blobs.Close() })
		opts.Blobs = blobs
		slog.Info("storing payloads in cloud storage", "bucket", cfg.GCSBucket, "prefix", cfg.GCSPrefix)
	}

	switch cfg.Backend {
	case config.BackendMemory:
		slog.Warn("using in-memory version store; versions are lost on restart")
		store := version.NewMemoryStore(opts)
		closers = append(closers, func() { store.Close() })
		return store, cleanup, nil

	case config.BackendPostgres:
		pool, err := connectPostgres(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		store := version.NewPostgresStore(pool, opts)
		if err := store.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return store, cleanup, nil

	case config.BackendBadger:
		store, err := version.OpenBadgerStore(version.BadgerConfig{
			Path:           cfg.BadgerPath,
			SyncWrites:     cfg.BadgerSyncWrites,
			GCInterval:     cfg.BadgerGCInterval,
			GCDiscardRatio: 0.5,
			Logger:         slog.Default().With("component", "badger"),
		}, opts)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				slog.Error("close badger", "error", err)
			}
		})
		slog.Info("opened badger store", "path", cfg.BadgerPath)
		return store, cleanup, nil

	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func connectPostgres(ctx context.Context, cfg *config.StorageConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.DatabaseURL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

func newTranslator(cfg *config.TranslatorConfig) (translator.Translator, error) {
	if !cfg.Enabled() {
		slog.Warn("OPENAI_API_KEY not set; translate endpoints will fail with AI001")
		return translator.Unavailable, nil
	}
	return translator.NewOpenAI(translator.OpenAIConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
}
