package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/garrettladley/hookgate/internal/db"
	"github.com/garrettladley/hookgate/internal/dedup"
	"github.com/garrettladley/hookgate/internal/ratelimit"
	xredis "github.com/garrettladley/hookgate/internal/redis"
	"github.com/garrettladley/hookgate/internal/server"
	"github.com/garrettladley/hookgate/internal/storage"
	"github.com/garrettladley/hookgate/internal/webhook"
	"github.com/garrettladley/hookgate/internal/webhook/stripe"
	"github.com/garrettladley/hookgate/internal/xslog"
)

const (
	keyPort        = "port"
	keyGracePeriod = "grace_period"
	keyMigrations  = "migrations"

	shutdownGracePeriod = 10 * time.Second
	shutdownTimeout     = 30 * time.Second
)

func main() {
	_ = godotenv.Load()

	logger := xslog.NewLoggerFromEnv(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", xslog.Error(err))
		os.Exit(1)
	}
}

// resources holds connections shared by the stores; nil when unused.
type resources struct {
	redis    *redis.Client
	postgres *pgxpool.Pool
	sqlite   *sql.DB
}

func (r *resources) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.postgres != nil {
		r.postgres.Close()
	}
	if r.sqlite != nil {
		_ = r.sqlite.Close()
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := server.ReadConfig()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	for _, w := range cfg.Warnings() {
		logger.WarnContext(ctx, w)
	}

	res, err := initResources(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer res.Close()

	rateStore, err := initRateStore(ctx, cfg, res, logger)
	if err != nil {
		return err
	}
	if closer, ok := rateStore.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	limiter, err := ratelimit.NewLimiter(rateStore, ratelimit.DefaultPolicy())
	if err != nil {
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}

	events, deadLetters := initStorage(ctx, cfg, res, logger)

	dedupOpts := []dedup.Option{dedup.WithRetention(cfg.Dedup.Retention)}
	if history, ok := events.(dedup.Pruner); ok {
		dedupOpts = append(dedupOpts, dedup.WithHistory(history))
	}
	deduplicator := dedup.New(initDedupStore(ctx, cfg, res, logger), dedupOpts...)
	logger.InfoContext(ctx, "dedup ready",
		xslog.Backend(string(cfg.Dedup.Backend)),
		xslog.Retention(deduplicator.Retention()))

	recorder := storage.Recorder(events)
	stripeMux := stripe.NewMux()
	stripeMux.On(recorder, stripe.SubscribedTypes()...)

	upstream, err := server.NewUpstream(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("failed to build upstream proxy: %w", err)
	}

	handler, err := server.NewHandler(server.Deps{
		Config:  cfg,
		Logger:  logger,
		Limiter: limiter,
		Router: webhook.NewRouter(webhook.Config{
			Limiter:      limiter,
			Deduplicator: deduplicator,
			DeadLetters:  deadLetters,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Timeout:      cfg.RequestTimeout,
		}),
		Stripe:   stripeMux,
		Meta:     recorder,
		Custom:   recorder,
		Upstream: upstream,
		Health:   healthChecks(res),
	})
	if err != nil {
		return fmt.Errorf("failed to build routes: %w", err)
	}

	coordinator := server.NewShutdownCoordinator(shutdownGracePeriod)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return coordinator.BaseContext()
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "starting server", slog.String(keyPort, cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return deduplicator.RunRetention(gctx, cfg.Dedup.PruneInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.InfoContext(ctx, "shutting down server",
			slog.Duration(keyGracePeriod, shutdownGracePeriod))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := coordinator.Shutdown(shutdownCtx, httpServer); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.InfoContext(ctx, "server stopped")
	return nil
}

func initResources(ctx context.Context, cfg server.Config, logger *slog.Logger) (*resources, error) {
	res := &resources{}

	if cfg.Redis.URL != "" {
		logger.InfoContext(ctx, "connecting to redis")
		client, err := xredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis client: %w", err)
		}
		res.redis = client
	}

	if cfg.Dedup.Backend == server.BackendPostgres || cfg.Storage.Backend == server.BackendPostgres {
		logger.InfoContext(ctx, "connecting to postgres")
		pool, applied, err := db.ConnectPostgres(ctx, cfg.Database.URL)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		logger.InfoContext(ctx, "postgres ready", slog.Any(keyMigrations, applied))
		res.postgres = pool
	}

	if cfg.Dedup.Backend == server.BackendSQLite {
		logger.InfoContext(ctx, "opening sqlite", slog.String("path", cfg.Dedup.SQLitePath))
		sqlDB, applied, err := db.OpenSQLite(ctx, cfg.Dedup.SQLitePath)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to initialize sqlite: %w", err)
		}
		logger.InfoContext(ctx, "sqlite ready", slog.Any(keyMigrations, applied))
		res.sqlite = sqlDB
	}

	return res, nil
}

func initRateStore(ctx context.Context, cfg server.Config, res *resources, logger *slog.Logger) (ratelimit.Store, error) {
	logger.InfoContext(ctx, "initializing rate limit store", xslog.Backend(string(cfg.RateLimit.Backend)))
	switch cfg.RateLimit.Backend {
	case server.BackendRedis:
		return ratelimit.NewRedisStore(res.redis), nil
	case server.BackendMemory:
		return ratelimit.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.RateLimit.Backend)
	}
}

func initDedupStore(ctx context.Context, cfg server.Config, res *resources, logger *slog.Logger) dedup.Store {
	logger.InfoContext(ctx, "initializing dedup store", xslog.Backend(string(cfg.Dedup.Backend)))
	switch cfg.Dedup.Backend {
	case server.BackendRedis:
		return dedup.NewRedisStore(res.redis)
	case server.BackendPostgres:
		return dedup.NewPostgresStore(res.postgres)
	case server.BackendSQLite:
		return dedup.NewSQLiteStore(res.sqlite)
	default:
		return dedup.NewMemoryStore()
	}
}

func initStorage(ctx context.Context, cfg server.Config, res *resources, logger *slog.Logger) (storage.EventStore, storage.DeadLetterStore) {
	logger.InfoContext(ctx, "initializing event storage", xslog.Backend(string(cfg.Storage.Backend)))
	if cfg.Storage.Backend == server.BackendPostgres {
		return storage.NewPostgresEventStore(res.postgres, res.redis), storage.NewPostgresDeadLetterStore(res.postgres)
	}
	return storage.NewMemoryEventStore(0), storage.NewMemoryDeadLetterStore(0)
}

func healthChecks(res *resources) []server.HealthCheck {
	var checks []server.HealthCheck
	if res.redis != nil {
		checks = append(checks, server.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return res.redis.Ping(ctx).Err()
		}})
	}
	if res.postgres != nil {
		checks = append(checks, server.HealthCheck{Name: "postgres", Check: res.postgres.Ping})
	}
	if res.sqlite != nil {
		checks = append(checks, server.HealthCheck{Name: "sqlite", Check: res.sqlite.PingContext})
	}
	return checks
}
