package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/wollkey/go-service-template/internal/app/migrate"
	"github.com/wollkey/go-service-template/internal/bootstrap"
	httpx "github.com/wollkey/go-service-template/internal/http"
	"github.com/wollkey/go-service-template/pkg/config"
	"github.com/wollkey/go-service-template/pkg/logger"
)

func main() {
	if err := config.LoadDotenv(".env"); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg := config.LoadServerConfig()
	log := logger.New("server", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The diagnostic run doubles as a startup smoke test: a failure here
	// means the runtime environment is broken and serving would be pointless.
	runner := bootstrap.New(cfg.DataDir, nil, nil)
	res, err := runner.Run()
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	log.Info("bootstrap complete", "file", res.File)

	probes := make(map[string]httpx.Probe)

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		mig, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := mig.Up(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		probes["database"] = pool.Ping
	}

	var cache *redis.Client
	if cfg.CacheAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.CacheAddr,
			Password: cfg.CachePassword,
			DB:       cfg.CacheDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("cache unavailable, continuing without it", "addr", cfg.CacheAddr, "error", err)
			client.Close()
		} else {
			cache = client
			defer cache.Close()
			probes["cache"] = func(ctx context.Context) error {
				return cache.Ping(ctx).Err()
			}
		}
	}

	var limiter httpx.RateLimiter
	if cache != nil {
		limiter = httpx.NewRedisRateLimiter(cache, log)
	} else {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, runner, limiter, probes, cfg.RateLimit, cfg.RateLimitWindow, cfg.ProbeTimeout)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
