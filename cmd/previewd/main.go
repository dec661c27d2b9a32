package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/splax/previewd/internal/app/migrate"
	httpx "github.com/splax/previewd/internal/http"
	"github.com/splax/previewd/internal/maintenance"
	"github.com/splax/previewd/internal/metrics"
	"github.com/splax/previewd/internal/preview"
	"github.com/splax/previewd/internal/provider"
	"github.com/splax/previewd/internal/provider/docker"
	"github.com/splax/previewd/internal/provider/remote"
	"github.com/splax/previewd/internal/repair"
	"github.com/splax/previewd/internal/repair/llm"
	"github.com/splax/previewd/internal/repository/memory"
	"github.com/splax/previewd/internal/repository/postgres"
	"github.com/splax/previewd/internal/session"
	"github.com/splax/previewd/internal/ws"
	"github.com/splax/previewd/pkg/config"
	"github.com/splax/previewd/pkg/logger"
)

const sessionRetention = 15 * time.Minute

// previewStore is what both record backends satisfy.
type previewStore interface {
	preview.RecordStore
	httpx.PreviewLister
	maintenance.Store
}

func main() {
	cfg := config.LoadServerConfig()
	log, logCloser := logger.NewWithFile("previewd", logger.ParseLevel(cfg.LogLevel), cfg.LogFile)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, dbHealth, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open preview store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	deployClient, closeProvider, err := openProvider(ctx, cfg, log)
	if err != nil {
		log.Error("failed to configure deployment provider", "provider", cfg.DeployProvider, "error", err)
		os.Exit(1)
	}
	defer closeProvider()

	completion, err := llm.New(ctx, llm.Config{
		Provider: cfg.RepairProvider,
		Model:    cfg.RepairModel,
		APIKey:   cfg.RepairAPIKey,
		BaseURL:  cfg.RepairBaseURL,
	})
	if err != nil {
		log.Error("failed to configure repair model", "provider", cfg.RepairProvider, "error", err)
		os.Exit(1)
	}
	repairSvc := repair.NewService(completion, repair.Config{
		Timeout:     cfg.RepairTimeout,
		MaxFailures: cfg.RepairCircuitFailures,
		Cooldown:    cfg.RepairCircuitCooldown,
	}, log.With("component", "repair"))

	m := metrics.New(nil)

	policy := provider.DefaultPollPolicy()
	policy.Interval = cfg.PollInterval
	policy.MaxAttempts = cfg.PollMaxAttempts

	manager := preview.New(deployClient, repairSvc, store, log.With("component", "orchestrator"), preview.Config{
		PollPolicy:         policy,
		MaxAutoFixAttempts: cfg.MaxAutoFixAttempts,
		PreviewTTL:         cfg.PreviewTTL,
	}, preview.WithRecorder(m))

	registry := session.NewRegistry(sessionRetention)
	hub := ws.NewHub()
	defer hub.Stop()

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RateLimitRedisPass,
			DB:       cfg.RateLimitRedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, falling back to in-process limits", "error", err)
			_ = client.Close()
		} else {
			redisClient = client
			defer redisClient.Close()
		}
	}

	limiter := httpx.NewMemoryRateLimiter()
	sweepOpts := []maintenance.Option{maintenance.WithDeleteHook(m.DeploymentDeleted)}
	if redisClient != nil {
		limiter.Close()
		limiter = httpx.NewRedisRateLimiterFromClient(redisClient, log)
		host, _ := os.Hostname()
		sweepOpts = append(sweepOpts, maintenance.WithLocker(maintenance.NewRedisLocker(redisClient, fmt.Sprintf("%s:%d", host, os.Getpid()))))
	}

	sweeper := maintenance.New(store, deployClient, log.With("component", "maintenance"), cfg.ExpirySweepEvery, sweepOpts...)
	go sweeper.Run(ctx)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := registry.Prune(); n > 0 {
					log.Debug("pruned finished sessions", "count", n)
				}
			}
		}
	}()

	router := httpx.NewRouter(httpx.Dependencies{
		Logger:          log,
		Verifier:        manager,
		Sessions:        registry,
		Previews:        store,
		Hub:             hub,
		Limiter:         limiter,
		Metrics:         m,
		JWTSecret:       cfg.JWTSecret,
		DBHealth:        dbHealth,
		BaseContext:     ctx,
		MaxAutoFixLimit: cfg.MaxAutoFixAttemptsLimit,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("previewd starting", "addr", cfg.Addr, "provider", cfg.DeployProvider, "store", cfg.StoreDriver, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			log.Warn("sessions still running at shutdown", "error", err)
		}
		log.Info("previewd stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func openStore(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (previewStore, func(context.Context) error, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "memory":
		return memory.New(), nil, func() {}, nil
	case "postgres", "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("ping database: %w", err)
		}
		runner, err := migrate.New(cfg.DatabaseURL, postgres.Migrations, postgres.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		repo := postgres.New(pool, postgres.WithEncryptionKey(cfg.RecordEncryptionKey))
		return repo, pool.Ping, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openProvider(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (provider.Client, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DeployProvider)) {
	case "docker":
		engine, err := docker.NewEngine(cfg.DockerHost)
		if err != nil {
			return nil, nil, err
		}
		if err := engine.Ping(ctx); err != nil {
			_ = engine.Close()
			return nil, nil, fmt.Errorf("docker daemon: %w", err)
		}
		p, err := docker.New(engine, docker.Config{
			Workdir:     cfg.BuildWorkdir,
			PreviewHost: cfg.PreviewHost,
		}, log.With("component", "docker"))
		if err != nil {
			_ = engine.Close()
			return nil, nil, err
		}
		return p, func() { _ = engine.Close() }, nil
	case "remote", "":
		c, err := remote.New(cfg.DeployAPIURL, cfg.DeployAPIToken,
			remote.WithHTTPClient(&http.Client{Timeout: cfg.DeployTimeout}),
			remote.WithTeamID(cfg.DeployTeamID),
			remote.WithLogger(log.With("component", "deploy")),
		)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown deploy provider %q", cfg.DeployProvider)
	}
}
