package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yashasviy/guarded-transfers-api/api"
	"github.com/yashasviy/guarded-transfers-api/config"
	"github.com/yashasviy/guarded-transfers-api/db"
	"github.com/yashasviy/guarded-transfers-api/dedup"
	"github.com/yashasviy/guarded-transfers-api/engine"
	"github.com/yashasviy/guarded-transfers-api/metrics"
	"github.com/yashasviy/guarded-transfers-api/store"
	"github.com/yashasviy/guarded-transfers-api/store/memory"
	"github.com/yashasviy/guarded-transfers-api/store/postgres"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Println("No .env file found, relying on system env vars")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	err = run(cfg, logger)
	if err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred closes always execute.
func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Storage
	var (
		st     store.Store
		initDB func(ctx context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memory.New()
		for acc, bal := range cfg.SeedAccounts {
			if err := mem.Seed(acc, bal); err != nil {
				return fmt.Errorf("seed account %s: %w", acc, err)
			}
		}
		st = mem
		initDB = func(context.Context) error { return nil }
		logger.Info("using in-memory store", zap.Int("accounts", len(cfg.SeedAccounts)))
	default:
		sqlDB, err := postgres.Open(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("postgres connection failed: %w", err)
		}
		defer sqlDB.Close()

		initDB = func(ctx context.Context) error { return db.Initialize(ctx, sqlDB) }
		if err := initDB(ctx); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
		if len(cfg.SeedAccounts) > 0 {
			if err := db.Seed(ctx, sqlDB, cfg.SeedAccounts); err != nil {
				return fmt.Errorf("seed accounts: %w", err)
			}
		}
		st = postgres.New(sqlDB)
		logger.Info("postgres connected")
	}

	// 2. Redis (optional response replay)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed; replay requests will be refused until it recovers", zap.Error(err))
		} else {
			logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
		}
	}

	// 3. Engine
	window := dedup.New(
		dedup.WithRejectWindow(cfg.RejectWindow),
		dedup.WithEvictWindow(cfg.EvictWindow),
		dedup.WithSweepInterval(cfg.SweepInterval),
	)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg, window.Len)

	eng := engine.New(st,
		engine.WithWindow(window),
		engine.WithLogger(logger.Named("engine")),
		engine.WithObserver(recorder),
	)

	deps := api.RouterDeps{
		Engine:         eng,
		Store:          st,
		InitDB:         initDB,
		Logger:         logger,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSOrigins:    cfg.CORSAllowedOrigins,
	}
	if rdb != nil {
		deps.Redis = rdb
	}

	// 4. Start Server
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server running", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	return nil
}
