package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yashasviy/guarded-transfers-api/middleware"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps are the collaborators NewRouter wires into the handlers.
type RouterDeps struct {
	Engine Transferer
	Store  Pinger
	InitDB func(ctx context.Context) error
	Logger *zap.Logger

	// optional
	Redis          redis.Cmdable
	IdempotencyTTL time.Duration
	Metrics        http.Handler
	CORSOrigins    []string
}

// NewRouter builds the HTTP surface.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.IdempotencyHeader},
			ExposedHeaders: []string{middleware.ReplayHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Transfers API is Running!")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		if d.Redis != nil {
			r.Use(middleware.Idempotency(d.Redis, d.IdempotencyTTL, logger))
		}
		r.Post("/transfer", TransferHandler(d.Engine, logger))
	})

	if d.InitDB != nil {
		r.Post("/init-db", InitDBHandler(d.InitDB, logger))
	}

	return r
}
