package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/curve-engine/internal/books"
	"github.com/atmx/curve-engine/internal/config"
	"github.com/atmx/curve-engine/internal/engine"
	"github.com/atmx/curve-engine/internal/ledger"
	"github.com/atmx/curve-engine/internal/metrics"
	"github.com/atmx/curve-engine/internal/store"
	"github.com/atmx/curve-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	policy, err := engine.ParsePolicy(cfg.BoundaryPolicy, cfg.SellAccounting)
	if err != nil {
		slog.Error("invalid policy", "err", err)
		os.Exit(1)
	}

	// --- Initialize store and ledger ---
	var st store.Store
	var bk books.Books
	var lg interface {
		ledger.Ledger
		ledger.Minter
	}
	var faucet ledger.Minter
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		lg = ledger.NewPostgres(pool)
		bk = books.NewPostgres(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
		if cfg.DevFaucet {
			slog.Warn("DEV_FAUCET ignored with a persistent ledger")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store and ledger (data will not persist)")
		st = store.NewMemoryStore()
		mem := ledger.NewMemory()
		lg = mem
		bk = books.NewSplit(st, mem, mem)
		if cfg.DevFaucet {
			faucet = mem
			slog.Warn("reserve faucet enabled")
		}
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Engine ---
	eng := engine.New(bk, st, wsHub, policy)

	if cfg.GenesisFile != "" {
		genesis, err := config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			slog.Error("genesis load failed", "err", err)
			os.Exit(1)
		}
		_, err = eng.InitProtocol(context.Background(), *genesis)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			slog.Info("protocol already initialized, genesis skipped")
		case err != nil:
			slog.Error("genesis failed", "err", err)
			os.Exit(1)
		}
	}

	// Other replicas launch and deactivate pools too; resync the gauge.
	if err := eng.SyncActivePools(context.Background()); err != nil {
		slog.Warn("active pool gauge sync failed", "err", err)
	}
	go func() {
		ticker := time.NewTicker(cfg.GaugeSyncInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := eng.SyncActivePools(context.Background()); err != nil {
				slog.Warn("active pool gauge sync failed", "err", err)
			}
		}
	}()

	slog.Info("engine ready",
		"boundary_policy", policy.Boundary,
		"sell_accounting", policy.SellAccounting,
	)

	// --- Trade service ---
	tradeSvc := trade.NewService(eng, st, lg, faucet)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"curve-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for launch, trade and withdrawal events.
		r.Get("/ws", wsHub.HandleWS)
		tradeSvc.Mount(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("curve-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down curve-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("curve-engine stopped")
}
