package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/bitchest/wallet-engine/internal/asset"
	"github.com/bitchest/wallet-engine/internal/config"
	"github.com/bitchest/wallet-engine/internal/metrics"
	"github.com/bitchest/wallet-engine/internal/notify"
	"github.com/bitchest/wallet-engine/internal/price"
	"github.com/bitchest/wallet-engine/internal/store"
	"github.com/bitchest/wallet-engine/internal/trade"
)

func main() {
	configPath := flag.String("config", ".", "directory holding config.yaml and .env")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.Log.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("wallet-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("wallet-engine stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	// --- Store ---
	st, err := store.Open(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Asset catalog ---
	catalog := asset.DefaultCatalog()
	if cfg.Assets.File != "" {
		if catalog, err = asset.LoadCatalog(cfg.Assets.File); err != nil {
			return err
		}
		slog.Info("loaded asset catalog", "file", cfg.Assets.File, "assets", len(catalog.IDs()))
	}

	// --- Event fan-out ---
	hub := notify.NewHub()
	notifiers := notify.Multi{hub}
	if rdb != nil {
		notifiers = append(notifiers, notify.NewRedisPublisher(rdb))
	}

	// --- Trade service ---
	svc := trade.NewService(st,
		price.NewStoreFeed(st, cfg.Trading.PriceMaxAge),
		catalog,
		trade.WithNotifier(notifiers),
		trade.WithInitialBalance(cfg.Trading.InitialBalance),
	)
	if err := svc.RefreshMetrics(ctx); err != nil {
		slog.Warn("could not count accounts", "err", err)
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(trade.NewHandler(svc, hub)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("wallet-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		// Graceful shutdown.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down wallet-engine...")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(h *trade.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+trade.HeaderUserID+", "+trade.HeaderUserRole)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wallet-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Request timeouts are applied per route group; the WebSocket stream
	// has none.
	r.Route("/api/v1", h.Routes)

	return r
}
