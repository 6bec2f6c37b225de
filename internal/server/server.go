// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: it opens the store, builds the
// streak engine and services on top of it, and maps URL patterns to handlers.
// main.go stays a thin "load config, start the server" wrapper, and tests can
// build a Server around an in-memory store without touching the network.
//
// DEPENDENCY FLOW:
//
//	config.Config ─► OpenStore ─► repository.Store
//	                                 │
//	        streak.Resolver ◄────────┤ (user timezones)
//	        streak.Engine   ◄────────┤ (streak_states)
//	        service.ActivityService ◄┘ (activity + users)
//	                 │
//	        handler.StreakHandler ─► chi routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/nutrilog/internal/auth"
	"github.com/sakif/nutrilog/internal/config"
	"github.com/sakif/nutrilog/internal/handler"
	"github.com/sakif/nutrilog/internal/metrics"
	"github.com/sakif/nutrilog/internal/middleware"
	"github.com/sakif/nutrilog/internal/repository"
	"github.com/sakif/nutrilog/internal/repository/postgres"
	sqliteRepo "github.com/sakif/nutrilog/internal/repository/sqlite"
	"github.com/sakif/nutrilog/internal/service"
	"github.com/sakif/nutrilog/internal/streak"
)

// OpenStore opens the backend selected by cfg.DBDriver. For SQLite the parent
// directory of the database file is created if needed.
func OpenStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverSQLite, "":
		if cfg.DBPath != ":memory:" {
			dir := filepath.Dir(cfg.DBPath)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store: Start closes it after the HTTP server has
// drained.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  repository.Store
}

// New wires the engine, services, and routes around store.
func New(cfg config.Config, store repository.Store, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	days := streak.NewResolver(store, nil, cfg.DefaultTimezone, logger)
	engine := streak.NewEngine(store, days, metrics.NewStreaks(reg), logger)
	activity := service.NewActivityService(store, store, engine, days, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}
	s.setupRoutes(routeDeps{
		streaks: handler.NewStreakHandler(activity, logger),
		health:  handler.NewHealthHandler(store, logger),
		tokens:  tokens,
		limiter: middleware.NewRateLimiter(middleware.DefaultRate, middleware.DefaultBurst),
		httpM:   metrics.NewHTTP(reg),
		reg:     reg,
	})
	return s, nil
}

type routeDeps struct {
	streaks *handler.StreakHandler
	health  *handler.HealthHandler
	tokens  *auth.TokenService
	limiter *middleware.RateLimiter
	httpM   *metrics.HTTP
	reg     *prometheus.Registry
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /health                  → database ping
//	GET  /metrics                 → Prometheus exposition
//	GET  /api/streaks             → current streak state
//	POST /api/streaks/recompute   → full recompute for the caller
//	POST /api/activity            → record a food or login day
//	GET  /api/activity            → recent activity days
//	POST /api/login               → record today's login
//	GET  /api/me                  → profile
//	PUT  /api/me/timezone         → change timezone
//
// MIDDLEWARE ORDER MATTERS: Logger wraps Recoverer so a recovered panic is
// still logged (and counted) as a 500.
func (s *Server) setupRoutes(d routeDeps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, d.httpM))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/health", d.health.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(d.limiter.Middleware)
		r.Use(auth.RequireAuth(d.tokens))

		r.Get("/streaks", d.streaks.HandleGetStreaks)
		r.Post("/streaks/recompute", d.streaks.HandleRecompute)

		r.Post("/activity", d.streaks.HandleRecordActivity)
		r.Get("/activity", d.streaks.HandleHistory)
		r.Post("/login", d.streaks.HandleLogin)

		r.Get("/me", d.streaks.HandleMe)
		r.Put("/me/timezone", d.streaks.HandleSetTimezone)
	})
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the store.
func (s *Server) Start() error {
	defer s.store.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("driver", s.config.DBDriver),
			slog.String("default_timezone", s.config.DefaultTimezone.String()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
