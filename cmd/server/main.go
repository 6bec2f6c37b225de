// Package main is the entry point for the nutrilog streak server.
//
// main stays minimal: load configuration, build the logger, open the store,
// and hand everything to internal/server. All actual logic lives in the
// imported packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	// Embedded tz database so user timezones resolve on minimal images
	// without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/sakif/nutrilog/internal/config"
	"github.com/sakif/nutrilog/internal/server"
)

func main() {
	// === 1. CONFIGURATION ===
	// .env is optional; real environment variables win.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Error("refusing to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. DATABASE ===
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := server.OpenStore(ctx, cfg)
	cancel()
	if err != nil {
		logger.Error("failed to open database",
			slog.String("driver", cfg.DBDriver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 3. SERVER ===
	srv, err := server.New(cfg, store, logger)
	if err != nil {
		store.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM and closes the store on the way out.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
