// Package main is the entry point for the Inkwell notification daemon.
//
// It loads configuration, connects the Postgres pool, wires the queue core
// (batch creator, dispatcher, claim processor), starts the scheduler, and
// serves the admin HTTP API. Graceful shutdown is handled via SIGINT/SIGTERM:
// the scheduler stops first so no new passes begin, then the HTTP server
// drains. Jobs interrupted mid-delivery are recovered by the stale-claim
// reclaim on the next maintenance pass.
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
	"github.com/google/uuid"

	"inkwell/internal/api/handlers"
	"inkwell/internal/config"
	"inkwell/internal/core"
	"inkwell/internal/db"
	"inkwell/internal/external"
	"inkwell/internal/queue"
	"inkwell/internal/scheduler"
	"inkwell/internal/stats"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	workerID := cfg.Service + "-" + uuid.New().String()[:8]
	logger.Info("notifyd starting",
		"environment", cfg.Environment,
		"worker_id", workerID,
		"queue_enabled", cfg.Queue.Enabled,
		"timezone", cfg.Queue.Timezone,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	loc := cfg.Location()

	// Repositories.
	jobRepo := db.NewJobRepository(pool)
	claimRepo := db.NewClaimRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)
	recipientRepo := db.NewRecipientRepository(pool)
	statsRepo := db.NewStatsRepository(pool)

	// Delivery capability: real provider when a key is configured, logging
	// stub otherwise.
	var deliverer queue.Deliverer
	if cfg.Email.APIKey != "" {
		deliverer = external.NewSendGridClient(external.SendGridConfig{
			APIKey:      cfg.Email.APIKey,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			SendTimeout: cfg.Email.SendTimeout,
			Logger:      logger,
		})
	} else {
		logger.Warn("no provider API key configured, using stub deliverer")
		deliverer = external.NewStubDeliverer(logger)
	}
	content := external.NewTemplateContentGenerator(loc)

	// Queue core.
	creator := queue.NewCreator(settingsRepo, jobRepo, statsRepo, loc, cfg.Queue.MaxRetries, logger)
	processor := queue.NewProcessor(claimRepo, jobRepo, recipientRepo, content, deliverer, nil, loc, logger)
	dispatcher := queue.NewDispatcher(jobRepo, processor, statsRepo, nil, workerID, cfg.Queue.BatchSize, cfg.Queue.BatchDelay, logger)

	// Maintenance, with optional archive sink.
	var sink scheduler.ArchiveSink
	if cfg.Queue.ArchiveDir != "" {
		fsSink, err := external.NewFSArchiveSink(cfg.Queue.ArchiveDir)
		if err != nil {
			return fmt.Errorf("initializing archive sink: %w", err)
		}
		sink = fsSink
	}
	maintenance := scheduler.NewMaintenance(jobRepo, claimRepo, statsRepo, sink, loc, cfg.Queue.Retention, cfg.Queue.ClaimStaleAfter, logger)

	sched := scheduler.New(creator, dispatcher, maintenance, statsRepo, scheduler.Options{
		Location:         loc,
		DispatchInterval: cfg.Queue.DispatchInterval,
		HourlyTolerance:  cfg.Queue.HourlyTolerance,
	}, logger)

	if cfg.Queue.Enabled {
		sched.Start(ctx)
		defer sched.Stop()
	} else {
		logger.Warn("queue disabled, scheduler not started")
	}

	// Admin HTTP surface.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	reporter := stats.NewReporter(jobRepo, statsRepo, statsRepo, logger)
	adminHandler := handlers.NewAdminHandler(creator, sched, reporter, srv.Validator, cfg.Queue.Enabled, workerID, logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars, func(r chi.Router) {
		adminHandler.RegisterRoutes(r)
	})
	srv.HealthHandler = adminHandler.HandleHealth
	srv.MountRoutes()

	return serveHTTP(srv, cfg, logger)
}

// serveHTTP runs the admin server until a shutdown signal or fatal error.
func serveHTTP(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("notifyd stopped cleanly")
	return nil
}

// newLogger creates the JSON structured logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
