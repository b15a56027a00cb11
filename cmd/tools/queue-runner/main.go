// Package main is a one-shot operations tool for the notification queue.
// It runs a single pass of one queue stage and exits, for cron-style
// deployments and manual operator intervention:
//
//	queue-runner -mode=batch      create jobs for the current hour slot
//	queue-runner -mode=dispatch   drain pending jobs once
//	queue-runner -mode=maintain   reclaim, roll up, and purge once
//	queue-runner -mode=stats      print the queue snapshot as JSON
//
// Configuration comes from the same environment as the daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/config"
	"inkwell/internal/db"
	"inkwell/internal/external"
	"inkwell/internal/queue"
	"inkwell/internal/scheduler"
	"inkwell/internal/stats"
	"inkwell/internal/types"
)

func main() {
	mode := flag.String("mode", "", "stage to run: batch, dispatch, maintain, stats")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run deadline")
	flag.Parse()

	if err := run(*mode, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(mode string, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// The kill switch covers operator tooling too; stats stays readable.
	if !cfg.Queue.Enabled && mode != "stats" {
		return types.NewAppError(types.ErrCodeQueueDisabled, "notification queue is disabled (QUEUE_ENABLED=false)", nil)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	loc := cfg.Location()
	jobRepo := db.NewJobRepository(pool)
	claimRepo := db.NewClaimRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)
	recipientRepo := db.NewRecipientRepository(pool)
	statsRepo := db.NewStatsRepository(pool)

	now := time.Now().UTC()

	switch mode {
	case "batch":
		creator := queue.NewCreator(settingsRepo, jobRepo, statsRepo, loc, cfg.Queue.MaxRetries, logger)
		queued, err := creator.CreateHourlyJobs(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("queued %d jobs for slot %s\n", queued, queue.HourSlot(now, loc))
		return nil

	case "dispatch":
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
			deliverer = external.NewStubDeliverer(logger)
		}
		content := external.NewTemplateContentGenerator(loc)
		workerID := "queue-runner-" + uuid.New().String()[:8]

		processor := queue.NewProcessor(claimRepo, jobRepo, recipientRepo, content, deliverer, nil, loc, logger)
		dispatcher := queue.NewDispatcher(jobRepo, processor, statsRepo, nil, workerID, cfg.Queue.BatchSize, cfg.Queue.BatchDelay, logger)

		result, err := dispatcher.ProcessQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("sent=%d skipped=%d errors=%d\n", result.Sent, result.Skipped, result.Errors)
		return nil

	case "maintain":
		var sink scheduler.ArchiveSink
		if cfg.Queue.ArchiveDir != "" {
			fsSink, err := external.NewFSArchiveSink(cfg.Queue.ArchiveDir)
			if err != nil {
				return fmt.Errorf("initializing archive sink: %w", err)
			}
			sink = fsSink
		}
		maintenance := scheduler.NewMaintenance(jobRepo, claimRepo, statsRepo, sink, loc, cfg.Queue.Retention, cfg.Queue.ClaimStaleAfter, logger)

		purged, err := maintenance.RunDaily(ctx, now)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d rows\n", purged)
		return nil

	case "stats":
		reporter := stats.NewReporter(jobRepo, statsRepo, statsRepo, logger)
		overview, err := reporter.Overview(ctx, now)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(overview)

	case "":
		return fmt.Errorf("missing -mode flag (batch, dispatch, maintain, stats)")
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}
