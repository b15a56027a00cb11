package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"inkwell/internal/types"
)

// PendingSource is the read/transition path the Dispatcher needs from the
// job queue store.
type PendingSource interface {
	ListPending(ctx context.Context, now time.Time, limit int) ([]*types.NotificationJob, error)
	MarkProcessing(ctx context.Context, jobID string) (bool, error)
}

// HeartbeatWriter records dispatcher liveness once per pass.
type HeartbeatWriter interface {
	Heartbeat(ctx context.Context, workerID, status string) error
}

// pendingFetchLimit bounds how many pending jobs one pass considers. Jobs
// beyond the limit are picked up by the next tick.
const pendingFetchLimit = 1000

// Dispatcher drains pending jobs in fixed-size concurrent batches. Within a
// batch every job runs concurrently (bounded by the batch size, the one
// place true parallelism is required); between batches it sleeps a fixed
// delay to respect downstream provider rate limits.
type Dispatcher struct {
	source     PendingSource
	processor  *Processor
	heartbeats HeartbeatWriter
	sleeper    Sleeper
	workerID   string
	batchSize  int
	batchDelay time.Duration
	logger     *slog.Logger
}

// NewDispatcher builds a Dispatcher. workerID identifies this process in
// the heartbeat table.
func NewDispatcher(source PendingSource, processor *Processor, heartbeats HeartbeatWriter, sleeper Sleeper, workerID string, batchSize int, batchDelay time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if sleeper == nil {
		sleeper = StdSleeper{}
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Dispatcher{
		source:     source,
		processor:  processor,
		heartbeats: heartbeats,
		sleeper:    sleeper,
		workerID:   workerID,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		logger:     logger,
	}
}

// ProcessQueue runs one dispatcher pass. Individual job failures never
// surface as errors — they are counted in Result.Errors; only a queue-access
// failure at the top level returns an error.
func (d *Dispatcher) ProcessQueue(ctx context.Context) (Result, error) {
	// Liveness first: the heartbeat marks this pass even if the queue turns
	// out to be empty. A heartbeat failure is logged, not fatal.
	if err := d.heartbeats.Heartbeat(ctx, d.workerID, "processing"); err != nil {
		d.logger.ErrorContext(ctx, "failed to record heartbeat", "worker_id", d.workerID, "error", err)
	}

	jobs, err := d.source.ListPending(ctx, time.Now().UTC(), pendingFetchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("listing pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return Result{}, nil
	}

	d.logger.InfoContext(ctx, "processing queue",
		"pending", len(jobs),
		"batch_size", d.batchSize,
	)

	var total Result
	for start := 0; start < len(jobs); start += d.batchSize {
		end := start + d.batchSize
		if end > len(jobs) {
			end = len(jobs)
		}

		batch := d.processBatch(ctx, jobs[start:end])
		total.Sent += batch.Sent
		total.Skipped += batch.Skipped
		total.Errors += batch.Errors

		// Inter-batch delay is the sole rate limit toward the provider.
		if end < len(jobs) {
			if err := d.sleeper.Sleep(ctx, d.batchDelay); err != nil {
				d.logger.WarnContext(ctx, "queue pass interrupted between batches",
					"processed", end,
					"pending", len(jobs)-end,
				)
				return total, nil
			}
		}
	}

	d.logger.InfoContext(ctx, "queue pass complete",
		"sent", total.Sent,
		"skipped", total.Skipped,
		"errors", total.Errors,
	)

	return total, nil
}

// processBatch runs one fixed-size batch concurrently and aggregates its
// outcomes.
func (d *Dispatcher) processBatch(ctx context.Context, batch []*types.NotificationJob) Result {
	var (
		mu     sync.Mutex
		result Result
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.batchSize)

	for _, job := range batch {
		g.Go(func() error {
			outcome := d.processOne(gCtx, job)

			mu.Lock()
			switch outcome {
			case OutcomeSent:
				result.Sent++
			case OutcomeSkipped:
				result.Skipped++
			case OutcomeFailed:
				result.Errors++
			}
			mu.Unlock()

			// Errors stay inside processOne; returning nil keeps one bad
			// job from cancelling its batch siblings.
			return nil
		})
	}

	_ = g.Wait()
	return result
}

// processOne transitions a single job to 'processing' and hands it to the
// claim protocol. A job that is no longer pending was taken by a concurrent
// pass and counts as skipped.
func (d *Dispatcher) processOne(ctx context.Context, job *types.NotificationJob) Outcome {
	taken, err := d.source.MarkProcessing(ctx, job.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to transition job to processing",
			"job_id", job.ID,
			"error", err,
		)
		return OutcomeFailed
	}
	if !taken {
		return OutcomeSkipped
	}

	outcome, err := d.processor.Process(ctx, job)
	if err != nil {
		d.logger.ErrorContext(ctx, "job processing error",
			"job_id", job.ID,
			"user_id", job.UserID,
			"error", err,
		)
		return OutcomeFailed
	}
	return outcome
}
