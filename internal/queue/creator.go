package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/types"
)

// SettingsReader is the read path into the eligibility settings store.
type SettingsReader interface {
	ListEnabledForSlot(ctx context.Context, slot string) ([]types.EligibilitySetting, error)
	ListAllEnabled(ctx context.Context) ([]types.EligibilitySetting, error)
}

// JobWriter is the insert path into the job queue store.
type JobWriter interface {
	Create(ctx context.Context, job *types.NotificationJob) error
}

// BatchWriter records Batch Creator runs for analytics.
type BatchWriter interface {
	CreateBatchRecord(ctx context.Context, batch *types.BatchRecord) error
}

// Creator emits one NotificationJob per eligible user for the current hour
// slot. Creation is idempotent per slot only transitively: re-running an
// hour may enqueue duplicate jobs, but the claim ledger suppresses the
// second delivery at dispatch time.
type Creator struct {
	settings   SettingsReader
	jobs       JobWriter
	batches    BatchWriter
	loc        *time.Location
	maxRetries int
	logger     *slog.Logger
}

// NewCreator builds a Creator. loc is the business timezone used for
// hour-slot matching; maxRetries seeds each job's retry budget.
func NewCreator(settings SettingsReader, jobs JobWriter, batches BatchWriter, loc *time.Location, maxRetries int, logger *slog.Logger) *Creator {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Creator{
		settings:   settings,
		jobs:       jobs,
		batches:    batches,
		loc:        loc,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// HourSlot converts a UTC instant to the business timezone and truncates to
// the hour, producing the "HH:00" key used to match eligibility settings.
func HourSlot(nowUTC time.Time, loc *time.Location) string {
	return fmt.Sprintf("%02d:00", nowUTC.In(loc).Hour())
}

// CreateHourlyJobs queues one daily-digest job per user whose enabled
// setting matches the current hour slot. Returns the number of jobs
// successfully queued.
//
// Zero eligible users is a no-op, not an error. A single failed insert is
// logged and skipped; the rest of the batch still queues. An eligibility
// read failure aborts the whole run with no partial jobs created — the next
// hourly tick retries naturally.
func (c *Creator) CreateHourlyJobs(ctx context.Context, nowUTC time.Time) (int, error) {
	slot := HourSlot(nowUTC, c.loc)

	settings, err := c.settings.ListEnabledForSlot(ctx, slot)
	if err != nil {
		return 0, fmt.Errorf("reading eligibility for slot %s: %w", slot, err)
	}

	if len(settings) == 0 {
		c.logger.InfoContext(ctx, "no eligible users for slot", "slot", slot)
		return 0, nil
	}

	batchID := uuid.New().String()
	queued := c.queueJobs(ctx, settings, types.JobDailyDigest, types.PriorityNormal, nowUTC, batchID)

	// The batch record is observability, not control flow; a failed write
	// does not undo the queued jobs.
	if err := c.batches.CreateBatchRecord(ctx, &types.BatchRecord{
		BatchID:    batchID,
		HourSlot:   slot,
		TotalUsers: len(settings),
	}); err != nil {
		c.logger.ErrorContext(ctx, "failed to record batch", "batch_id", batchID, "error", err)
	}

	c.logger.InfoContext(ctx, "hourly jobs created",
		"slot", slot,
		"batch_id", batchID,
		"eligible", len(settings),
		"queued", queued,
	)

	return queued, nil
}

// CreateJobsForAll queues one job per enabled user regardless of slot, at
// the given priority. Backs the admin process-all trigger.
func (c *Creator) CreateJobsForAll(ctx context.Context, nowUTC time.Time, priority int) (int, error) {
	settings, err := c.settings.ListAllEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading enabled settings: %w", err)
	}

	if len(settings) == 0 {
		c.logger.InfoContext(ctx, "no enabled users to queue")
		return 0, nil
	}

	batchID := uuid.New().String()
	queued := c.queueJobs(ctx, settings, types.JobDailyDigest, priority, nowUTC, batchID)

	if err := c.batches.CreateBatchRecord(ctx, &types.BatchRecord{
		BatchID:    batchID,
		HourSlot:   "manual",
		TotalUsers: len(settings),
	}); err != nil {
		c.logger.ErrorContext(ctx, "failed to record batch", "batch_id", batchID, "error", err)
	}

	c.logger.InfoContext(ctx, "manual bulk jobs created",
		"batch_id", batchID,
		"eligible", len(settings),
		"queued", queued,
		"priority", priority,
	)

	return queued, nil
}

// CreateJobForUser queues a single job for one user at the given priority.
// Backs the admin queue-user trigger.
func (c *Creator) CreateJobForUser(ctx context.Context, nowUTC time.Time, userID string, jobType types.JobType, priority int) error {
	job := &types.NotificationJob{
		ID:           uuid.Must(uuid.NewV7()).String(),
		JobType:      jobType,
		UserID:       userID,
		Priority:     priority,
		ScheduledFor: nowUTC,
		MaxRetries:   c.maxRetries,
		Payload:      map[string]any{"trigger": "manual"},
	}

	if err := c.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("queueing job for user %s: %w", userID, err)
	}

	c.logger.InfoContext(ctx, "manual job queued",
		"user_id", userID,
		"job_type", string(jobType),
		"priority", priority,
	)

	return nil
}

// queueJobs bulk-inserts one job per setting, tolerating individual insert
// failures. Returns the count successfully queued.
func (c *Creator) queueJobs(ctx context.Context, settings []types.EligibilitySetting, jobType types.JobType, priority int, nowUTC time.Time, batchID string) int {
	queued := 0
	for _, s := range settings {
		// UUIDv7 keeps job ids time-ordered, so the id tie-break in
		// ListPending follows insertion order.
		job := &types.NotificationJob{
			ID:           uuid.Must(uuid.NewV7()).String(),
			JobType:      jobType,
			UserID:       s.UserID,
			Priority:     priority,
			ScheduledFor: nowUTC,
			MaxRetries:   c.maxRetries,
			Payload: map[string]any{
				"batch_id": batchID,
				"settings": s.Preferences,
			},
		}

		if err := c.jobs.Create(ctx, job); err != nil {
			c.logger.ErrorContext(ctx, "failed to queue job",
				"user_id", s.UserID,
				"batch_id", batchID,
				"error", err,
			)
			continue
		}
		queued++
	}
	return queued
}
