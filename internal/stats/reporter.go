// Package stats assembles the read-only operational views served by the
// admin API: queue depth by status, oldest-pending age, active workers, and
// the rolled-up daily delivery totals.
package stats

import (
	"context"
	"log/slog"
	"time"

	"inkwell/internal/types"
)

// QueueReader is the queue-depth read path.
type QueueReader interface {
	CountByStatus(ctx context.Context) (map[types.JobStatus]int, error)
	OldestPendingCreatedAt(ctx context.Context) (time.Time, bool, error)
}

// WorkerReader lists dispatcher heartbeats.
type WorkerReader interface {
	ListActiveWorkers(ctx context.Context, since time.Time) ([]types.WorkerHeartbeat, error)
}

// DailyReader lists rollup rows.
type DailyReader interface {
	ListDailyStats(ctx context.Context, limit int) ([]types.DailyStats, error)
}

// QueueSnapshot is the point-in-time queue view.
type QueueSnapshot struct {
	Pending          int     `json:"pending"`
	Processing       int     `json:"processing"`
	Completed        int     `json:"completed"`
	Failed           int     `json:"failed"`
	OldestPendingAge float64 `json:"oldest_pending_age_seconds"`
}

// Overview is the full stats payload for the admin dashboard.
type Overview struct {
	Queue         QueueSnapshot           `json:"queue"`
	ActiveWorkers []types.WorkerHeartbeat `json:"active_workers"`
	Daily         []types.DailyStats      `json:"daily"`
	GeneratedAt   time.Time               `json:"generated_at"`
}

// dailyHistoryDays is how many rollup rows the overview includes.
const dailyHistoryDays = 7

// Reporter serves the operational views. All methods are reads; the
// reporter never mutates queue state.
type Reporter struct {
	queue   QueueReader
	workers WorkerReader
	daily   DailyReader
	logger  *slog.Logger
}

// NewReporter builds a Reporter.
func NewReporter(queue QueueReader, workers WorkerReader, daily DailyReader, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		queue:   queue,
		workers: workers,
		daily:   daily,
		logger:  logger,
	}
}

// Snapshot returns the current queue depth by status and the age of the
// oldest pending job. A zero age means the queue has no pending jobs.
func (r *Reporter) Snapshot(ctx context.Context, now time.Time) (*QueueSnapshot, error) {
	counts, err := r.queue.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	snap := &QueueSnapshot{
		Pending:    counts[types.JobPending],
		Processing: counts[types.JobProcessing],
		Completed:  counts[types.JobCompleted],
		Failed:     counts[types.JobFailed],
	}

	oldest, ok, err := r.queue.OldestPendingCreatedAt(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		snap.OldestPendingAge = now.Sub(oldest).Seconds()
	}

	return snap, nil
}

// Overview returns the full admin stats payload: queue snapshot, workers
// with a fresh heartbeat, and the last week of daily rollups.
func (r *Reporter) Overview(ctx context.Context, now time.Time) (*Overview, error) {
	snap, err := r.Snapshot(ctx, now)
	if err != nil {
		return nil, err
	}

	workers, err := r.workers.ListActiveWorkers(ctx, now.Add(-types.WorkerHeartbeatMaxAge))
	if err != nil {
		return nil, err
	}

	daily, err := r.daily.ListDailyStats(ctx, dailyHistoryDays)
	if err != nil {
		return nil, err
	}

	return &Overview{
		Queue:         *snap,
		ActiveWorkers: workers,
		Daily:         daily,
		GeneratedAt:   now,
	}, nil
}

// CheckHealth verifies the queue store is reachable by running the cheapest
// meaningful read. The returned error carries ErrCodeQueueUnavailable so the
// health endpoint maps it to 503.
func (r *Reporter) CheckHealth(ctx context.Context) error {
	if _, err := r.queue.CountByStatus(ctx); err != nil {
		return types.NewAppError(types.ErrCodeQueueUnavailable, "queue store unreachable", err)
	}
	return nil
}
