package db

import (
	"context"
	"time"

	"inkwell/internal/types"
)

// StatsRepository provides data access for the observability tables:
// notification_batches, worker_heartbeats, daily_stats, and job_history.
// These records feed the admin stats surface and analytics joins; none of
// them participate in control flow.
type StatsRepository struct {
	db DBTX
}

// NewStatsRepository creates a StatsRepository backed by the given
// connection (pool or transaction).
func NewStatsRepository(db DBTX) *StatsRepository {
	return &StatsRepository{db: db}
}

// CreateBatchRecord records one Batch Creator run.
func (r *StatsRepository) CreateBatchRecord(ctx context.Context, batch *types.BatchRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_batches (batch_id, hour_slot, total_users, created_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		batch.BatchID,
		batch.HourSlot,
		batch.TotalUsers,
		nilIfZeroTime(batch.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create batch record", err)
	}
	return nil
}

// PeakBatchBetween returns the largest batch enqueued in [from, to), used by
// the daily rollup as the queue-depth high-water mark. Zero when no batches
// ran in the window.
func (r *StatsRepository) PeakBatchBetween(ctx context.Context, from, to time.Time) (int, error) {
	var peak int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(total_users), 0)
		 FROM notification_batches
		 WHERE created_at >= $1 AND created_at < $2`,
		from,
		to,
	).Scan(&peak)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to query peak batch size", err)
	}
	return peak, nil
}

// Heartbeat upserts the worker's liveness row with the current time.
func (r *StatsRepository) Heartbeat(ctx context.Context, workerID, status string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO worker_heartbeats (worker_id, last_heartbeat, status)
		 VALUES ($1, NOW(), $2)
		 ON CONFLICT (worker_id) DO UPDATE
		   SET last_heartbeat = EXCLUDED.last_heartbeat,
		       status = EXCLUDED.status`,
		workerID,
		status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert worker heartbeat", err)
	}
	return nil
}

// ListActiveWorkers returns workers whose heartbeat is newer than the cutoff.
func (r *StatsRepository) ListActiveWorkers(ctx context.Context, since time.Time) ([]types.WorkerHeartbeat, error) {
	rows, err := r.db.Query(ctx,
		`SELECT worker_id, last_heartbeat, status
		 FROM worker_heartbeats
		 WHERE last_heartbeat > $1
		 ORDER BY worker_id`,
		since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active workers", err)
	}
	defer rows.Close()

	var workers []types.WorkerHeartbeat
	for rows.Next() {
		var w types.WorkerHeartbeat
		if err := rows.Scan(&w.WorkerID, &w.LastHeartbeat, &w.Status); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan worker heartbeat", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating worker heartbeats", err)
	}

	return workers, nil
}

// UpsertDailyStats writes the rollup row for one calendar day. Re-running
// the rollup for a day overwrites the previous row, making the daily
// maintenance pass idempotent.
func (r *StatsRepository) UpsertDailyStats(ctx context.Context, stats *types.DailyStats) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO daily_stats
		 (date, jobs_processed, succeeded, failed, avg_processing_ms, peak_queue_size)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (date) DO UPDATE
		   SET jobs_processed = EXCLUDED.jobs_processed,
		       succeeded = EXCLUDED.succeeded,
		       failed = EXCLUDED.failed,
		       avg_processing_ms = EXCLUDED.avg_processing_ms,
		       peak_queue_size = EXCLUDED.peak_queue_size`,
		stats.Date,
		stats.JobsProcessed,
		stats.Succeeded,
		stats.Failed,
		stats.AvgProcessingTime.Milliseconds(),
		stats.PeakQueueSize,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert daily stats", err)
	}
	return nil
}

// ListDailyStats returns the most recent rollup rows, newest first.
func (r *StatsRepository) ListDailyStats(ctx context.Context, limit int) ([]types.DailyStats, error) {
	if limit <= 0 {
		limit = 7
	}

	rows, err := r.db.Query(ctx,
		`SELECT date, jobs_processed, succeeded, failed, avg_processing_ms, peak_queue_size
		 FROM daily_stats
		 ORDER BY date DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list daily stats", err)
	}
	defer rows.Close()

	var stats []types.DailyStats
	for rows.Next() {
		var (
			s     types.DailyStats
			avgMs int64
		)
		if err := rows.Scan(&s.Date, &s.JobsProcessed, &s.Succeeded, &s.Failed, &avgMs, &s.PeakQueueSize); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan daily stats", err)
		}
		s.AvgProcessingTime = time.Duration(avgMs) * time.Millisecond
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating daily stats", err)
	}

	return stats, nil
}

// StartJobHistory inserts a job_history row with status 'running' and
// returns its ID. The scheduler records one row per triggered run.
func (r *StatsRepository) StartJobHistory(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// FinishJobHistory closes a job_history row with its outcome. Status should
// be 'success' or 'failed'; a non-nil runErr message is stored verbatim.
func (r *StatsRepository) FinishJobHistory(ctx context.Context, id int64, status string, items int, runErr error) error {
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}
