package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"inkwell/internal/types"
)

// JobRepository provides data access for the notification_jobs table. Jobs
// are created by the Batch Creator and admin triggers; only the Dispatcher
// moves them through pending -> processing -> {completed, failed}.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a JobRepository backed by the given connection
// (pool or transaction).
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job with status 'pending'. The caller sets the ID
// (UUID) and required fields before calling.
func (r *JobRepository) Create(ctx context.Context, job *types.NotificationJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal job payload", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO notification_jobs
		 (id, job_type, user_id, destination_address, priority, scheduled_for,
		  status, retry_count, max_retries, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7, $8, COALESCE($9, NOW()))`,
		job.ID,
		string(job.JobType),
		job.UserID,
		job.Address,
		job.Priority,
		job.ScheduledFor,
		job.MaxRetries,
		payload,
		nilIfZeroTime(job.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create notification job", err)
	}
	return nil
}

// ListPending returns pending jobs due now, ordered by priority descending,
// then scheduled_for ascending, then id ascending. The id column is a UUIDv7
// assigned at insert, so the final key yields insertion-order FIFO between
// jobs that tie on priority and schedule time.
func (r *JobRepository) ListPending(ctx context.Context, now time.Time, limit int) ([]*types.NotificationJob, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, job_type, user_id, destination_address, priority,
		        scheduled_for, status, retry_count, max_retries, payload,
		        error_message, created_at
		 FROM notification_jobs
		 WHERE status = 'pending' AND scheduled_for <= $1
		 ORDER BY priority DESC, scheduled_for ASC, id ASC
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending jobs", err)
	}
	defer rows.Close()

	var jobs []*types.NotificationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job row", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job rows", err)
	}

	return jobs, nil
}

// MarkProcessing transitions a job from 'pending' to 'processing'. Returns
// false if the job was no longer pending (picked up by another pass), which
// the dispatcher treats as a skip, not an error.
func (r *JobRepository) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs
		 SET status = 'processing', started_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		jobID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark job processing", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCompleted finalizes a job as 'completed' and records the processing
// duration in milliseconds.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string, duration time.Duration) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs
		 SET status = 'completed', completed_at = NOW(), processing_ms = $2
		 WHERE id = $1`,
		jobID,
		duration.Milliseconds(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job completed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "notification job not found", nil)
	}
	return nil
}

// MarkFailed finalizes a job as 'failed' with the terminal error message.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, errMsg string, retryCount int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs
		 SET status = 'failed', failed_at = NOW(), error_message = $2, retry_count = $3
		 WHERE id = $1`,
		jobID,
		errMsg,
		retryCount,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "notification job not found", nil)
	}
	return nil
}

// FailStaleProcessing fails 'processing' jobs whose pass started before the
// cutoff. A worker crash mid-delivery strands the job in 'processing', where
// neither ListPending nor the retention purge would ever see it again.
// Returns the count of jobs failed.
func (r *JobRepository) FailStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_jobs
		 SET status = 'failed', failed_at = NOW(),
		     error_message = 'reclaimed: stale processing job'
		 WHERE status = 'processing' AND started_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to fail stale processing jobs", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateRetryCount persists the job's retry bookkeeping between attempts.
func (r *JobRepository) UpdateRetryCount(ctx context.Context, jobID string, retryCount int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET retry_count = $2 WHERE id = $1`,
		jobID,
		retryCount,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update job retry count", err)
	}
	return nil
}

// CountByStatus returns job counts grouped by status. Statuses with zero
// jobs are present in the map with a zero value.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_jobs GROUP BY status`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs by status", err)
	}
	defer rows.Close()

	counts := map[types.JobStatus]int{
		types.JobPending:    0,
		types.JobProcessing: 0,
		types.JobCompleted:  0,
		types.JobFailed:     0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status count", err)
		}
		counts[types.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating status counts", err)
	}

	return counts, nil
}

// OldestPendingCreatedAt returns the created_at of the oldest pending job.
// The second return value is false when the queue has no pending jobs.
func (r *JobRepository) OldestPendingCreatedAt(ctx context.Context) (time.Time, bool, error) {
	var createdAt time.Time
	err := r.db.QueryRow(ctx,
		`SELECT created_at FROM notification_jobs
		 WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT 1`,
	).Scan(&createdAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to query oldest pending job", err)
	}
	return createdAt, true, nil
}

// ListTerminalBefore returns completed/failed jobs created before the cutoff,
// for archival ahead of retention deletion.
func (r *JobRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.NotificationJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, job_type, user_id, destination_address, priority,
		        scheduled_for, status, retry_count, max_retries, payload,
		        error_message, created_at
		 FROM notification_jobs
		 WHERE status IN ('completed', 'failed') AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list terminal jobs", err)
	}
	defer rows.Close()

	var jobs []*types.NotificationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan terminal job row", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating terminal job rows", err)
	}

	return jobs, nil
}

// DeleteTerminalBefore hard-deletes completed/failed jobs created before the
// cutoff. Returns the count of deleted rows.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_jobs
		 WHERE status IN ('completed', 'failed') AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old jobs", err)
	}
	return tag.RowsAffected(), nil
}

// TerminalStatsBetween aggregates terminal jobs finalized in [from, to) for
// the daily rollup: total processed, succeeded, failed, and the average
// processing duration across all of them.
func (r *JobRepository) TerminalStatsBetween(ctx context.Context, from, to time.Time) (processed, succeeded, failed int, avg time.Duration, err error) {
	var avgMs *float64
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        AVG(processing_ms)
		 FROM notification_jobs
		 WHERE status IN ('completed', 'failed')
		   AND COALESCE(completed_at, failed_at) >= $1
		   AND COALESCE(completed_at, failed_at) < $2`,
		from,
		to,
	)
	if scanErr := row.Scan(&processed, &succeeded, &failed, &avgMs); scanErr != nil {
		return 0, 0, 0, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate terminal jobs", scanErr)
	}
	if avgMs != nil {
		avg = time.Duration(*avgMs * float64(time.Millisecond))
	}
	return processed, succeeded, failed, avg, nil
}

// scanJob scans one notification_jobs row. Nullable columns use pointers.
func scanJob(rows pgx.Rows) (*types.NotificationJob, error) {
	var (
		job      types.NotificationJob
		jobType  string
		status   string
		payload  []byte
		errMsg   *string
	)

	err := rows.Scan(
		&job.ID,
		&jobType,
		&job.UserID,
		&job.Address,
		&job.Priority,
		&job.ScheduledFor,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&payload,
		&errMsg,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.JobType = types.JobType(jobType)
	job.Status = types.JobStatus(status)
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &job.Payload)
	}

	return &job, nil
}

// nilIfZeroTime maps the zero time to nil so COALESCE defaults apply.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
