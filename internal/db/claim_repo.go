package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"inkwell/internal/types"
)

// ClaimRepository provides data access for the delivery_claims table, the
// idempotency ledger. The table carries a unique constraint on
// (user_id, job_type, calendar_day); that constraint is the system's sole
// synchronization primitive, so TryClaim is the only write-contention point
// in the whole service.
type ClaimRepository struct {
	db DBTX
}

// NewClaimRepository creates a ClaimRepository backed by the given
// connection (pool or transaction).
func NewClaimRepository(db DBTX) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Latest returns the claim for the (user, type, day) tuple, or nil when no
// claim exists. There is at most one row per tuple by constraint.
func (r *ClaimRepository) Latest(ctx context.Context, userID string, jobType types.JobType, day string) (*types.DeliveryClaim, error) {
	var (
		claim  types.DeliveryClaim
		status string
		jt     string
		errMsg *string
		sentAt *time.Time
	)

	err := r.db.QueryRow(ctx,
		`SELECT user_id, job_type, calendar_day, address, status,
		        retry_count, error_message, claimed_at, sent_at
		 FROM delivery_claims
		 WHERE user_id = $1 AND job_type = $2 AND calendar_day = $3`,
		userID,
		string(jobType),
		day,
	).Scan(
		&claim.UserID,
		&jt,
		&claim.CalendarDay,
		&claim.Address,
		&status,
		&claim.RetryCount,
		&errMsg,
		&claim.ClaimedAt,
		&sentAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query delivery claim", err)
	}

	claim.JobType = types.JobType(jt)
	claim.Status = types.ClaimStatus(status)
	if errMsg != nil {
		claim.ErrorMessage = *errMsg
	}
	if sentAt != nil {
		claim.SentAt = *sentAt
	}

	return &claim, nil
}

// TryClaim attempts to insert a 'processing' claim for the tuple using
// INSERT ... ON CONFLICT DO NOTHING. Returns claimed=false when another
// attempt already owns the tuple; the caller treats that as success without
// sending (duplicate suppression), never as an error.
//
// A previous 'failed' claim does not block a new attempt: the conflict
// target row is replaced when its status is 'failed', mirroring the
// expired-lock reclaim pattern.
func (r *ClaimRepository) TryClaim(ctx context.Context, userID string, jobType types.JobType, day, address string) (bool, error) {
	now := time.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO delivery_claims
		 (user_id, job_type, calendar_day, address, status, retry_count, claimed_at)
		 VALUES ($1, $2, $3, $4, 'processing', 0, $5)
		 ON CONFLICT (user_id, job_type, calendar_day) DO UPDATE
		   SET address = EXCLUDED.address,
		       status = 'processing',
		       retry_count = 0,
		       error_message = NULL,
		       claimed_at = EXCLUDED.claimed_at
		   WHERE delivery_claims.status = 'failed'`,
		userID,
		string(jobType),
		day,
		address,
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert delivery claim", err)
	}

	// RowsAffected is 1 for a fresh insert or a reclaimed 'failed' row, and
	// 0 when a live (processing/sent) claim already holds the tuple.
	return tag.RowsAffected() > 0, nil
}

// MarkSent finalizes the claim as 'sent' with the real delivery address.
func (r *ClaimRepository) MarkSent(ctx context.Context, userID string, jobType types.JobType, day, address string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_claims
		 SET status = 'sent', address = $4, sent_at = NOW()
		 WHERE user_id = $1 AND job_type = $2 AND calendar_day = $3`,
		userID,
		string(jobType),
		day,
		address,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark claim sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "delivery claim not found for finalize", nil)
	}
	return nil
}

// MarkFailed finalizes the claim as 'failed' with the terminal error message
// for operator inspection.
func (r *ClaimRepository) MarkFailed(ctx context.Context, userID string, jobType types.JobType, day, errMsg string, retryCount int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_claims
		 SET status = 'failed', error_message = $4, retry_count = $5
		 WHERE user_id = $1 AND job_type = $2 AND calendar_day = $3`,
		userID,
		string(jobType),
		day,
		errMsg,
		retryCount,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark claim failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "delivery claim not found for finalize", nil)
	}
	return nil
}

// UpdateRetryCount persists the claim's retry bookkeeping between attempts.
// The claim stays in 'processing' for the whole retry loop.
func (r *ClaimRepository) UpdateRetryCount(ctx context.Context, userID string, jobType types.JobType, day string, retryCount int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE delivery_claims
		 SET retry_count = $4
		 WHERE user_id = $1 AND job_type = $2 AND calendar_day = $3`,
		userID,
		string(jobType),
		day,
		retryCount,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update claim retry count", err)
	}
	return nil
}

// ReclaimStale marks 'processing' claims older than the cutoff as 'failed'.
// A claim stuck in 'processing' means a worker died mid-flight; failing it
// lets a future trigger attempt the tuple again. Returns the reclaim count.
func (r *ClaimRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_claims
		 SET status = 'failed', error_message = 'reclaimed: stale processing claim'
		 WHERE status = 'processing' AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reclaim stale claims", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBefore hard-deletes terminal (sent/failed) claims claimed before the
// cutoff. Returns the count of deleted rows.
func (r *ClaimRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM delivery_claims
		 WHERE status IN ('sent', 'failed') AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old claims", err)
	}
	return tag.RowsAffected(), nil
}
