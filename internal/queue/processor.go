package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"inkwell/internal/types"
)

// ClaimLedger is the idempotency ledger consumed by the Processor. TryClaim
// is an atomic conditional insert; its uniqueness constraint is the only
// synchronization primitive the protocol relies on.
type ClaimLedger interface {
	Latest(ctx context.Context, userID string, jobType types.JobType, day string) (*types.DeliveryClaim, error)
	TryClaim(ctx context.Context, userID string, jobType types.JobType, day, address string) (claimed bool, err error)
	MarkSent(ctx context.Context, userID string, jobType types.JobType, day, address string) error
	MarkFailed(ctx context.Context, userID string, jobType types.JobType, day, errMsg string, retryCount int) error
	UpdateRetryCount(ctx context.Context, userID string, jobType types.JobType, day string, retryCount int) error
}

// JobFinalizer is the job-status write path consumed by the Processor. The
// worker that claimed a job owns its lifecycle exclusively until finalize.
type JobFinalizer interface {
	MarkCompleted(ctx context.Context, jobID string, duration time.Duration) error
	MarkFailed(ctx context.Context, jobID string, errMsg string, retryCount int) error
	UpdateRetryCount(ctx context.Context, jobID string, retryCount int) error
}

// Processor runs the Claim-Process-Finalize protocol for one job:
//
//  1. Check: a non-failed claim for (user, type, day) means the tuple was
//     already handled today — succeed without delivering.
//  2. Claim: insert a 'processing' claim; losing the insert race to a
//     concurrent pass is also success without delivering.
//  3. Process: resolve recipient, generate content, deliver. Failures loop
//     with exponential backoff while retry budget remains; the claim stays
//     'processing' for the whole loop.
//  4. Finalize: claim 'sent' + job 'completed' on success; claim 'failed' +
//     job 'failed' once retries are exhausted.
type Processor struct {
	claims    ClaimLedger
	jobs      JobFinalizer
	resolver  RecipientResolver
	content   ContentGenerator
	deliverer Deliverer
	sleeper   Sleeper
	loc       *time.Location
	logger    *slog.Logger
}

// NewProcessor builds a Processor. The sleeper is injected so tests can run
// the backoff schedule against a fake clock.
func NewProcessor(claims ClaimLedger, jobs JobFinalizer, resolver RecipientResolver, content ContentGenerator, deliverer Deliverer, sleeper Sleeper, loc *time.Location, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if sleeper == nil {
		sleeper = StdSleeper{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Processor{
		claims:    claims,
		jobs:      jobs,
		resolver:  resolver,
		content:   content,
		deliverer: deliverer,
		sleeper:   sleeper,
		loc:       loc,
		logger:    logger,
	}
}

// Process runs the protocol for job. The returned error reports persistence
// problems only; a delivery that exhausts its retries is a normal
// OutcomeFailed, not an error.
func (p *Processor) Process(ctx context.Context, job *types.NotificationJob) (Outcome, error) {
	day := types.CalendarDay(time.Now().UTC(), p.loc)

	logger := p.logger.With(
		"job_id", job.ID,
		"user_id", job.UserID,
		"job_type", string(job.JobType),
		"calendar_day", day,
	)

	// Step 1: duplicate check against the ledger.
	existing, err := p.claims.Latest(ctx, job.UserID, job.JobType, day)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("checking claim: %w", err)
	}
	if existing != nil && existing.Status != types.ClaimFailed {
		logger.InfoContext(ctx, "claim already held, suppressing duplicate",
			"claim_status", string(existing.Status),
		)
		if err := p.jobs.MarkCompleted(ctx, job.ID, 0); err != nil {
			return OutcomeSkipped, fmt.Errorf("completing suppressed job: %w", err)
		}
		return OutcomeSkipped, nil
	}

	// Step 2: claim the tuple. Losing the race is success, not an error:
	// this is what makes overlapping ticks and manual triggers safe against
	// double-send.
	claimed, err := p.claims.TryClaim(ctx, job.UserID, job.JobType, day, job.Address)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("claiming tuple: %w", err)
	}
	if !claimed {
		logger.InfoContext(ctx, "claim race lost, another worker owns the tuple")
		if err := p.jobs.MarkCompleted(ctx, job.ID, 0); err != nil {
			return OutcomeSkipped, fmt.Errorf("completing suppressed job: %w", err)
		}
		return OutcomeSkipped, nil
	}

	// Steps 3-5: attempt delivery with a bounded retry loop. An explicit
	// loop, not recursion: the schedule stays testable and the stack flat.
	start := time.Now()
	retryCount := 0
	var lastErr string

	for {
		sendErr := p.attempt(ctx, job)
		if sendErr == nil {
			if err := p.claims.MarkSent(ctx, job.UserID, job.JobType, day, job.Address); err != nil {
				return OutcomeSent, fmt.Errorf("finalizing claim: %w", err)
			}
			if err := p.jobs.MarkCompleted(ctx, job.ID, time.Since(start)); err != nil {
				return OutcomeSent, fmt.Errorf("finalizing job: %w", err)
			}
			logger.InfoContext(ctx, "notification delivered",
				"attempts", retryCount+1,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return OutcomeSent, nil
		}

		lastErr = sendErr.Error()
		if retryCount >= job.MaxRetries {
			break
		}

		delay := BackoffDelay(retryCount)
		retryCount++

		logger.WarnContext(ctx, "delivery failed, backing off",
			"retry_count", retryCount,
			"max_retries", job.MaxRetries,
			"delay", delay.String(),
			"error", lastErr,
		)

		// Bookkeeping failures are logged, not fatal: the retry itself is
		// the recovery path.
		if err := p.claims.UpdateRetryCount(ctx, job.UserID, job.JobType, day, retryCount); err != nil {
			logger.ErrorContext(ctx, "failed to update claim retry count", "error", err)
		}
		if err := p.jobs.UpdateRetryCount(ctx, job.ID, retryCount); err != nil {
			logger.ErrorContext(ctx, "failed to update job retry count", "error", err)
		}

		if err := p.sleeper.Sleep(ctx, delay); err != nil {
			// Shutdown mid-backoff: leave the claim 'processing'; the
			// stale-claim reclaim frees the tuple after restart.
			return OutcomeFailed, fmt.Errorf("backoff interrupted: %w", err)
		}
	}

	// Retries exhausted: terminal failure with the error recorded for
	// operator follow-up.
	if err := p.claims.MarkFailed(ctx, job.UserID, job.JobType, day, lastErr, retryCount); err != nil {
		return OutcomeFailed, fmt.Errorf("finalizing failed claim: %w", err)
	}
	if err := p.jobs.MarkFailed(ctx, job.ID, lastErr, retryCount); err != nil {
		return OutcomeFailed, fmt.Errorf("finalizing failed job: %w", err)
	}

	logger.ErrorContext(ctx, "notification permanently failed",
		"attempts", retryCount+1,
		"error", lastErr,
	)

	return OutcomeFailed, nil
}

// attempt performs one resolve-generate-deliver pass. Any failure mode is
// collapsed to an error; the caller decides whether budget remains.
func (p *Processor) attempt(ctx context.Context, job *types.NotificationJob) error {
	recipient, err := p.resolver.Resolve(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("resolving recipient: %w", err)
	}

	address := job.Address
	if address == "" {
		address = recipient.Address
	}
	if address == "" {
		return fmt.Errorf("no destination address for user %s", job.UserID)
	}
	job.Address = address

	content, err := p.content.Generate(ctx, job.UserID, job.JobType)
	if err != nil {
		return fmt.Errorf("generating content: %w", err)
	}
	if content == nil {
		return fmt.Errorf("content generation failed")
	}

	ok, err := p.deliverer.Deliver(ctx, content, address)
	if err != nil {
		return fmt.Errorf("delivering: %w", err)
	}
	if !ok {
		return fmt.Errorf("delivery rejected by provider")
	}

	return nil
}
