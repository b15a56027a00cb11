// Package queue implements the notification queue core: the Batch Creator
// that turns hourly eligibility into durable job records, the Dispatcher
// that drains pending jobs through a bounded concurrent worker pool, and the
// Claim-Process-Finalize processor that guarantees at-most-one delivery per
// (user, type, day) tuple with bounded retries.
package queue

import (
	"context"
	"time"

	"inkwell/internal/types"
)

// ContentGenerator is the content-building capability. A nil Content with a
// nil error is a processing failure ("content generation failed"), not an
// exception; the processor retries it like any delivery failure.
type ContentGenerator interface {
	Generate(ctx context.Context, userID string, jobType types.JobType) (*types.Content, error)
}

// Deliverer is the transport capability. A false return means the delivery
// failed and should be retried; a returned error is treated the same way.
type Deliverer interface {
	Deliver(ctx context.Context, content *types.Content, address string) (bool, error)
}

// RecipientResolver maps a user ID to their delivery identity.
type RecipientResolver interface {
	Resolve(ctx context.Context, userID string) (*types.Recipient, error)
}

// Sleeper abstracts backoff and inter-batch waits so the retry schedule is
// testable with a fake clock. The real implementation honors context
// cancellation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// StdSleeper is the production Sleeper backed by a timer.
type StdSleeper struct{}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
func (StdSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackoffDelay returns the wait before the next attempt for the given retry
// count: 2^retryCount seconds, so 1s, 2s, 4s for counts 0, 1, 2. No jitter;
// the inter-batch delay already spaces bursts toward the provider.
func BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 10 {
		retryCount = 10
	}
	return (1 << retryCount) * time.Second
}

// Result aggregates the outcome of one dispatcher pass.
type Result struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Outcome classifies one job's trip through the claim protocol.
type Outcome int

const (
	// OutcomeSent: the delivery capability was invoked and succeeded.
	OutcomeSent Outcome = iota
	// OutcomeSkipped: duplicate suppression; the tuple was already owned or
	// already sent, and the delivery capability was not invoked.
	OutcomeSkipped
	// OutcomeFailed: retries exhausted; job and claim are terminally failed.
	OutcomeFailed
)
