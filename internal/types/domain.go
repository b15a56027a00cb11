// Package types defines the shared domain entities, enumerations, and error
// taxonomy for the Inkwell notification queue service. All other packages
// depend on types; types depends on nothing inside the module.
package types

import (
	"time"
)

// JobType identifies the kind of notification a job delivers.
type JobType string

const (
	JobDailyDigest    JobType = "daily_digest"
	JobGoalReminder   JobType = "goal_reminder"
	JobMilestoneAlert JobType = "milestone_alert"
)

// Valid reports whether the job type is one of the known kinds.
func (t JobType) Valid() bool {
	switch t {
	case JobDailyDigest, JobGoalReminder, JobMilestoneAlert:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a NotificationJob. Transitions are
// strictly pending -> processing -> {completed, failed}; retries happen
// inside the processing state and are not externally visible.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further automatic transition occurs.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job priorities. Higher is more urgent. Hourly batches use PriorityNormal;
// operator-triggered bulk runs and single-user triggers preempt them.
const (
	PriorityNormal     = 5
	PriorityBulkManual = 7
	PriorityUserManual = 8
)

// DefaultMaxRetries bounds delivery attempts per job: a job is attempted at
// most DefaultMaxRetries+1 times before it is marked failed.
const DefaultMaxRetries = 3

// NotificationJob is one unit of work: one notification to be attempted for
// one user. Jobs are created by the Batch Creator or a manual admin trigger
// and mutated only by the Dispatcher.
type NotificationJob struct {
	ID            string         `json:"id"`
	JobType       JobType        `json:"job_type"`
	UserID        string         `json:"user_id"`
	Address       string         `json:"destination_address"`
	Priority      int            `json:"priority"`
	ScheduledFor  time.Time      `json:"scheduled_for"`
	Status        JobStatus      `json:"status"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	Payload       map[string]any `json:"payload,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	FailedAt      time.Time      `json:"failed_at"`
	ProcessingDur time.Duration  `json:"processing_duration,omitempty"`
}

// ClaimStatus is the state of a DeliveryClaim row in the idempotency ledger.
type ClaimStatus string

const (
	ClaimProcessing ClaimStatus = "processing"
	ClaimSent       ClaimStatus = "sent"
	ClaimFailed     ClaimStatus = "failed"
)

// DeliveryClaim is the idempotency record proving that a (user, type, day)
// tuple is owned by exactly one processing attempt. The ledger enforces a
// unique constraint on (user_id, job_type, calendar_day); existence of a
// non-failed row blocks re-processing for that day.
type DeliveryClaim struct {
	UserID       string      `json:"user_id"`
	JobType      JobType     `json:"job_type"`
	CalendarDay  string      `json:"calendar_day"` // YYYY-MM-DD in the business timezone
	Address      string      `json:"address"`
	Status       ClaimStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
	ClaimedAt    time.Time   `json:"claimed_at"`
	SentAt       time.Time   `json:"sent_at"`
}

// EligibilitySetting is the read-only view of a user's digest preferences,
// owned by the account-settings subsystem. The queue core reads only the
// rows whose time_slot matches the current hour.
type EligibilitySetting struct {
	UserID      string         `json:"user_id"`
	Enabled     bool           `json:"enabled"`
	TimeSlot    string         `json:"time_slot"` // "HH:00"
	Timezone    string         `json:"timezone"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// BatchRecord tracks one Batch Creator run for analytics. It carries no
// control-flow weight; idempotency is enforced by the claim ledger at
// dispatch time, not at creation time.
type BatchRecord struct {
	BatchID    string    `json:"batch_id"`
	HourSlot   string    `json:"hour_slot"`
	TotalUsers int       `json:"total_users"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkerHeartbeatMaxAge is the staleness cutoff beyond which a worker is no
// longer counted as active.
const WorkerHeartbeatMaxAge = 5 * time.Minute

// WorkerHeartbeat is a dispatcher liveness signal, upserted at the start of
// every queue pass.
type WorkerHeartbeat struct {
	WorkerID      string    `json:"worker_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Status        string    `json:"status"`
}

// Active reports whether the heartbeat is fresh relative to now.
func (w WorkerHeartbeat) Active(now time.Time) bool {
	return now.Sub(w.LastHeartbeat) < WorkerHeartbeatMaxAge
}

// DailyStats is the once-daily rollup of the prior day's terminal jobs.
type DailyStats struct {
	Date              string        `json:"date"` // YYYY-MM-DD
	JobsProcessed     int           `json:"jobs_processed"`
	Succeeded         int           `json:"succeeded"`
	Failed            int           `json:"failed"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	PeakQueueSize     int           `json:"peak_queue_size"`
}

// Recipient is the resolved delivery identity for a user.
type Recipient struct {
	UserID      string `json:"user_id"`
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone,omitempty"`
}

// Content is the opaque rendered notification handed to the delivery
// capability. The queue core never inspects Body beyond emptiness.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CalendarDay formats t in loc as the ledger's YYYY-MM-DD day key.
func CalendarDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
