// Package scheduler is the timezone-aware trigger layer for the
// notification queue. It composes three timers against a single business
// timezone: an hourly batch-creation tick aligned to minute 0, a short
// dispatch tick, and a daily maintenance tick. The scheduler owns its
// lifecycle state explicitly — Start binds the timers, Stop cancels them
// and waits for in-flight runs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"inkwell/internal/queue"
)

// BatchRunner is the Batch Creator as seen by the scheduler.
type BatchRunner interface {
	CreateHourlyJobs(ctx context.Context, nowUTC time.Time) (int, error)
}

// QueueRunner is the Dispatcher as seen by the scheduler.
type QueueRunner interface {
	ProcessQueue(ctx context.Context) (queue.Result, error)
}

// MaintenanceRunner is the daily maintenance pass as seen by the scheduler.
type MaintenanceRunner interface {
	RunDaily(ctx context.Context, nowUTC time.Time) (int, error)
}

// RunRecorder records scheduler-triggered runs in the job_history table.
// Recording failures are logged and never block a run.
type RunRecorder interface {
	StartJobHistory(ctx context.Context, jobType string) (int64, error)
	FinishJobHistory(ctx context.Context, id int64, status string, items int, runErr error) error
}

// Options tunes the scheduler's timers.
type Options struct {
	// Location is the business timezone for hour alignment and the daily
	// maintenance boundary.
	Location *time.Location

	// DispatchInterval is the period of the dispatcher tick.
	DispatchInterval time.Duration

	// HourlyTolerance is how far past the top of the hour a batch tick may
	// fire and still run; a later tick is skipped entirely so a delayed
	// timer cannot fire a stale hour's batch.
	HourlyTolerance time.Duration

	// MaintenanceAt is the local time-of-day offset past midnight for the
	// daily maintenance tick.
	MaintenanceAt time.Duration
}

// Scheduler drives the queue components. All state lives on the instance;
// there are no package-level flags.
type Scheduler struct {
	batch       BatchRunner
	dispatcher  QueueRunner
	maintenance MaintenanceRunner
	recorder    RunRecorder
	opts        Options
	logger      *slog.Logger

	// dispatching guards against re-entrant dispatcher runs: a tick that
	// fires while a prior pass is still executing is skipped, not queued.
	dispatching atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a Scheduler. Zero option fields get production defaults.
func New(batch BatchRunner, dispatcher QueueRunner, maintenance MaintenanceRunner, recorder RunRecorder, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DispatchInterval <= 0 {
		opts.DispatchInterval = 2 * time.Minute
	}
	if opts.HourlyTolerance <= 0 {
		opts.HourlyTolerance = 5 * time.Minute
	}
	if opts.MaintenanceAt <= 0 {
		opts.MaintenanceAt = 30 * time.Minute
	}
	return &Scheduler{
		batch:       batch,
		dispatcher:  dispatcher,
		maintenance: maintenance,
		recorder:    recorder,
		opts:        opts,
		logger:      logger,
	}
}

// Start binds the three timers. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.wg.Add(3)
	go s.hourlyLoop(runCtx)
	go s.dispatchLoop(runCtx)
	go s.maintenanceLoop(runCtx)

	s.logger.Info("scheduler started",
		"timezone", s.opts.Location.String(),
		"dispatch_interval", s.opts.DispatchInterval.String(),
	)
}

// Stop cancels the timers and waits for in-flight runs to finish. In-flight
// deliveries are not interrupted mid-send; resumption after a crash relies
// on the claim protocol, not on graceful draining.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// WithinHourlyTolerance reports whether now (in loc) is within tol past the
// top of the hour.
func WithinHourlyTolerance(now time.Time, loc *time.Location, tol time.Duration) bool {
	local := now.In(loc)
	hourStart := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	return local.Sub(hourStart) <= tol
}

// nextHourBoundary returns the next top of the hour in loc. The boundary is
// built from local wall-clock fields rather than absolute truncation, so
// zones with fractional UTC offsets still land on local minute 0.
func nextHourBoundary(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour()+1, 0, 0, 0, loc)
}

// hourlyLoop fires the Batch Creator at each top of the hour. The timer
// targets the next hour boundary; after each wake the wall clock is checked
// against the tolerance window, so a tick delayed past minute 5 (suspended
// host, clock jump) skips that hour's batch entirely.
func (s *Scheduler) hourlyLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := time.Now()
		next := nextHourBoundary(now, s.opts.Location)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		fired := time.Now().UTC()
		if !WithinHourlyTolerance(fired, s.opts.Location, s.opts.HourlyTolerance) {
			s.logger.Warn("hourly tick outside tolerance window, skipping batch",
				"fired_at", fired.Format(time.RFC3339),
			)
			continue
		}

		s.runBatch(ctx, fired)
	}
}

// runBatch invokes the Batch Creator once and records the run.
func (s *Scheduler) runBatch(ctx context.Context, nowUTC time.Time) {
	historyID := s.startHistory(ctx, "hourly_batch")

	queued, err := s.batch.CreateHourlyJobs(ctx, nowUTC)
	if err != nil {
		s.logger.Error("hourly batch creation failed", "error", err)
		s.finishHistory(ctx, historyID, "failed", queued, err)
		return
	}

	s.finishHistory(ctx, historyID, "success", queued, nil)
}

// dispatchLoop fires the Dispatcher on the short interval. Overlapping
// runs are skipped via the dispatching flag.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDispatch(ctx)
		}
	}
}

// RunDispatch executes one dispatcher pass unless one is already running.
// Returns false when the pass was skipped due to re-entrancy.
func (s *Scheduler) RunDispatch(ctx context.Context) bool {
	if !s.dispatching.CompareAndSwap(false, true) {
		s.logger.Info("dispatch tick skipped, previous pass still running")
		return false
	}
	defer s.dispatching.Store(false)

	s.runPass(ctx)
	return true
}

// TriggerDispatch starts a dispatcher pass in the background unless one is
// already running, sharing RunDispatch's guard. The pass runs on a context
// detached from the caller's cancellation, so the admin trigger's connection
// lifetime does not bound the pass; interruption by process exit is recovered
// through the claim protocol.
func (s *Scheduler) TriggerDispatch(ctx context.Context) bool {
	if !s.dispatching.CompareAndSwap(false, true) {
		s.logger.Info("dispatch trigger skipped, previous pass still running")
		return false
	}

	passCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.dispatching.Store(false)
		s.runPass(passCtx)
	}()
	return true
}

// runPass runs one dispatcher pass and records it. Callers hold the
// dispatching guard.
func (s *Scheduler) runPass(ctx context.Context) {
	historyID := s.startHistory(ctx, "dispatch")

	result, err := s.dispatcher.ProcessQueue(ctx)
	if err != nil {
		s.logger.Error("queue pass failed", "error", err)
		s.finishHistory(ctx, historyID, "failed", result.Sent, err)
		return
	}

	s.finishHistory(ctx, historyID, "success", result.Sent, nil)
}

// maintenanceLoop fires the maintenance pass once per local day, at
// MaintenanceAt past midnight in the business timezone.
func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := time.Now().In(s.opts.Location)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location).
			Add(24*time.Hour + s.opts.MaintenanceAt)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		historyID := s.startHistory(ctx, "maintenance")
		items, err := s.maintenance.RunDaily(ctx, time.Now().UTC())
		if err != nil {
			s.logger.Error("maintenance pass failed", "error", err)
			s.finishHistory(ctx, historyID, "failed", items, err)
			continue
		}
		s.finishHistory(ctx, historyID, "success", items, nil)
	}
}

func (s *Scheduler) startHistory(ctx context.Context, jobType string) int64 {
	if s.recorder == nil {
		return 0
	}
	id, err := s.recorder.StartJobHistory(ctx, jobType)
	if err != nil {
		s.logger.Error("failed to start job history", "job_type", jobType, "error", err)
		return 0
	}
	return id
}

func (s *Scheduler) finishHistory(ctx context.Context, id int64, status string, items int, runErr error) {
	if s.recorder == nil || id == 0 {
		return
	}
	if err := s.recorder.FinishJobHistory(ctx, id, status, items, runErr); err != nil {
		s.logger.Error("failed to finish job history", "history_id", id, "error", err)
	}
}
