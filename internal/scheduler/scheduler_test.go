package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/queue"
)

// mockBatchRunner implements BatchRunner.
type mockBatchRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockBatchRunner) CreateHourlyJobs(ctx context.Context, nowUTC time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return 5, m.err
}

// mockQueueRunner implements QueueRunner. If block is non-nil, ProcessQueue
// waits on it so tests can hold a pass open.
type mockQueueRunner struct {
	mu      sync.Mutex
	calls   int
	lastCtx context.Context
	block   chan struct{}
	err     error
}

func (m *mockQueueRunner) ProcessQueue(ctx context.Context) (queue.Result, error) {
	m.mu.Lock()
	m.calls++
	m.lastCtx = ctx
	m.mu.Unlock()
	if m.block != nil {
		<-m.block
	}
	return queue.Result{Sent: 3}, m.err
}

func (m *mockQueueRunner) passCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCtx
}

func (m *mockQueueRunner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockMaintenanceRunner implements MaintenanceRunner.
type mockMaintenanceRunner struct {
	calls int
}

func (m *mockMaintenanceRunner) RunDaily(ctx context.Context, nowUTC time.Time) (int, error) {
	m.calls++
	return 0, nil
}

// mockRecorder implements RunRecorder.
type mockRecorder struct {
	mu       sync.Mutex
	nextID   int64
	started  []string
	finished []finishedRun
}

type finishedRun struct {
	id     int64
	status string
	items  int
}

func (m *mockRecorder) StartJobHistory(ctx context.Context, jobType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.started = append(m.started, jobType)
	return m.nextID, nil
}

func (m *mockRecorder) FinishJobHistory(ctx context.Context, id int64, status string, items int, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, finishedRun{id: id, status: status, items: items})
	return nil
}

func newTestScheduler(batch BatchRunner, dispatch QueueRunner, recorder RunRecorder) *Scheduler {
	return New(batch, dispatch, &mockMaintenanceRunner{}, recorder, Options{
		Location:         time.UTC,
		DispatchInterval: time.Minute,
	}, nil)
}

func TestWithinHourlyTolerance(t *testing.T) {
	tol := 5 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want bool
	}{
		{
			name: "exactly on the hour",
			now:  time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: true,
		},
		{
			name: "at the tolerance boundary",
			now:  time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC),
			loc:  time.UTC,
			want: true,
		},
		{
			name: "past the tolerance",
			now:  time.Date(2026, 3, 10, 14, 5, 1, 0, time.UTC),
			loc:  time.UTC,
			want: false,
		},
		{
			name: "mid hour",
			now:  time.Date(2026, 3, 10, 14, 33, 0, 0, time.UTC),
			loc:  time.UTC,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinHourlyTolerance(tt.now, tt.loc, tol))
		})
	}
}

func TestWithinHourlyTolerance_HalfHourOffsetZone(t *testing.T) {
	// Kolkata is UTC+5:30: hour boundaries land on UTC minute 30, so the
	// tolerance check must use the business timezone, not UTC minutes.
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 14:33 UTC is 20:03 in Kolkata: inside tolerance there.
	now := time.Date(2026, 3, 10, 14, 33, 0, 0, time.UTC)
	assert.True(t, WithinHourlyTolerance(now, kolkata, 5*time.Minute))
	assert.False(t, WithinHourlyTolerance(now, time.UTC, 5*time.Minute))
}

func TestNextHourBoundary(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "mid hour",
			now:  time.Date(2026, 3, 10, 14, 33, 7, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		},
		{
			name: "day rollover",
			now:  time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "half hour offset zone lands on local minute zero",
			// 14:33 UTC is 20:03 in Kolkata; the next boundary is 21:00
			// local, not the absolute-truncation 20:30.
			now:  time.Date(2026, 3, 10, 14, 33, 0, 0, time.UTC),
			loc:  kolkata,
			want: time.Date(2026, 3, 10, 21, 0, 0, 0, kolkata),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextHourBoundary(tt.now, tt.loc)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)

			// The instant the timer targets must survive the post-wake
			// tolerance check, or the batch creator would never fire.
			assert.True(t, WithinHourlyTolerance(got, tt.loc, 5*time.Minute))
		})
	}
}

func TestRunDispatch_RecordsHistory(t *testing.T) {
	dispatch := &mockQueueRunner{}
	recorder := &mockRecorder{}
	s := newTestScheduler(&mockBatchRunner{}, dispatch, recorder)

	started := s.RunDispatch(context.Background())
	assert.True(t, started)
	assert.Equal(t, 1, dispatch.callCount())

	require.Len(t, recorder.started, 1)
	assert.Equal(t, "dispatch", recorder.started[0])
	require.Len(t, recorder.finished, 1)
	assert.Equal(t, "success", recorder.finished[0].status)
	assert.Equal(t, 3, recorder.finished[0].items)
}

func TestRunDispatch_SkipsWhileRunning(t *testing.T) {
	block := make(chan struct{})
	dispatch := &mockQueueRunner{block: block}
	s := newTestScheduler(&mockBatchRunner{}, dispatch, &mockRecorder{})

	done := make(chan struct{})
	go func() {
		s.RunDispatch(context.Background())
		close(done)
	}()

	// Wait for the first pass to be inside ProcessQueue.
	require.Eventually(t, func() bool {
		return dispatch.callCount() == 1
	}, time.Second, time.Millisecond)

	// A trigger during a running pass is skipped, not queued.
	assert.False(t, s.RunDispatch(context.Background()))
	assert.Equal(t, 1, dispatch.callCount())

	close(block)
	<-done

	// With the first pass finished the guard is released.
	assert.True(t, s.RunDispatch(context.Background()))
	assert.Equal(t, 2, dispatch.callCount())
}

func TestTriggerDispatch_RunsDetachedFromCaller(t *testing.T) {
	block := make(chan struct{})
	dispatch := &mockQueueRunner{block: block}
	recorder := &mockRecorder{}
	s := newTestScheduler(&mockBatchRunner{}, dispatch, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, s.TriggerDispatch(ctx))

	require.Eventually(t, func() bool {
		return dispatch.callCount() == 1
	}, time.Second, time.Millisecond)

	// The trigger shares the re-entrancy guard with the timer path.
	assert.False(t, s.TriggerDispatch(context.Background()))
	assert.False(t, s.RunDispatch(context.Background()))

	// Cancelling the trigger's context must not cancel the running pass.
	cancel()
	assert.NoError(t, dispatch.passCtx().Err())

	close(block)
	require.Eventually(t, func() bool {
		return !s.dispatching.Load()
	}, time.Second, time.Millisecond)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.finished, 1)
	assert.Equal(t, "success", recorder.finished[0].status)
	assert.Equal(t, 3, recorder.finished[0].items)
}

func TestRunBatch_RecordsOutcome(t *testing.T) {
	batch := &mockBatchRunner{}
	recorder := &mockRecorder{}
	s := newTestScheduler(batch, &mockQueueRunner{}, recorder)

	s.runBatch(context.Background(), time.Now().UTC())

	assert.Equal(t, 1, batch.calls)
	require.Len(t, recorder.started, 1)
	assert.Equal(t, "hourly_batch", recorder.started[0])
	require.Len(t, recorder.finished, 1)
	assert.Equal(t, "success", recorder.finished[0].status)
	assert.Equal(t, 5, recorder.finished[0].items)
}

func TestRunBatch_FailureRecordedAsFailed(t *testing.T) {
	batch := &mockBatchRunner{err: assert.AnError}
	recorder := &mockRecorder{}
	s := newTestScheduler(batch, &mockQueueRunner{}, recorder)

	s.runBatch(context.Background(), time.Now().UTC())

	require.Len(t, recorder.finished, 1)
	assert.Equal(t, "failed", recorder.finished[0].status)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(&mockBatchRunner{}, &mockQueueRunner{}, &mockRecorder{})

	s.Start(context.Background())
	// Second Start is a no-op, not a second set of timers.
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop on a stopped scheduler is also a no-op.
	s.Stop()
}

func TestDispatchLoop_TicksInvokeRunDispatch(t *testing.T) {
	dispatch := &mockQueueRunner{}
	s := New(&mockBatchRunner{}, dispatch, &mockMaintenanceRunner{}, &mockRecorder{}, Options{
		Location:         time.UTC,
		DispatchInterval: 10 * time.Millisecond,
	}, nil)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return dispatch.callCount() >= 2
	}, time.Second, 5*time.Millisecond)
}
