package queue

import (
	"context"
	"sync"
	"time"

	"inkwell/internal/types"
)

// mockSettings implements SettingsReader.
type mockSettings struct {
	forSlotFn func(ctx context.Context, slot string) ([]types.EligibilitySetting, error)
	allFn     func(ctx context.Context) ([]types.EligibilitySetting, error)

	lastSlot string
}

func (m *mockSettings) ListEnabledForSlot(ctx context.Context, slot string) ([]types.EligibilitySetting, error) {
	m.lastSlot = slot
	if m.forSlotFn != nil {
		return m.forSlotFn(ctx, slot)
	}
	return nil, nil
}

func (m *mockSettings) ListAllEnabled(ctx context.Context) ([]types.EligibilitySetting, error) {
	if m.allFn != nil {
		return m.allFn(ctx)
	}
	return nil, nil
}

// mockJobWriter implements JobWriter and records created jobs.
type mockJobWriter struct {
	mu       sync.Mutex
	createFn func(ctx context.Context, job *types.NotificationJob) error
	created  []*types.NotificationJob
}

func (m *mockJobWriter) Create(ctx context.Context, job *types.NotificationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createFn != nil {
		if err := m.createFn(ctx, job); err != nil {
			return err
		}
	}
	m.created = append(m.created, job)
	return nil
}

// mockBatchWriter implements BatchWriter.
type mockBatchWriter struct {
	err     error
	batches []*types.BatchRecord
}

func (m *mockBatchWriter) CreateBatchRecord(ctx context.Context, batch *types.BatchRecord) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, batch)
	return nil
}

// mockClaims implements ClaimLedger with per-call overrides and call
// recording. The zero value claims every tuple successfully.
type mockClaims struct {
	mu sync.Mutex

	latestFn   func(ctx context.Context, userID string, jobType types.JobType, day string) (*types.DeliveryClaim, error)
	tryClaimFn func(ctx context.Context, userID string, jobType types.JobType, day, address string) (bool, error)
	markSentFn func(ctx context.Context, userID string, jobType types.JobType, day, address string) error

	sent        []string
	failed      []string
	failedMsgs  []string
	retryCounts []int
}

func (m *mockClaims) Latest(ctx context.Context, userID string, jobType types.JobType, day string) (*types.DeliveryClaim, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, userID, jobType, day)
	}
	return nil, nil
}

func (m *mockClaims) TryClaim(ctx context.Context, userID string, jobType types.JobType, day, address string) (bool, error) {
	if m.tryClaimFn != nil {
		return m.tryClaimFn(ctx, userID, jobType, day, address)
	}
	return true, nil
}

func (m *mockClaims) MarkSent(ctx context.Context, userID string, jobType types.JobType, day, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markSentFn != nil {
		return m.markSentFn(ctx, userID, jobType, day, address)
	}
	m.sent = append(m.sent, userID)
	return nil
}

func (m *mockClaims) MarkFailed(ctx context.Context, userID string, jobType types.JobType, day, errMsg string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, userID)
	m.failedMsgs = append(m.failedMsgs, errMsg)
	return nil
}

func (m *mockClaims) UpdateRetryCount(ctx context.Context, userID string, jobType types.JobType, day string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCounts = append(m.retryCounts, retryCount)
	return nil
}

// mockFinalizer implements JobFinalizer.
type mockFinalizer struct {
	mu sync.Mutex

	completed   []string
	failed      []string
	failedMsgs  []string
	retryCounts []int
	durations   []time.Duration
}

func (m *mockFinalizer) MarkCompleted(ctx context.Context, jobID string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, jobID)
	m.durations = append(m.durations, duration)
	return nil
}

func (m *mockFinalizer) MarkFailed(ctx context.Context, jobID string, errMsg string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, jobID)
	m.failedMsgs = append(m.failedMsgs, errMsg)
	return nil
}

func (m *mockFinalizer) UpdateRetryCount(ctx context.Context, jobID string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCounts = append(m.retryCounts, retryCount)
	return nil
}

// mockResolver implements RecipientResolver.
type mockResolver struct {
	resolveFn func(ctx context.Context, userID string) (*types.Recipient, error)
}

func (m *mockResolver) Resolve(ctx context.Context, userID string) (*types.Recipient, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, userID)
	}
	return &types.Recipient{UserID: userID, Address: userID + "@example.com"}, nil
}

// mockContent implements ContentGenerator.
type mockContent struct {
	generateFn func(ctx context.Context, userID string, jobType types.JobType) (*types.Content, error)
}

func (m *mockContent) Generate(ctx context.Context, userID string, jobType types.JobType) (*types.Content, error) {
	if m.generateFn != nil {
		return m.generateFn(ctx, userID, jobType)
	}
	return &types.Content{Subject: "subject", Body: "body"}, nil
}

// mockDeliverer implements Deliverer and counts invocations.
type mockDeliverer struct {
	mu        sync.Mutex
	deliverFn func(ctx context.Context, content *types.Content, address string) (bool, error)
	calls     int
	addresses []string
}

func (m *mockDeliverer) Deliver(ctx context.Context, content *types.Content, address string) (bool, error) {
	m.mu.Lock()
	m.calls++
	m.addresses = append(m.addresses, address)
	m.mu.Unlock()

	if m.deliverFn != nil {
		return m.deliverFn(ctx, content, address)
	}
	return true, nil
}

func (m *mockDeliverer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeSleeper records requested delays without waiting.
type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.delays = append(s.delays, d)
	return nil
}

func (s *fakeSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// mockPendingSource implements PendingSource.
type mockPendingSource struct {
	mu sync.Mutex

	listFn           func(ctx context.Context, now time.Time, limit int) ([]*types.NotificationJob, error)
	markProcessingFn func(ctx context.Context, jobID string) (bool, error)

	lastLimit int
	marked    []string
}

func (m *mockPendingSource) ListPending(ctx context.Context, now time.Time, limit int) ([]*types.NotificationJob, error) {
	m.lastLimit = limit
	if m.listFn != nil {
		return m.listFn(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockPendingSource) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	m.marked = append(m.marked, jobID)
	m.mu.Unlock()
	if m.markProcessingFn != nil {
		return m.markProcessingFn(ctx, jobID)
	}
	return true, nil
}

// mockHeartbeats implements HeartbeatWriter.
type mockHeartbeats struct {
	err   error
	calls int
	last  string
}

func (m *mockHeartbeats) Heartbeat(ctx context.Context, workerID, status string) error {
	m.calls++
	m.last = workerID
	return m.err
}
