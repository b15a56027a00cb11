package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/types"
)

// mockTerminalJobs implements TerminalJobStore.
type mockTerminalJobs struct {
	terminal []*types.NotificationJob
	listErr  error

	deleteCutoff time.Time
	deleted      int64
	deleteCalled bool

	statsFrom time.Time
	statsTo   time.Time

	staleCutoff time.Time
	staleFailed int64
}

func (m *mockTerminalJobs) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.NotificationJob, error) {
	return m.terminal, m.listErr
}

func (m *mockTerminalJobs) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.deleteCalled = true
	m.deleteCutoff = cutoff
	return m.deleted, nil
}

func (m *mockTerminalJobs) TerminalStatsBetween(ctx context.Context, from, to time.Time) (int, int, int, time.Duration, error) {
	m.statsFrom = from
	m.statsTo = to
	return 120, 110, 10, 340 * time.Millisecond, nil
}

func (m *mockTerminalJobs) FailStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	m.staleCutoff = cutoff
	return m.staleFailed, nil
}

// mockClaimStore implements ClaimStore.
type mockClaimStore struct {
	reclaimCutoff time.Time
	reclaimed     int64
	deleteCutoff  time.Time
	deleted       int64
}

func (m *mockClaimStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.deleteCutoff = cutoff
	return m.deleted, nil
}

func (m *mockClaimStore) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	m.reclaimCutoff = olderThan
	return m.reclaimed, nil
}

// mockStatsWriter implements StatsWriter.
type mockStatsWriter struct {
	upserted *types.DailyStats
	peak     int
}

func (m *mockStatsWriter) UpsertDailyStats(ctx context.Context, stats *types.DailyStats) error {
	m.upserted = stats
	return nil
}

func (m *mockStatsWriter) PeakBatchBetween(ctx context.Context, from, to time.Time) (int, error) {
	return m.peak, nil
}

// mockSink implements ArchiveSink.
type mockSink struct {
	err   error
	name  string
	data  []byte
	calls int
}

func (m *mockSink) Store(ctx context.Context, name string, data []byte) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.name = name
	m.data = data
	return nil
}

func TestRunDaily_ReclaimsStaleClaims(t *testing.T) {
	jobs := &mockTerminalJobs{}
	claims := &mockClaimStore{reclaimed: 2}

	m := NewMaintenance(jobs, claims, &mockStatsWriter{}, nil, time.UTC, 720*time.Hour, 15*time.Minute, nil)

	now := time.Date(2026, 8, 28, 0, 30, 0, 0, time.UTC)
	_, err := m.RunDaily(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-15*time.Minute), claims.reclaimCutoff)
}

func TestRunDaily_FailsStaleProcessingJobs(t *testing.T) {
	jobs := &mockTerminalJobs{staleFailed: 3}
	claims := &mockClaimStore{}

	m := NewMaintenance(jobs, claims, &mockStatsWriter{}, nil, time.UTC, 720*time.Hour, 15*time.Minute, nil)

	now := time.Date(2026, 8, 28, 0, 30, 0, 0, time.UTC)
	_, err := m.RunDaily(context.Background(), now)
	require.NoError(t, err)

	// A crashed worker strands both a claim and its job in 'processing';
	// the recovery phase clears both at the same cutoff.
	assert.Equal(t, now.Add(-15*time.Minute), jobs.staleCutoff)
	assert.Equal(t, jobs.staleCutoff, claims.reclaimCutoff)
}

func TestRunDaily_RollsUpPriorLocalDay(t *testing.T) {
	jobs := &mockTerminalJobs{}
	stats := &mockStatsWriter{peak: 480}

	m := NewMaintenance(jobs, &mockClaimStore{}, stats, nil, time.UTC, 720*time.Hour, 15*time.Minute, nil)

	now := time.Date(2026, 8, 28, 0, 30, 0, 0, time.UTC)
	_, err := m.RunDaily(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), jobs.statsFrom)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), jobs.statsTo)

	require.NotNil(t, stats.upserted)
	assert.Equal(t, "2026-08-27", stats.upserted.Date)
	assert.Equal(t, 120, stats.upserted.JobsProcessed)
	assert.Equal(t, 110, stats.upserted.Succeeded)
	assert.Equal(t, 10, stats.upserted.Failed)
	assert.Equal(t, 340*time.Millisecond, stats.upserted.AvgProcessingTime)
	assert.Equal(t, 480, stats.upserted.PeakQueueSize)
}

func TestRunDaily_RollupUsesBusinessTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	jobs := &mockTerminalJobs{}
	stats := &mockStatsWriter{}
	m := NewMaintenance(jobs, &mockClaimStore{}, stats, nil, tokyo, 720*time.Hour, 15*time.Minute, nil)

	// 16:00 UTC on the 27th is already 01:00 on the 28th in Tokyo, so the
	// rolled-up day is Tokyo's 27th.
	now := time.Date(2026, 8, 27, 16, 0, 0, 0, time.UTC)
	_, err = m.RunDaily(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 8, 27, 0, 0, 0, 0, tokyo), jobs.statsFrom)
	assert.Equal(t, "2026-08-27", stats.upserted.Date)
}

func TestRunDaily_ArchivesBeforePurging(t *testing.T) {
	old := []*types.NotificationJob{
		{ID: "job-1", UserID: "user-1", Status: types.JobCompleted},
		{ID: "job-2", UserID: "user-2", Status: types.JobFailed},
	}
	jobs := &mockTerminalJobs{terminal: old, deleted: 2}
	claims := &mockClaimStore{deleted: 3}
	sink := &mockSink{}

	m := NewMaintenance(jobs, claims, &mockStatsWriter{}, sink, time.UTC, 720*time.Hour, 15*time.Minute, nil)

	now := time.Date(2026, 8, 28, 0, 30, 0, 0, time.UTC)
	purged, err := m.RunDaily(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 5, purged)

	require.Equal(t, 1, sink.calls)
	assert.Contains(t, sink.name, ".jsonl.gz")

	// The archive is gzip-compressed JSON lines of the purged jobs.
	gz, err := gzip.NewReader(bytes.NewReader(sink.data))
	require.NoError(t, err)
	defer gz.Close()

	var ids []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var job types.NotificationJob
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &job))
		ids = append(ids, job.ID)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"job-1", "job-2"}, ids)

	// Both stores were purged at the retention cutoff.
	cutoff := now.Add(-720 * time.Hour)
	assert.Equal(t, cutoff, jobs.deleteCutoff)
	assert.Equal(t, cutoff, claims.deleteCutoff)
}

func TestRunDaily_ArchiveFailureDefersPurge(t *testing.T) {
	jobs := &mockTerminalJobs{
		terminal: []*types.NotificationJob{{ID: "job-1"}},
	}
	sink := &mockSink{err: errors.New("disk full")}

	m := NewMaintenance(jobs, &mockClaimStore{}, &mockStatsWriter{}, sink, time.UTC, 720*time.Hour, 15*time.Minute, nil)

	_, err := m.RunDaily(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.False(t, jobs.deleteCalled, "rows must survive until archived")
}

func TestRunDaily_NilSinkPurgesWithoutArchive(t *testing.T) {
	jobs := &mockTerminalJobs{deleted: 7}

	m := NewMaintenance(jobs, &mockClaimStore{}, &mockStatsWriter{}, nil, time.UTC, 720*time.Hour, 15*time.Minute, nil)

	purged, err := m.RunDaily(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 7, purged)
	assert.True(t, jobs.deleteCalled)
}

func TestRunDaily_NoTerminalRowsSkipsArchiveWrite(t *testing.T) {
	sink := &mockSink{}
	jobs := &mockTerminalJobs{}

	m := NewMaintenance(jobs, &mockClaimStore{}, &mockStatsWriter{}, sink, time.UTC, 720*time.Hour, 15*time.Minute, nil)

	_, err := m.RunDaily(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, sink.calls)
	assert.True(t, jobs.deleteCalled)
}
