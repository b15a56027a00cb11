package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"

	"inkwell/internal/types"
)

// TerminalJobStore is the retention and recovery path over the job queue
// store.
type TerminalJobStore interface {
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.NotificationJob, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	TerminalStatsBetween(ctx context.Context, from, to time.Time) (processed, succeeded, failed int, avg time.Duration, err error)
	FailStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClaimStore is the retention and recovery path over the claim ledger.
type ClaimStore interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// StatsWriter is the daily rollup write path. PeakBatchBetween supplies the
// queue-depth high-water mark from the day's batch records.
type StatsWriter interface {
	UpsertDailyStats(ctx context.Context, stats *types.DailyStats) error
	PeakBatchBetween(ctx context.Context, from, to time.Time) (int, error)
}

// ArchiveSink receives compressed snapshots of purged jobs before deletion.
type ArchiveSink interface {
	Store(ctx context.Context, name string, data []byte) error
}

// archiveBatchLimit bounds one archival read so a long-neglected retention
// window cannot pull the whole table into memory at once.
const archiveBatchLimit = 5000

// Maintenance is the daily housekeeping pass: reclaim stale processing
// claims and jobs left by crashed workers, roll up the prior day's delivery
// stats, then archive and purge terminal rows past the retention window.
type Maintenance struct {
	jobs       TerminalJobStore
	claims     ClaimStore
	stats      StatsWriter
	archive    ArchiveSink
	loc        *time.Location
	retention  time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewMaintenance builds a Maintenance pass. archive may be nil to purge
// without archival.
func NewMaintenance(jobs TerminalJobStore, claims ClaimStore, stats StatsWriter, archive ArchiveSink, loc *time.Location, retention, staleAfter time.Duration, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Maintenance{
		jobs:       jobs,
		claims:     claims,
		stats:      stats,
		archive:    archive,
		loc:        loc,
		retention:  retention,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// RunDaily executes one maintenance pass. Returns the number of rows purged.
// The three phases are independent; a failure in one is reported but does
// not stop the others, and the first error encountered is returned.
func (m *Maintenance) RunDaily(ctx context.Context, nowUTC time.Time) (int, error) {
	var firstErr error

	staleCutoff := nowUTC.Add(-m.staleAfter)

	reclaimed, err := m.claims.ReclaimStale(ctx, staleCutoff)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to reclaim stale claims", "error", err)
		firstErr = fmt.Errorf("reclaiming stale claims: %w", err)
	} else if reclaimed > 0 {
		m.logger.WarnContext(ctx, "reclaimed stale processing claims", "count", reclaimed)
	}

	// The job rows mirror the claim ledger: a crashed worker leaves both a
	// 'processing' claim and a 'processing' job, and neither the dispatcher
	// nor the purge touches a stuck job again without this.
	staleJobs, err := m.jobs.FailStaleProcessing(ctx, staleCutoff)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to fail stale processing jobs", "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("failing stale processing jobs: %w", err)
		}
	} else if staleJobs > 0 {
		m.logger.WarnContext(ctx, "failed stale processing jobs", "count", staleJobs)
	}

	if err := m.rollupYesterday(ctx, nowUTC); err != nil {
		m.logger.ErrorContext(ctx, "failed to roll up daily stats", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	purged, err := m.purge(ctx, nowUTC)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to purge terminal rows", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	m.logger.InfoContext(ctx, "maintenance pass complete",
		"reclaimed", reclaimed,
		"stale_jobs", staleJobs,
		"purged", purged,
	)

	return purged, firstErr
}

// rollupYesterday aggregates the prior local day's terminal jobs into one
// daily_notification_stats row. The upsert makes re-runs idempotent.
func (m *Maintenance) rollupYesterday(ctx context.Context, nowUTC time.Time) error {
	local := nowUTC.In(m.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.loc)
	from := dayStart.Add(-24 * time.Hour)

	processed, succeeded, failed, avg, err := m.jobs.TerminalStatsBetween(ctx, from, dayStart)
	if err != nil {
		return fmt.Errorf("aggregating stats for %s: %w", from.Format("2006-01-02"), err)
	}

	peak, err := m.stats.PeakBatchBetween(ctx, from, dayStart)
	if err != nil {
		return fmt.Errorf("querying peak batch for %s: %w", from.Format("2006-01-02"), err)
	}

	stats := &types.DailyStats{
		Date:              from.Format("2006-01-02"),
		JobsProcessed:     processed,
		Succeeded:         succeeded,
		Failed:            failed,
		AvgProcessingTime: avg,
		PeakQueueSize:     peak,
	}
	if err := m.stats.UpsertDailyStats(ctx, stats); err != nil {
		return fmt.Errorf("writing daily stats for %s: %w", stats.Date, err)
	}

	m.logger.InfoContext(ctx, "daily stats rolled up",
		"date", stats.Date,
		"processed", stats.JobsProcessed,
		"failed", stats.Failed,
	)
	return nil
}

// purge archives then deletes terminal jobs and claims older than the
// retention window. Deletion only proceeds after the archive write succeeds,
// so a sink outage defers the purge rather than losing history.
func (m *Maintenance) purge(ctx context.Context, nowUTC time.Time) (int, error) {
	cutoff := nowUTC.Add(-m.retention)

	if m.archive != nil {
		old, err := m.jobs.ListTerminalBefore(ctx, cutoff, archiveBatchLimit)
		if err != nil {
			return 0, fmt.Errorf("listing jobs for archival: %w", err)
		}
		if len(old) > 0 {
			name := fmt.Sprintf("jobs_%s_%d.jsonl.gz", cutoff.Format("2006-01-02"), nowUTC.Unix())
			data, err := compressJobs(old)
			if err != nil {
				return 0, fmt.Errorf("compressing archive: %w", err)
			}
			if err := m.archive.Store(ctx, name, data); err != nil {
				return 0, fmt.Errorf("storing archive %s: %w", name, err)
			}
			m.logger.InfoContext(ctx, "archived terminal jobs",
				"archive", name,
				"jobs", len(old),
				"bytes", len(data),
			)
		}
	}

	deletedJobs, err := m.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging terminal jobs: %w", err)
	}

	deletedClaims, err := m.claims.DeleteBefore(ctx, cutoff)
	if err != nil {
		return int(deletedJobs), fmt.Errorf("purging claims: %w", err)
	}

	return int(deletedJobs + deletedClaims), nil
}

// compressJobs serializes jobs as gzip-compressed JSON lines.
func compressJobs(jobs []*types.NotificationJob) ([]byte, error) {
	var buf bytes.Buffer

	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	enc := json.NewEncoder(gz)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			gz.Close()
			return nil, err
		}
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
