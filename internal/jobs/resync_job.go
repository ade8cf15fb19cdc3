package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
)

const resyncConcurrency = 10

type ResyncReport struct {
	Scanned   int
	Scheduled int
	// Kept counts entries whose job was running or waiting to retry.
	Kept    int
	Failed  int
	Skipped bool
}

// ResyncJob re-creates the delayed job of every pending entry due within the
// window, so jobs lost by the broker are restored. Scheduling is idempotent,
// so a pass can run any number of times.
type ResyncJob struct {
	er        repository.EntryRepository
	mr        repository.MediaAssetRepository
	scheduler service.SchedulerService
	lock      Locker
	window    time.Duration
	lookback  time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewResyncJob builds a pass over [now-lookback, now+window]. A nil lock lets
// every process run its own pass.
func NewResyncJob(
	er repository.EntryRepository,
	mr repository.MediaAssetRepository,
	scheduler service.SchedulerService,
	lock Locker,
	window, lookback time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger) *ResyncJob {
	return &ResyncJob{
		er:        er,
		mr:        mr,
		scheduler: scheduler,
		lock:      lock,
		window:    window,
		lookback:  lookback,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
}

// Run is the cron entry point.
func (j *ResyncJob) Run() {
	if _, err := j.RunOnce(context.Background()); err != nil {
		j.logger.Error("resync pass failed", "error", err)
	}
}

func (j *ResyncJob) RunOnce(ctx context.Context) (ResyncReport, error) {
	var report ResyncReport

	if j.lock != nil {
		release, ok, err := j.lock.Acquire(ctx)
		if err != nil {
			j.metrics.ResyncRuns.WithLabelValues("error").Inc()
			return report, apperr.Transient(err, "resync lock")
		}
		if !ok {
			report.Skipped = true
			j.metrics.ResyncRuns.WithLabelValues("skipped").Inc()
			j.logger.Info("resync pass already running elsewhere, skipping")
			return report, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("failed to release resync lock", "error", err)
			}
		}()
	}

	now := j.now()
	from, to := now.Add(-j.lookback), now.Add(j.window)

	entries, err := j.er.ListPendingInWindow(ctx, from, to)
	if err != nil {
		j.metrics.ResyncRuns.WithLabelValues("error").Inc()
		return report, apperr.Transient(err, "list pending entries")
	}
	report.Scanned = len(entries)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, resyncConcurrency)
	)

	for _, entry := range entries {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(entry *models.SchedulingEntry) {
			defer wg.Done()
			defer func() { <-semaphore }()

			outcome := j.resyncEntry(ctx, entry)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeScheduled:
				report.Scheduled++
			case outcomeKept:
				report.Kept++
			default:
				report.Failed++
			}
		}(entry)
	}
	wg.Wait()

	j.metrics.ResyncRuns.WithLabelValues("ok").Inc()
	j.metrics.ResyncEntries.Add(float64(report.Scheduled))
	j.logger.Info("resync pass finished",
		"from", from, "to", to,
		"scanned", report.Scanned, "scheduled", report.Scheduled,
		"kept", report.Kept, "failed", report.Failed)
	return report, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeScheduled
	outcomeKept
)

func (j *ResyncJob) resyncEntry(ctx context.Context, entry *models.SchedulingEntry) outcome {
	log := j.logger.With("entry_id", entry.ID)

	// Replacing a retrying job would reset its attempt budget.
	job, err := j.scheduler.JobState(ctx, entry.ID)
	if err != nil {
		log.Warn("resync could not read job state", "error", err)
		return outcomeFailed
	}
	if job.InFlight() || (job != nil && job.State == queue.JobStateRetry) {
		return outcomeKept
	}

	entry.Media, err = j.mr.ListByEntryID(ctx, entry.ID)
	if err != nil {
		log.Warn("resync could not load media", "error", err)
		return outcomeFailed
	}

	if _, err := j.scheduler.Schedule(ctx, entry); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return outcomeKept
		}
		log.Error("resync could not schedule entry", "error", err)
		return outcomeFailed
	}
	return outcomeScheduled
}
