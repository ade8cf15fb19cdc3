package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// SchedulerService owns the lifecycle of the delayed job behind each entry.
// Jobs are addressed by queue.JobKey so an entry never has more than one.
type SchedulerService interface {
	// Schedule replaces any queued job for entry with one due at its target
	// time. entry.Media must be loaded.
	Schedule(ctx context.Context, entry *models.SchedulingEntry) (*queue.JobHandle, error)
	// Cancel removes the entry's job. A missing job is not an error.
	Cancel(ctx context.Context, entryID int64) error
	Reschedule(ctx context.Context, entry *models.SchedulingEntry) (*queue.JobHandle, error)
	// JobState returns nil, nil when the entry has no job.
	JobState(ctx context.Context, entryID int64) (*queue.JobHandle, error)
}

type schedulerService struct {
	q         queue.DelayQueue
	namespace string
	policy    queue.RetryPolicy
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewSchedulerService(q queue.DelayQueue, namespace string, policy queue.RetryPolicy, m *metrics.Metrics, logger *slog.Logger) SchedulerService {
	return &schedulerService{
		q:         q,
		namespace: namespace,
		policy:    policy,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
}

func (s *schedulerService) Schedule(ctx context.Context, entry *models.SchedulingEntry) (*queue.JobHandle, error) {
	if entry == nil || entry.ID == 0 {
		return nil, apperr.Validation("entry id is not valid")
	}
	if entry.TargetTime.IsZero() {
		return nil, apperr.Validation("entry %d has no target time", entry.ID)
	}
	if len(entry.Media) == 0 {
		return nil, apperr.Validation("entry %d has no media assets", entry.ID)
	}

	runID, err := gonanoid.New()
	if err != nil {
		return nil, apperr.Transient(err, "generate run id")
	}
	payload, err := json.Marshal(queue.PublishEntryPayload{EntryID: entry.ID, RunID: runID})
	if err != nil {
		return nil, err
	}

	jobID := queue.JobKey(s.namespace, entry.ID)
	delay := entry.TargetTime.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	// A concurrent Schedule for the same entry can slip a job in between our
	// remove and enqueue; one more round settles it.
	var h *queue.JobHandle
	for try := 0; try < 2; try++ {
		if _, err = s.remove(ctx, jobID); err != nil {
			return nil, err
		}
		h, err = s.q.Enqueue(ctx, jobID, payload, delay, s.policy)
		if err == nil || !errors.Is(err, apperr.ErrConflict) {
			break
		}
	}
	if err != nil {
		s.logger.Error("failed to schedule entry", "entry_id", entry.ID, "job_id", jobID, "error", err)
		return nil, err
	}

	s.metrics.JobsScheduled.WithLabelValues(strconv.FormatBool(delay == 0)).Inc()
	s.logger.Info("entry scheduled", "entry_id", entry.ID, "job_id", jobID, "run_id", runID, "target_time", entry.TargetTime, "delay", delay.String())
	return h, nil
}

func (s *schedulerService) Cancel(ctx context.Context, entryID int64) error {
	if entryID == 0 {
		return apperr.Validation("entry id is not valid")
	}

	jobID := queue.JobKey(s.namespace, entryID)
	removed, err := s.remove(ctx, jobID)
	if err != nil {
		s.logger.Warn("failed to cancel entry job", "entry_id", entryID, "job_id", jobID, "error", err)
		return err
	}
	if removed {
		s.logger.Info("entry job cancelled", "entry_id", entryID, "job_id", jobID)
	}
	return nil
}

func (s *schedulerService) Reschedule(ctx context.Context, entry *models.SchedulingEntry) (*queue.JobHandle, error) {
	if entry == nil {
		return nil, apperr.Validation("entry is nil")
	}
	if err := s.Cancel(ctx, entry.ID); err != nil {
		return nil, err
	}
	return s.Schedule(ctx, entry)
}

func (s *schedulerService) JobState(ctx context.Context, entryID int64) (*queue.JobHandle, error) {
	return s.q.GetJob(ctx, queue.JobKey(s.namespace, entryID))
}

func (s *schedulerService) remove(ctx context.Context, jobID string) (bool, error) {
	removed, err := s.q.Remove(ctx, jobID)
	if err != nil {
		return false, err
	}
	if removed {
		s.metrics.JobsCancelled.Inc()
	}
	return removed, nil
}
