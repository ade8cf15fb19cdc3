package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/apperr"
)

// AsynqQueue implements DelayQueue on top of asynq. Task ids are the
// deterministic job keys, so asynq itself refuses a second live task for the
// same entry.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	logger    *slog.Logger
}

func NewAsynqQueue(redisConn asynq.RedisConnOpt, queueName string, logger *slog.Logger) *AsynqQueue {
	if queueName == "" {
		queueName = "default"
	}
	return &AsynqQueue{
		client:    asynq.NewClient(redisConn),
		inspector: asynq.NewInspector(redisConn),
		queue:     queueName,
		logger:    logger,
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, jobID string, payload []byte, delay time.Duration, policy RetryPolicy) (*JobHandle, error) {
	if delay < 0 {
		delay = 0
	}
	maxRetry := policy.MaxAttempts - 1
	if maxRetry < 0 {
		maxRetry = 0
	}

	task := asynq.NewTask(TaskTypePublishEntry, payload)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(q.queue),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(maxRetry),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil, apperr.Conflict("job %s already exists", jobID)
		}
		return nil, apperr.Transient(err, fmt.Sprintf("enqueue job %s", jobID))
	}

	q.logger.Info("job scheduled", "job_id", jobID, "delay", delay.String(), "state", info.State.String())
	return toHandle(info), nil
}

func (q *AsynqQueue) GetJob(ctx context.Context, jobID string) (*JobHandle, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, nil
		}
		return nil, apperr.Transient(err, fmt.Sprintf("get job %s", jobID))
	}
	return toHandle(info), nil
}

// Remove deletes a queued, scheduled, retrying or archived job. Active jobs
// cannot be removed and yield apperr.ErrConflict.
func (q *AsynqQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	h, err := q.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	if h.InFlight() {
		return false, apperr.Conflict("job %s is in flight", jobID)
	}

	if err := q.inspector.DeleteTask(q.queue, jobID); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}
		return false, apperr.Transient(err, fmt.Sprintf("remove job %s", jobID))
	}

	q.logger.Info("job removed", "job_id", jobID, "previous_state", h.State)
	return true, nil
}

func (q *AsynqQueue) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}
	return q.client.Close()
}

func toHandle(info *asynq.TaskInfo) *JobHandle {
	return &JobHandle{
		ID:            info.ID,
		Queue:         info.Queue,
		State:         info.State.String(),
		NextProcessAt: info.NextProcessAt,
		Retried:       info.Retried,
		MaxRetry:      info.MaxRetry,
	}
}
