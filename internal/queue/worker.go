package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/apperr"
)

// Dispatcher executes one delivery of an entry's publish job.
type Dispatcher interface {
	Dispatch(ctx context.Context, entryID int64, attempt Attempt) error
}

type Worker struct {
	d      Dispatcher
	policy RetryPolicy
	logger *slog.Logger
}

func NewWorker(d Dispatcher, policy RetryPolicy, logger *slog.Logger) *Worker {
	return &Worker{d: d, policy: policy, logger: logger}
}

func (w *Worker) HandlePublishEntryTask(ctx context.Context, task *asynq.Task) error {
	jobID, _ := asynq.GetTaskID(ctx)

	var payload PublishEntryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("malformed publish task payload", "job_id", jobID, "error", err)
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	attempt := w.attemptFromContext(ctx)
	attempt.RunID = payload.RunID
	err := w.d.Dispatch(ctx, payload.EntryID, attempt)
	if err == nil {
		return nil
	}

	// Validation and not-found failures are terminal; the dispatcher has
	// already recorded them on the entry.
	if !apperr.Retryable(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (w *Worker) attemptFromContext(ctx context.Context) Attempt {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = w.policy.MaxAttempts - 1
	}
	return Attempt{Number: retried + 1, Max: maxRetry + 1}
}

func NewServeMux(w *Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublishEntry, w.HandlePublishEntryTask)
	return mux
}

func NewServer(redisConn asynq.RedisConnOpt, queueName string, concurrency int, policy RetryPolicy, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(redisConn, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return policy.Backoff(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			jobID, _ := asynq.GetTaskID(ctx)
			logger.Warn("publish task returned error", "job_id", jobID, "type", task.Type(), "error", err)
		}),
		Logger:          &asynqLogger{l: logger.With("component", "asynq")},
		ShutdownTimeout: 30 * time.Second,
	})
}

// asynqLogger routes asynq's internal logs through slog.
type asynqLogger struct {
	l *slog.Logger
}

func (a *asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a *asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
