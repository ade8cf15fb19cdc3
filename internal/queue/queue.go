package queue

import (
	"context"
	"fmt"
	"time"
)

const TaskTypePublishEntry = "entry:publish"

// PublishEntryPayload is the task body. RunID is minted once per scheduled
// run and stays the same across the broker's retries of that run.
type PublishEntryPayload struct {
	EntryID int64  `json:"entry_id"`
	RunID   string `json:"run_id"`
}

// JobKey is the only place job ids are built. Every job for an entry is
// addressed by the same "{namespace}-{entryID}" id.
func JobKey(namespace string, entryID int64) string {
	return fmt.Sprintf("%s-%d", namespace, entryID)
}

// RetryPolicy counts attempts including the first delivery.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2,
	}
}

// Backoff returns the wait before redelivery after `retried` previous retries.
func (p RetryPolicy) Backoff(retried int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < retried; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// Job states as reported by the broker.
const (
	JobStateScheduled = "scheduled"
	JobStatePending   = "pending"
	JobStateActive    = "active"
	JobStateRetry     = "retry"
	JobStateArchived  = "archived"
	JobStateCompleted = "completed"
)

type JobHandle struct {
	ID            string
	Queue         string
	State         string
	NextProcessAt time.Time
	Retried       int
	MaxRetry      int
}

// Live reports whether the job will still be delivered.
func (h *JobHandle) Live() bool {
	if h == nil {
		return false
	}
	switch h.State {
	case JobStateScheduled, JobStatePending, JobStateActive, JobStateRetry:
		return true
	}
	return false
}

// InFlight reports whether a worker currently holds the job.
func (h *JobHandle) InFlight() bool {
	return h != nil && h.State == JobStateActive
}

// DelayQueue is the broker contract used by the scheduler.
type DelayQueue interface {
	Enqueue(ctx context.Context, jobID string, payload []byte, delay time.Duration, policy RetryPolicy) (*JobHandle, error)
	// GetJob returns nil, nil when no job exists under jobID.
	GetJob(ctx context.Context, jobID string) (*JobHandle, error)
	// Remove reports false, nil when there was nothing to remove.
	Remove(ctx context.Context, jobID string) (bool, error)
}

// Attempt describes one delivery of a job to the dispatcher.
type Attempt struct {
	Number int // 1-based
	Max    int
	RunID  string
}

func (a Attempt) Last() bool {
	return a.Number >= a.Max
}
