package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*AsynqQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	q := NewAsynqQueue(asynq.RedisClientOpt{Addr: mr.Addr()}, "default", logging.Discard())
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func payloadFor(t *testing.T, entryID int64) []byte {
	t.Helper()
	b, err := json.Marshal(PublishEntryPayload{EntryID: entryID})
	require.NoError(t, err)
	return b
}

func TestAsynqQueue_GetJobMissing(t *testing.T) {
	q, _ := newTestQueue(t)

	h, err := q.GetJob(context.Background(), JobKey("publish-entry", 1))
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestAsynqQueue_EnqueueDelayed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	key := JobKey("publish-entry", 5)

	h, err := q.Enqueue(ctx, key, payloadFor(t, 5), time.Hour, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, key, h.ID)
	assert.Equal(t, JobStateScheduled, h.State)
	assert.Equal(t, 2, h.MaxRetry)

	got, err := q.GetJob(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, JobStateScheduled, got.State)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.NextProcessAt, time.Minute)
}

func TestAsynqQueue_EnqueueImmediate(t *testing.T) {
	q, _ := newTestQueue(t)

	h, err := q.Enqueue(context.Background(), JobKey("publish-entry", 6), payloadFor(t, 6), 0, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, JobStatePending, h.State)
}

func TestAsynqQueue_DuplicateKeyConflicts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	key := JobKey("publish-entry", 7)

	_, err := q.Enqueue(ctx, key, payloadFor(t, 7), time.Hour, DefaultRetryPolicy())
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, key, payloadFor(t, 7), time.Hour, DefaultRetryPolicy())
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestAsynqQueue_RemoveIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	key := JobKey("publish-entry", 8)

	_, err := q.Enqueue(ctx, key, payloadFor(t, 8), time.Hour, DefaultRetryPolicy())
	require.NoError(t, err)

	removed, err := q.Remove(ctx, key)
	require.NoError(t, err)
	assert.True(t, removed)

	h, err := q.GetJob(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, h)

	removed, err = q.Remove(ctx, key)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = q.Enqueue(ctx, key, payloadFor(t, 8), time.Minute, DefaultRetryPolicy())
	assert.NoError(t, err, "the key is free again after removal")
}

func TestAsynqQueue_BrokerDownIsTransient(t *testing.T) {
	q, mr := newTestQueue(t)
	mr.Close()

	_, err := q.Enqueue(context.Background(), JobKey("publish-entry", 9), payloadFor(t, 9), time.Hour, DefaultRetryPolicy())
	assert.ErrorIs(t, err, apperr.ErrTransient)
}
