package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	mrand "math/rand/v2"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/stretchr/testify/require"
)

const testNamespace = "publish-entry"

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	fixedNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	store      *memStore
	q          *fakeQueue
	pub        *fakePublisher
	metrics    *metrics.Metrics
	scheduler  *schedulerService
	dispatcher *DispatchService
	entries    EntryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemStore()
	q := newFakeQueue()
	pub := &fakePublisher{}
	m := metrics.Discard()
	logger := logging.Discard()

	sched := NewSchedulerService(q, testNamespace, queue.DefaultRetryPolicy(), m, logger).(*schedulerService)
	sched.now = func() time.Time { return fixedNow }

	d := NewDispatchService(memEntries{store}, memAssets{store}, memAccounts{store}, pub,
		DispatchConfig{SecretKey: testSecret, PublishTimeout: time.Second},
		mrand.New(mrand.NewPCG(1, 2)), m, logger)
	d.now = func() time.Time { return fixedNow }

	es := NewEntryService(memTx{}, memEntries{store}, memAssets{store}, memAccounts{store}, sched, fakeVerifier{}, logger)

	return &harness{
		store:      store,
		q:          q,
		pub:        pub,
		metrics:    m,
		scheduler:  sched,
		dispatcher: d,
		entries:    es,
	}
}

// sealToken encrypts an access token the way connected accounts store it.
func sealToken(t *testing.T, token string) string {
	t.Helper()
	block, err := aes.NewCipher(testSecret)
	require.NoError(t, err)
	aesGCM, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, aesGCM.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(aesGCM.Seal(nonce, nonce, []byte(token), nil))
}

func (h *harness) addAccount(t *testing.T, userID int64, expiresAt *time.Time) int64 {
	t.Helper()

	token := sealToken(t, fmt.Sprintf("token-of-%d", userID))

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	id := h.store.id()
	h.store.accounts[id] = &models.SocialAccount{
		ID:              id,
		UserID:          userID,
		Platform:        "instagram",
		AccountID:       fmt.Sprintf("ig-%d", id),
		AccountUsername: fmt.Sprintf("user%d", userID),
		AccessToken:     token,
		TokenExpiresAt:  expiresAt,
	}
	return id
}

// seedEntry stores a pending entry with n assets and returns it with Media loaded.
func (h *harness) seedEntry(t *testing.T, mode models.DistributionMode, target time.Time, n int) *models.SchedulingEntry {
	t.Helper()

	accountID := h.addAccount(t, 7, nil)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	e := &models.SchedulingEntry{
		ID:               h.store.id(),
		OwnerID:          7,
		AccountID:        accountID,
		TargetTime:       target,
		Caption:          "launch day",
		PlatformFlags:    models.PlatformFlags{Reel: true},
		DistributionMode: mode,
		Status:           models.EntryStatusPending,
	}
	h.store.entries[e.ID] = e

	out := *e
	for i := 0; i < n; i++ {
		a := &models.MediaAsset{
			ID:           h.store.id(),
			EntryID:      e.ID,
			URL:          fmt.Sprintf("https://cdn.example.com/%d/%d.jpg", e.ID, i),
			MimeType:     "image/jpeg",
			DisplayOrder: i,
		}
		h.store.assets[a.ID] = a
		cp := *a
		out.Media = append(out.Media, &cp)
	}
	return &out
}

func (h *harness) setStatus(id int64, status string) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.entries[id].Status = status
}

// runJob delivers a queued job the way the broker does: attempts continue
// while the dispatcher returns a retryable error and retries remain. The job
// leaves the queue afterwards, completed or archived.
func (h *harness) runJob(t *testing.T, jobID string) (int, error) {
	t.Helper()

	h.q.mu.Lock()
	job, ok := h.q.jobs[jobID]
	payload := h.q.payloads[jobID]
	h.q.mu.Unlock()
	require.True(t, ok, "no job %s", jobID)

	h.q.setState(jobID, queue.JobStateActive)
	defer func() {
		h.q.mu.Lock()
		delete(h.q.jobs, jobID)
		h.q.mu.Unlock()
	}()

	var p queue.PublishEntryPayload
	require.NoError(t, json.Unmarshal(payload, &p))

	maxAttempts := job.MaxRetry + 1
	var (
		attempts int
		err      error
	)
	for n := 1; n <= maxAttempts; n++ {
		attempts = n
		err = h.dispatcher.Dispatch(context.Background(), p.EntryID, queue.Attempt{Number: n, Max: maxAttempts, RunID: p.RunID})
		if err == nil || !apperr.Retryable(err) {
			break
		}
	}
	return attempts, err
}
