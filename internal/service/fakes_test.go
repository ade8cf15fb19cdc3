package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postflow/internal/apperr"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// memStore backs the in-memory repositories. Reads return copies, like rows.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	entries  map[int64]*models.SchedulingEntry
	assets   map[int64]*models.MediaAsset
	accounts map[int64]*models.SocialAccount

	// casLosses makes the next n IncrementUsage calls lose to a simulated
	// concurrent writer.
	casLosses   int
	failGet     error
	failUpdate  error
	statusCalls []string
}

func newMemStore() *memStore {
	return &memStore{
		entries:  map[int64]*models.SchedulingEntry{},
		assets:   map[int64]*models.MediaAsset{},
		accounts: map[int64]*models.SocialAccount{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) entry(id int64) *models.SchedulingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (m *memStore) counters(entryID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, a := range m.sortedAssets(entryID) {
		out = append(out, a.UsageCounter)
	}
	return out
}

func (m *memStore) sortedAssets(entryID int64) []*models.MediaAsset {
	var out []*models.MediaAsset
	for _, a := range m.assets {
		if a.EntryID == entryID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type memEntries struct{ *memStore }

func (m memEntries) Create(_ context.Context, _ *sqlx.Tx, e *models.SchedulingEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = m.id()
	cp.Media = nil
	m.entries[cp.ID] = &cp
	return cp.ID, nil
}

func (m memEntries) GetByID(_ context.Context, id int64) (*models.SchedulingEntry, error) {
	if m.failGet != nil {
		return nil, m.failGet
	}
	return m.entry(id), nil
}

func (m memEntries) GetByOwner(_ context.Context, ownerID int64) ([]*models.SchedulingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SchedulingEntry
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetTime.Before(out[j].TargetTime) })
	return out, nil
}

func (m memEntries) CheckByOwner(_ context.Context, id, ownerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return ok && e.OwnerID == ownerID, nil
}

func (m memEntries) ListPendingInWindow(_ context.Context, from, to time.Time) ([]*models.SchedulingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SchedulingEntry
	for _, e := range m.entries {
		if e.Status == models.EntryStatusPending && !e.TargetTime.Before(from) && !e.TargetTime.After(to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memEntries) Update(_ context.Context, _ *sqlx.Tx, e *models.SchedulingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}
	if _, ok := m.entries[e.ID]; !ok {
		return apperr.NotFound("entry %d", e.ID)
	}
	cp := *e
	cp.Media = nil
	m.entries[e.ID] = &cp
	return nil
}

func (m memEntries) UpdateStatus(_ context.Context, id int64, status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return apperr.NotFound("entry %d", id)
	}
	m.statusCalls = append(m.statusCalls, status)
	e.Status = status
	e.LastError = lastError
	if status == models.EntryStatusExecuted {
		now := time.Now()
		e.ExecutedAt = &now
	}
	return nil
}

func (m memEntries) RecordAttempt(_ context.Context, id int64, attempt int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.Attempts = attempt
		e.LastError = lastError
	}
	return nil
}

func (m memEntries) Remove(_ context.Context, _ *sqlx.Tx, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	for aid, a := range m.assets {
		if a.EntryID == id {
			delete(m.assets, aid)
		}
	}
	return nil
}

type memAssets struct{ *memStore }

func (m memAssets) Create(_ context.Context, _ *sqlx.Tx, ma *models.MediaAsset) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ma
	cp.ID = m.id()
	m.assets[cp.ID] = &cp
	return cp.ID, nil
}

func (m memAssets) ListByEntryID(_ context.Context, entryID int64) ([]*models.MediaAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MediaAsset
	for _, a := range m.sortedAssets(entryID) {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m memAssets) UpdateDisplayOrder(_ context.Context, _ *sqlx.Tx, id int64, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assets[id]; ok {
		a.DisplayOrder = order
	}
	return nil
}

func (m memAssets) Remove(_ context.Context, _ *sqlx.Tx, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assets, id)
	return nil
}

func (m memAssets) RemoveByEntryID(_ context.Context, _ *sqlx.Tx, entryID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.assets {
		if a.EntryID == entryID {
			delete(m.assets, id)
		}
	}
	return nil
}

func (m memAssets) IncrementUsage(_ context.Context, id, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return false, nil
	}
	if m.casLosses > 0 {
		m.casLosses--
		a.UsageCounter++
		a.Version++
		return false, nil
	}
	if a.Version != expectedVersion {
		return false, nil
	}
	a.UsageCounter++
	a.Version++
	return true, nil
}

type memAccounts struct{ *memStore }

func (m memAccounts) GetByID(_ context.Context, id int64) (*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m memAccounts) CheckByUserID(_ context.Context, accountID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	return ok && a.UserID == userID, nil
}

type memTx struct{}

func (memTx) InTx(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

// fakeQueue mimics asynq's task id uniqueness and state reporting.
type fakeQueue struct {
	mu       sync.Mutex
	jobs     map[string]*queue.JobHandle
	payloads map[string][]byte
	delays   map[string]time.Duration
	enqueues int
	err      error
	// failEnqueues makes the next n Enqueue calls fail like a broker outage.
	failEnqueues int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		jobs:     map[string]*queue.JobHandle{},
		payloads: map[string][]byte{},
		delays:   map[string]time.Duration{},
	}
}

func (q *fakeQueue) Enqueue(_ context.Context, jobID string, payload []byte, delay time.Duration, policy queue.RetryPolicy) (*queue.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, apperr.Transient(q.err, "enqueue")
	}
	if q.failEnqueues > 0 {
		q.failEnqueues--
		return nil, apperr.Transient(errBrokerDown, "enqueue")
	}
	if _, ok := q.jobs[jobID]; ok {
		return nil, apperr.Conflict("job %s already exists", jobID)
	}
	state := queue.JobStateScheduled
	if delay == 0 {
		state = queue.JobStatePending
	}
	h := &queue.JobHandle{ID: jobID, Queue: "default", State: state, MaxRetry: policy.MaxAttempts - 1}
	q.jobs[jobID] = h
	q.payloads[jobID] = payload
	q.delays[jobID] = delay
	q.enqueues++
	cp := *h
	return &cp, nil
}

func (q *fakeQueue) GetJob(_ context.Context, jobID string) (*queue.JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, apperr.Transient(q.err, "get job")
	}
	if h, ok := q.jobs[jobID]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, nil
}

func (q *fakeQueue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, apperr.Transient(q.err, "remove job")
	}
	h, ok := q.jobs[jobID]
	if !ok {
		return false, nil
	}
	if h.InFlight() {
		return false, apperr.Conflict("job %s is in flight", jobID)
	}
	delete(q.jobs, jobID)
	delete(q.payloads, jobID)
	delete(q.delays, jobID)
	return true, nil
}

func (q *fakeQueue) setState(jobID, state string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[jobID].State = state
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// fakePublisher records payloads and returns queued errors in order.
type fakePublisher struct {
	mu    sync.Mutex
	calls []*transfer.PublishPayload
	errs  []error
}

func (p *fakePublisher) Publish(_ context.Context, payload *transfer.PublishPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, payload)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return err
	}
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeVerifier struct {
	missing map[string]bool
}

func (v fakeVerifier) VerifyAsset(_ context.Context, assetURL string) error {
	if v.missing[assetURL] {
		return apperr.Validation("media object %q does not exist", assetURL)
	}
	return nil
}

var errBrokerDown = errors.New("dial tcp: connection refused")
