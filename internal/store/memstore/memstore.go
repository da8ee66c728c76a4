// Package memstore is an in-memory fake of store.Provider used by unit
// tests for the ledger/collator/activity packages, where a live Postgres
// is unavailable. It also supports crash injection: FailCommitsAfter lets a
// test simulate a process dying partway through a multi-primitive
// transaction.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/ledger"
	"github.com/meshrun/engine/internal/store"
)

type jobRow struct {
	appID        string
	semaphore    int64
	threshold    int64
	generationID uuid.UUID
	flat         map[string]any
	parentID     *uuid.UUID
}

// Store is the in-memory Provider implementation.
type Store struct {
	mu sync.Mutex

	jobs        map[uuid.UUID]*jobRow
	ledgers     map[string]int64 // key: jobID|activityID|dimAddr
	guidLedgers map[string]int64 // key: jobID|guid
	expireAt    map[uuid.UUID]time.Time
	children    map[uuid.UUID][]uuid.UUID // parent -> children

	// FailCommitsAfter, when > 0, causes the N-th and every later call to
	// WithTxn to return an error *after* fn has run and mutated in-memory state,
	// simulating a crash between the in-memory apply and a durable
	// commit. Tests use this to exercise §8's crash-recovery properties.
	FailCommitsAfter int
	commits          int
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:        map[uuid.UUID]*jobRow{},
		ledgers:     map[string]int64{},
		guidLedgers: map[string]int64{},
		expireAt:    map[uuid.UUID]time.Time{},
		children:    map[uuid.UUID][]uuid.UUID{},
	}
}

func ledgerKey(jobID uuid.UUID, activityID, addr string) string {
	return jobID.String() + "|" + activityID + "|" + addr
}

func guidKey(jobID uuid.UUID, guid uuid.UUID) string {
	return jobID.String() + "|" + guid.String()
}

func (s *Store) WithTxn(ctx context.Context, fn func(txn store.Txn) error) error {
	if err := fn(struct{}{}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	if s.FailCommitsAfter > 0 && s.commits >= s.FailCommitsAfter {
		return fmt.Errorf("memstore: simulated crash after commit %d", s.commits)
	}
	return nil
}

func (s *Store) CreateJobIfAbsent(ctx context.Context, jobID uuid.UUID, appID string, initialSemaphore int64, entity any, txn store.Txn) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.jobs[jobID]; ok {
		return false, row.semaphore, nil
	}
	row := &jobRow{
		appID:        appID,
		semaphore:    initialSemaphore,
		generationID: uuid.New(),
		flat:         map[string]any{},
	}
	if attrs, ok := entity.(*store.NewJobAttrs); ok && attrs != nil {
		row.parentID = attrs.ParentJobID
	}
	s.jobs[jobID] = row
	return true, initialSemaphore, nil
}

func (s *Store) IncrementLedger(ctx context.Context, jobID uuid.UUID, activityID string, dimensionalAddrs []string, delta int64, txn store.Txn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var self int64
	for i, addr := range dimensionalAddrs {
		k := ledgerKey(jobID, activityID, addr)
		cur, ok := s.ledgers[k]
		if !ok {
			cur = ledger.UnwrittenBaseline
		}
		cur += delta
		s.ledgers[k] = cur
		if i == 0 {
			self = cur
		}
	}
	return self, nil
}

func (s *Store) IncrementGuidLedger(ctx context.Context, jobID uuid.UUID, guid uuid.UUID, delta int64, txn store.Txn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := guidKey(jobID, guid)
	cur := s.guidLedgers[k]
	cur += delta
	s.guidLedgers[k] = cur
	return cur, nil
}

func (s *Store) SetStatusAndCollateGuid(ctx context.Context, jobID uuid.UUID, statusDelta int64, threshold int64, guid uuid.UUID, snapshotWeight int64, txn store.Txn) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return false, store.ErrNotFound
	}
	row.semaphore += statusDelta
	hit := row.semaphore == threshold
	if hit {
		k := guidKey(jobID, guid)
		s.guidLedgers[k] += snapshotWeight
	}
	return hit, nil
}

func (s *Store) ReadFlatState(ctx context.Context, jobID uuid.UUID, paths []string) (map[string]any, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	out := map[string]any{}
	if len(paths) == 0 {
		for k, v := range row.flat {
			out[k] = v
		}
		return out, row.semaphore, nil
	}
	for _, p := range paths {
		if v, ok := row.flat[p]; ok {
			out[p] = v
		}
	}
	return out, row.semaphore, nil
}

func (s *Store) WriteFlatState(ctx context.Context, jobID uuid.UUID, values map[string]any, txn store.Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range values {
		row.flat[k] = v
	}
	return nil
}

func (s *Store) ReadLedger(ctx context.Context, jobID uuid.UUID, activityID, dimensionalAddr string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ledgers[ledgerKey(jobID, activityID, dimensionalAddr)]
	if !ok {
		return ledger.UnwrittenBaseline, nil
	}
	return v, nil
}

func (s *Store) ReadGuidLedger(ctx context.Context, jobID uuid.UUID, guid uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guidLedgers[guidKey(jobID, guid)], nil
}

func (s *Store) ReadJobGeneration(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return row.generationID, nil
}

func (s *Store) CascadeExpire(ctx context.Context, jobID uuid.UUID, at time.Time, txn store.Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireAt[jobID] = at
	for _, child := range s.children[jobID] {
		s.expireAt[child] = at
	}
	return nil
}

func (s *Store) Interrupt(ctx context.Context, jobID uuid.UUID, txn store.Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	row.semaphore = store.InterruptSentinel
	return nil
}

// Semaphore exposes the current semaphore for assertions in tests.
func (s *Store) Semaphore(jobID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.jobs[jobID]; ok {
		return row.semaphore
	}
	return 0
}

// SetThreshold lets tests configure a non-default completion threshold.
func (s *Store) SetThreshold(jobID uuid.UUID, threshold int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.jobs[jobID]; ok {
		row.threshold = threshold
	}
}

// LinkChild registers jobID as a cascade-dependent of parentID (§3.2).
func (s *Store) LinkChild(parentID, jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[parentID] = append(s.children[parentID], jobID)
}
