package hook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/store"
)

type key struct {
	jobID      uuid.UUID
	activityID string
	addr       string
}

// MemIndex is an in-memory Index implementation used by tests and by the
// reference in-process deployment. pgstore.Store implements the same
// contract over SQL, in a `workflow_hooks` table keyed on (job_id,
// activity_id, dimensional_addr), the same key MemIndex uses.
type MemIndex struct {
	mu   sync.Mutex
	regs map[key]Registration
}

// NewMemIndex constructs an empty index.
func NewMemIndex() *MemIndex {
	return &MemIndex{regs: map[key]Registration{}}
}

func (m *MemIndex) Register(ctx context.Context, reg Registration, txn store.Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[key{reg.JobID, reg.ActivityID, reg.DimensionalAddr}] = reg
	return nil
}

func (m *MemIndex) MatchTopic(ctx context.Context, jobID uuid.UUID, topic string) ([]Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Registration
	for _, r := range m.regs {
		if r.JobID == jobID && r.Topic == topic {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemIndex) DueSleeps(ctx context.Context, before time.Time) ([]Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Registration
	for _, r := range m.regs {
		if r.Deadline != nil && !r.Deadline.After(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemIndex) Remove(ctx context.Context, jobID uuid.UUID, activityID, dimensionalAddr string, txn store.Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, key{jobID, activityID, dimensionalAddr})
	return nil
}

func (m *MemIndex) ByJob(ctx context.Context, jobID uuid.UUID) ([]Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Registration
	for _, r := range m.regs {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}
