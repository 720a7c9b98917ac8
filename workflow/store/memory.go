package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory CheckpointStore.
//
// Designed for testing and single-process runs where persistence across
// restarts is not needed. Thread-safe. Data is lost when the process exits.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]Checkpoint // execution id -> checkpoints
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{checkpoints: make(map[string][]Checkpoint)}
}

// Save persists cp, overwriting any earlier checkpoint with the same Seq.
func (m *MemStore) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	// Copy the snapshot so later caller mutations can't reach stored data.
	state := make([]byte, len(cp.State))
	copy(state, cp.State)
	cp.State = state

	list := m.checkpoints[cp.ExecutionID]
	for i, existing := range list {
		if existing.Seq == cp.Seq {
			list[i] = cp
			return nil
		}
	}
	m.checkpoints[cp.ExecutionID] = append(list, cp)
	return nil
}

// LoadLatest returns the highest-Seq checkpoint for the execution.
func (m *MemStore) LoadLatest(_ context.Context, executionID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[executionID]
	if len(list) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	latest := list[0]
	for _, cp := range list[1:] {
		if cp.Seq > latest.Seq {
			latest = cp
		}
	}
	return latest, nil
}

// List returns the execution's checkpoints in ascending Seq order.
func (m *MemStore) List(_ context.Context, executionID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[executionID]
	out := make([]Checkpoint, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Delete removes the execution's checkpoints.
func (m *MemStore) Delete(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, executionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

var _ CheckpointStore = (*MemStore)(nil)
