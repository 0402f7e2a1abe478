package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ngbi/ijbatch/internal/model"
)

// MemoryStore is a process-local Store. Records are copied on the way in
// and out, so callers may keep mutating what they saved.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string][]byte
	runs    map[string][]byte
	order   map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string][]byte),
		runs:    make(map[string][]byte),
		order:   make(map[string][]string),
	}
}

func (s *MemoryStore) SaveBatch(ctx context.Context, b *model.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = data
	return nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	s.mu.RLock()
	data, ok := s.batches[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var b model.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, r *model.Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.runs[r.ID]; !seen && r.BatchID != "" {
		s.order[r.BatchID] = append(s.order[r.BatchID], r.ID)
	}
	s.runs[r.ID] = data
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	data, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var r model.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, batchID string) ([]*model.Run, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.order[batchID]...)
	s.mu.RUnlock()

	runs := make([]*model.Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}
