package leave

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store for dev and tests.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]Request
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]Request)}
}

func (s *MemoryStore) Insert(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.SubjectID == req.SubjectID && !existing.Status.Terminal() {
			return ErrConflict
		}
	}
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from Status, upd Update) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != from {
		return Request{}, ErrInvalidTransition
	}
	req.Status = upd.Status
	if upd.ApproverID != nil {
		req.ApproverID = upd.ApproverID
	}
	if upd.ActualReturnTime != nil {
		req.ActualReturnTime = upd.ActualReturnTime
	}
	if upd.ResetOutOfRadius {
		req.IsOutOfRadius = false
	}
	req.UpdatedAt = time.Now().UTC()
	s.requests[id] = req
	return req, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, req := range s.requests {
		if f.SubjectID != "" && req.SubjectID != f.SubjectID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]Request, error) {
	return s.List(ctx, Filter{Status: StatusApproved})
}

func (s *MemoryStore) MarkOutOfRadius(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != StatusApproved || req.IsOutOfRadius {
		return false, nil
	}
	req.IsOutOfRadius = true
	req.UpdatedAt = time.Now().UTC()
	s.requests[id] = req
	return true, nil
}
