package location

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory SampleStore for dev and tests. Samples are kept
// in arrival order.
type MemoryStore struct {
	mu      sync.Mutex
	samples []Sample
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Sample
	for i := len(s.samples) - 1; i >= 0; i-- {
		sample := s.samples[i]
		if f.SubjectID != "" && sample.SubjectID != f.SubjectID {
			continue
		}
		if f.LeaveRequestID != "" && sample.LeaveRequestID != f.LeaveRequestID {
			continue
		}
		out = append(out, sample)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Latest(ctx context.Context, leaveRequestID string) (*Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.samples) - 1; i >= 0; i-- {
		if s.samples[i].LeaveRequestID == leaveRequestID {
			sample := s.samples[i]
			return &sample, nil
		}
	}
	return nil, nil
}
