// Package notify records alert notifications for later listing. Delivery to
// live dashboards is the broadcast hub's job; this is the durable trail.
package notify

import (
	"context"
	"sync"
	"time"
)

// TypeRadiusAlert marks a subject observed outside the geofence on leave.
const TypeRadiusAlert = "RADIUS_ALERT"

// Notification is one persisted alert.
type Notification struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subjectId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n Notification) error
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]Notification, error)
}

// MemoryStore is an in-memory Store for dev and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows []Notification
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, n)
	return nil
}

func (s *MemoryStore) ListBySubject(ctx context.Context, subjectID string, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].SubjectID == subjectID {
			out = append(out, s.rows[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
