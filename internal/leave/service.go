package leave

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Authorizer answers the capability questions the service needs. Role storage
// lives with the external user directory, not here.
type Authorizer interface {
	// IsSupervisor reports whether actorID holds a supervisory role for
	// subjectID's school.
	IsSupervisor(ctx context.Context, actorID, subjectID string) (bool, error)
}

// Service owns the leave request lifecycle. Transitions on one request are
// serialized through a per-id lock; different requests proceed in parallel.
type Service struct {
	store Store
	authz Authorizer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a service backed by a store and an authorizer.
func NewService(store Store, authz Authorizer) *Service {
	return &Service{
		store: store,
		authz: authz,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// dropLock forgets a request's lock entry once it reaches a terminal status.
// Terminal requests accept no further transitions, so a late caller getting a
// fresh mutex changes nothing; the store's status guard still rejects it.
func (s *Service) dropLock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
}

// Create opens a new PENDING request for the subject. At most one non-terminal
// request may exist per subject; the store enforces that atomically.
func (s *Service) Create(ctx context.Context, subjectID, reason string, startTime time.Time, expectedReturn *time.Time) (Request, error) {
	if len(strings.TrimSpace(reason)) < 5 {
		return Request{}, ErrInvalidReason
	}
	now := time.Now().UTC()
	if startTime.IsZero() {
		startTime = now
	}
	req := Request{
		ID:                 uuid.NewString(),
		SubjectID:          subjectID,
		Reason:             reason,
		StartTime:          startTime,
		ExpectedReturnTime: expectedReturn,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Insert(ctx, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Approve moves a PENDING request to APPROVED and clears the out-of-radius
// latch so tracking starts fresh. The caller is expected to start the client
// tracking loop once it observes the new status.
func (s *Service) Approve(ctx context.Context, id, approverID string) (Request, error) {
	ok, err := s.supervises(ctx, approverID, id)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, ErrUnauthorized
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.store.Transition(ctx, id, StatusPending, Update{
		Status:           StatusApproved,
		ApproverID:       &approverID,
		ResetOutOfRadius: true,
	})
}

// Reject moves a PENDING request to REJECTED. Terminal; tracking never starts.
func (s *Service) Reject(ctx context.Context, id, approverID string) (Request, error) {
	ok, err := s.supervises(ctx, approverID, id)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, ErrUnauthorized
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	req, err := s.store.Transition(ctx, id, StatusPending, Update{
		Status:     StatusRejected,
		ApproverID: &approverID,
	})
	if err == nil {
		s.dropLock(id)
	}
	return req, err
}

// Complete moves an APPROVED request to COMPLETED and stamps the actual
// return time. Either the subject or a supervisor may complete.
func (s *Service) Complete(ctx context.Context, id, actorID string) (Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if actorID != req.SubjectID {
		ok, err := s.authz.IsSupervisor(ctx, actorID, req.SubjectID)
		if err != nil {
			return Request{}, err
		}
		if !ok {
			return Request{}, ErrUnauthorized
		}
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	req, err = s.store.Transition(ctx, id, StatusApproved, Update{
		Status:           StatusCompleted,
		ActualReturnTime: timeP(time.Now().UTC()),
	})
	if err == nil {
		s.dropLock(id)
	}
	return req, err
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.store.Get(ctx, id)
}

// List returns requests matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Request, error) {
	return s.store.List(ctx, f)
}

// Active returns the set of currently APPROVED requests. This is what the
// dashboard renders and what decides whether tracking should be running.
func (s *Service) Active(ctx context.Context) ([]Request, error) {
	return s.store.ListActive(ctx)
}

func (s *Service) supervises(ctx context.Context, actorID, requestID string) (bool, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return false, err
	}
	return s.authz.IsSupervisor(ctx, actorID, req.SubjectID)
}
