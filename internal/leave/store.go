package leave

import (
	"context"
	"time"
)

// Filter narrows List results.
type Filter struct {
	SubjectID string
	Status    Status
}

// Update carries the fields a transition may set alongside the new status.
type Update struct {
	Status           Status
	ApproverID       *string
	ActualReturnTime *time.Time
	ResetOutOfRadius bool
}

// Store is the durable home of leave requests.
//
// Insert must enforce the single-active invariant: at most one request per
// subject in a non-terminal status, returning ErrConflict otherwise.
// Transition must be a compare-and-set on status so concurrent transitions on
// the same request cannot both succeed from the same state.
type Store interface {
	Insert(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, error)
	Transition(ctx context.Context, id string, from Status, upd Update) (Request, error)
	List(ctx context.Context, f Filter) ([]Request, error)
	ListActive(ctx context.Context) ([]Request, error)
	// MarkOutOfRadius latches IsOutOfRadius=true while the request is APPROVED.
	// It reports whether the flag changed; marking an already-flagged or
	// non-approved request is a no-op.
	MarkOutOfRadius(ctx context.Context, id string) (bool, error)
}
