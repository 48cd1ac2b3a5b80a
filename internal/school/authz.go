package school

import (
	"context"
	"errors"

	"leavetrack/internal/leave"
)

// Authz answers the leave service's capability check from directory data.
type Authz struct {
	dir Directory
}

// NewAuthz wraps a directory.
func NewAuthz(dir Directory) *Authz {
	return &Authz{dir: dir}
}

// IsSupervisor reports whether actorID holds a supervisory role in the same
// school as subjectID. An unknown actor is simply not a supervisor; an
// unknown subject propagates as not found.
func (a *Authz) IsSupervisor(ctx context.Context, actorID, subjectID string) (bool, error) {
	actor, err := a.dir.Member(ctx, actorID)
	if err != nil {
		if errors.Is(err, leave.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !actor.Supervisor() {
		return false, nil
	}
	subject, err := a.dir.Member(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return actor.SchoolID == subject.SchoolID, nil
}
