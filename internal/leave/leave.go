package leave

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a leave request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusCompleted
	default:
		return false
	}
}

// Request is one episode of a subject leaving school premises. Requests are
// never deleted, only transitioned.
type Request struct {
	ID                 string     `json:"id"`
	SubjectID          string     `json:"subjectId"`
	Reason             string     `json:"reason"`
	StartTime          time.Time  `json:"startTime"`
	ExpectedReturnTime *time.Time `json:"expectedReturnTime,omitempty"`
	ActualReturnTime   *time.Time `json:"actualReturnTime,omitempty"`
	Status             Status     `json:"status"`
	ApproverID         *string    `json:"approverId,omitempty"`
	IsOutOfRadius      bool       `json:"isOutOfRadius"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Domain errors shared by the leave service and the ingestion pipeline.
var (
	ErrInvalidTransition = errors.New("invalid leave request transition")
	ErrConflict          = errors.New("subject already has an active leave request")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTransient         = errors.New("transient storage failure")
	ErrInvalidReason     = errors.New("reason must be at least 5 characters")
)
