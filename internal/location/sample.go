package location

import (
	"context"
	"time"
)

// Sample is one reported position. Samples are append-only: once written they
// are never recomputed, even if the school's geofence changes later.
type Sample struct {
	ID             string     `json:"id"`
	SubjectID      string     `json:"subjectId"`
	LeaveRequestID string     `json:"leaveRequestId,omitempty"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	AccuracyMeters *float64   `json:"accuracyMeters,omitempty"`
	CapturedAt     time.Time  `json:"capturedAt"`
	ReceivedAt     time.Time  `json:"receivedAt"`
	IsWithinRadius bool       `json:"isWithinRadius"`
	// Official marks one sample per tracking interval; the rest are
	// supplementary and skip broadcast.
	Official bool `json:"official"`
}

// Filter narrows List results.
type Filter struct {
	SubjectID      string
	LeaveRequestID string
	Limit          int
}

// SampleStore is the append-only home of location samples.
type SampleStore interface {
	Insert(ctx context.Context, s Sample) error
	List(ctx context.Context, f Filter) ([]Sample, error)
	// Latest returns the most recent sample for a leave request, or nil.
	Latest(ctx context.Context, leaveRequestID string) (*Sample, error)
}
