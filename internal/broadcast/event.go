package broadcast

import "time"

// Event kinds delivered on a school channel. Radius alerts are a distinct,
// higher-priority kind published alongside the regular location update.
const (
	KindLocationUpdate = "location-update"
	KindRadiusAlert    = "radius-alert"
)

// Event is one live-tracking notification scoped to a school.
type Event struct {
	Kind           string    `json:"kind"`
	SchoolID       string    `json:"schoolId"`
	SubjectID      string    `json:"subjectId"`
	LeaveRequestID string    `json:"leaveRequestId,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// Publisher is the side of the fan-out the ingestion pipeline sees.
type Publisher interface {
	Publish(schoolID string, ev Event)
}
