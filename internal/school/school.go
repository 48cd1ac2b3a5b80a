// Package school is the boundary to the organization directory: which school
// a subject belongs to, the school's geofence, and who supervises whom. Role
// and membership storage belong to the wider school-management system; this
// package only reads it.
package school

import (
	"context"

	"leavetrack/internal/geofence"
)

// Supervisory roles within a school.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// School is an organization with an optional geofence. A school without
// coordinates has no boundary; location validation then fails open.
type School struct {
	ID           string
	Name         string
	Latitude     *float64
	Longitude    *float64
	RadiusMeters int
}

// Geofence returns the school's boundary, or nil when none is configured.
func (s School) Geofence() *geofence.Config {
	if s.Latitude == nil || s.Longitude == nil {
		return nil
	}
	radius := float64(s.RadiusMeters)
	if radius <= 0 {
		radius = geofence.DefaultRadiusMeters
	}
	return &geofence.Config{Latitude: *s.Latitude, Longitude: *s.Longitude, RadiusMeters: radius}
}

// Member is one person's standing in a school.
type Member struct {
	ID       string
	SchoolID string
	Role     string
	FullName string
}

// Supervisor reports whether the member may approve and watch leaves.
func (m Member) Supervisor() bool {
	return m.Role == RoleTeacher || m.Role == RoleAdmin
}

// Directory resolves schools and membership.
type Directory interface {
	Get(ctx context.Context, schoolID string) (School, error)
	Member(ctx context.Context, memberID string) (Member, error)
}
