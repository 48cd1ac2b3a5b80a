package school

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leavetrack/internal/leave"
)

// Repository reads the directory tables maintained by the school-management
// system. This side never writes them.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a read-only directory over Postgres.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, schoolID string) (School, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, latitude, longitude, COALESCE(radius_meters, 0)
		FROM schools WHERE id = $1
	`, schoolID)
	var s School
	var lat, lng sql.NullFloat64
	if err := row.Scan(&s.ID, &s.Name, &lat, &lng, &s.RadiusMeters); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return School{}, leave.ErrNotFound
		}
		return School{}, fmt.Errorf("%w: %v", leave.ErrTransient, err)
	}
	if lat.Valid {
		v := lat.Float64
		s.Latitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		s.Longitude = &v
	}
	return s, nil
}

func (r *Repository) Member(ctx context.Context, memberID string) (Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, school_id, role, full_name FROM members WHERE id = $1
	`, memberID)
	var m Member
	if err := row.Scan(&m.ID, &m.SchoolID, &m.Role, &m.FullName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, leave.ErrNotFound
		}
		return Member{}, fmt.Errorf("%w: %v", leave.ErrTransient, err)
	}
	return m, nil
}
