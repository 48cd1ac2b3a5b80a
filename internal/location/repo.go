package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leavetrack/internal/leave"
)

// Repository persists location samples in Postgres. Rows are inserted once
// and never updated.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sampleColumns = `id, subject_id, leave_request_id, latitude, longitude,
	accuracy_meters, captured_at, received_at, is_within_radius, official`

func (r *Repository) Insert(ctx context.Context, s Sample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO location_samples
			(id, subject_id, leave_request_id, latitude, longitude,
			 accuracy_meters, captured_at, received_at, is_within_radius, official)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.SubjectID, s.LeaveRequestID, s.Latitude, s.Longitude,
		s.AccuracyMeters, s.CapturedAt, s.ReceivedAt, s.IsWithinRadius, s.Official)
	if err != nil {
		return fmt.Errorf("%w: %v", leave.ErrTransient, err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Sample, error) {
	query := `SELECT ` + sampleColumns + ` FROM location_samples`
	args := []any{}
	clause := ""
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		clause = fmt.Sprintf(" WHERE subject_id = $%d", len(args))
	}
	if f.LeaveRequestID != "" {
		args = append(args, f.LeaveRequestID)
		if clause == "" {
			clause = fmt.Sprintf(" WHERE leave_request_id = $%d", len(args))
		} else {
			clause += fmt.Sprintf(" AND leave_request_id = $%d", len(args))
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += clause + fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", leave.ErrTransient, err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) Latest(ctx context.Context, leaveRequestID string) (*Sample, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sampleColumns+` FROM location_samples
		WHERE leave_request_id = $1
		ORDER BY received_at DESC
		LIMIT 1
	`, leaveRequestID)
	s, err := scanSample(row)
	if err != nil {
		if errors.Is(err, leave.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (Sample, error) {
	var s Sample
	var leaveID sql.NullString
	var accuracy sql.NullFloat64
	err := row.Scan(&s.ID, &s.SubjectID, &leaveID, &s.Latitude, &s.Longitude,
		&accuracy, &s.CapturedAt, &s.ReceivedAt, &s.IsWithinRadius, &s.Official)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Sample{}, leave.ErrNotFound
		}
		return Sample{}, fmt.Errorf("%w: %v", leave.ErrTransient, err)
	}
	if leaveID.Valid {
		s.LeaveRequestID = leaveID.String
	}
	if accuracy.Valid {
		v := accuracy.Float64
		s.AccuracyMeters = &v
	}
	return s, nil
}
