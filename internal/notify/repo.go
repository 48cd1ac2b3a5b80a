package notify

import (
	"context"
	"database/sql"
	"fmt"

	"leavetrack/internal/leave"
)

// Repository persists notifications in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, subject_id, type, message, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, n.ID, n.SubjectID, n.Type, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", leave.ErrTransient, err)
	}
	return nil
}

func (r *Repository) ListBySubject(ctx context.Context, subjectID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, type, message, created_at
		FROM notifications
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", leave.ErrTransient, err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.SubjectID, &n.Type, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", leave.ErrTransient, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
