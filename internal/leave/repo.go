package leave

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists leave requests in Postgres.
//
// The leave_requests table carries a partial unique index on subject_id for
// rows in PENDING or APPROVED status, which makes the single-active invariant
// hold even under concurrent inserts from different connections.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const requestColumns = `id, subject_id, reason, start_time, expected_return_time,
	actual_return_time, status, approver_id, is_out_of_radius, created_at, updated_at`

func (r *Repository) Insert(ctx context.Context, req Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leave_requests
			(id, subject_id, reason, start_time, expected_return_time, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	`, req.ID, req.SubjectID, req.Reason, req.StartTime, req.ExpectedReturnTime, req.Status, req.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM leave_requests WHERE id = $1
	`, id)
	return scanRequest(row)
}

// Transition updates status only when the current status matches from. The
// status guard in the WHERE clause serializes concurrent transitions: the
// loser sees zero rows updated and gets ErrInvalidTransition (or ErrNotFound
// when the id does not exist at all).
func (r *Repository) Transition(ctx context.Context, id string, from Status, upd Update) (Request, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE leave_requests
		SET status = $3,
			approver_id = COALESCE($4, approver_id),
			actual_return_time = COALESCE($5, actual_return_time),
			is_out_of_radius = CASE WHEN $6 THEN FALSE ELSE is_out_of_radius END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+requestColumns+`
	`, id, from, upd.Status, upd.ApproverID, upd.ActualReturnTime, upd.ResetOutOfRadius)
	req, err := scanRequest(row)
	if errors.Is(err, ErrNotFound) {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return Request{}, gerr
		}
		return Request{}, ErrInvalidTransition
	}
	return req, err
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM leave_requests`
	args := []any{}
	clause := ""
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		clause = fmt.Sprintf(" WHERE subject_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		if clause == "" {
			clause = fmt.Sprintf(" WHERE status = $%d", len(args))
		} else {
			clause += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}
	query += clause + " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *Repository) ListActive(ctx context.Context) ([]Request, error) {
	return r.List(ctx, Filter{Status: StatusApproved})
}

func (r *Repository) MarkOutOfRadius(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leave_requests
		SET is_out_of_radius = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND is_out_of_radius = FALSE
	`, id, StatusApproved)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var req Request
	var expected, actual sql.NullTime
	var approver sql.NullString
	err := row.Scan(&req.ID, &req.SubjectID, &req.Reason, &req.StartTime, &expected,
		&actual, &req.Status, &approver, &req.IsOutOfRadius, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if expected.Valid {
		t := expected.Time
		req.ExpectedReturnTime = &t
	}
	if actual.Valid {
		t := actual.Time
		req.ActualReturnTime = &t
	}
	if approver.Valid {
		v := approver.String
		req.ApproverID = &v
	}
	return req, nil
}

// timeP is a small helper for optional timestamps.
func timeP(t time.Time) *time.Time { return &t }
