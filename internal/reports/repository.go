package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasagents/backoffice/internal/platform/db"
	"github.com/atlasagents/backoffice/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for annual reports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const reportColumns = `id, client_id, line_item_id, jurisdiction, period_year, due_date, status, filed_at, notes, created_at, updated_at`

// Create inserts a report row. A unique violation on (client_id,
// jurisdiction, period_year) is reported as created=false so concurrent
// reconcilers stay race-safe.
func (r *Repository) Create(ctx context.Context, rep Report) (bool, error) {
	query := `
		INSERT INTO annual_reports (client_id, line_item_id, jurisdiction, period_year, due_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`
	_, err := r.pool.Exec(ctx, query,
		rep.ClientID, rep.LineItemID, rep.Jurisdiction, rep.PeriodYear, rep.DueDate, string(StatusPending))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SyncDueDate realigns the due date of an existing open row with the freshly
// resolved one. OVERDUE rows move too, so a due date pushed into the future
// lets the sweep walk them back to PENDING.
func (r *Repository) SyncDueDate(ctx context.Context, rep Report) (bool, error) {
	query := `
		UPDATE annual_reports SET due_date = $4, updated_at = NOW()
		WHERE client_id = $1 AND jurisdiction = $2 AND period_year = $3
		  AND status IN ('PENDING', 'OVERDUE') AND due_date <> $4`
	tag, err := r.pool.Exec(ctx, query, rep.ClientID, rep.Jurisdiction, rep.PeriodYear, rep.DueDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves a report by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Report, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM annual_reports WHERE id = $1`, id)
	rep, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report %d: %w", id, httpx.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ListRequest filters the report listing.
type ListRequest struct {
	ClientID     int64
	Jurisdiction string
	Status       Status
	Year         int
	Limit        int
	Offset       int
}

// List returns reports matching the filter and the total count.
func (r *Repository) List(ctx context.Context, req ListRequest) ([]Report, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argNum := 1

	if req.ClientID > 0 {
		where += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, req.ClientID)
		argNum++
	}
	if req.Jurisdiction != "" {
		where += fmt.Sprintf(" AND jurisdiction = $%d", argNum)
		args = append(args, req.Jurisdiction)
		argNum++
	}
	if req.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}
	if req.Year > 0 {
		where += fmt.Sprintf(" AND period_year = $%d", argNum)
		args = append(args, req.Year)
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM annual_reports "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+reportColumns+` FROM annual_reports %s ORDER BY due_date ASC, id ASC LIMIT $%d OFFSET $%d`,
		where, argNum, argNum+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rep)
	}
	return out, total, rows.Err()
}

// MarkDone records a filing. The filing timestamp lands in filed_at.
func (r *Repository) MarkDone(ctx context.Context, id int64, filedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE annual_reports SET status = 'DONE', filed_at = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ('PENDING', 'OVERDUE')`, id, filedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.statusConflict(ctx, id)
	}
	return nil
}

// SetStatus transitions a report between statuses.
func (r *Repository) SetStatus(ctx context.Context, id int64, to Status, from ...Status) error {
	if len(from) == 0 {
		return errors.New("reports: SetStatus requires at least one source status")
	}
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	clearFiled := ""
	if to == StatusPending || to == StatusOverdue {
		clearFiled = ", filed_at = NULL"
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE annual_reports SET status = $2, updated_at = NOW()`+clearFiled+` WHERE id = $1 AND status = ANY($3)`,
		id, string(to), fromStrs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.statusConflict(ctx, id)
	}
	return nil
}

// Update patches due date and notes on an open report. Terminal rows are
// immutable.
func (r *Repository) Update(ctx context.Context, id int64, dueDate *time.Time, notes *string) (*Report, error) {
	query := "UPDATE annual_reports SET updated_at = NOW()"
	args := []any{}
	argNum := 1
	if dueDate != nil {
		query += fmt.Sprintf(", due_date = $%d", argNum)
		args = append(args, *dueDate)
		argNum++
	}
	if notes != nil {
		query += fmt.Sprintf(", notes = $%d", argNum)
		args = append(args, *notes)
		argNum++
	}
	query += fmt.Sprintf(" WHERE id = $%d AND status IN ('PENDING', 'OVERDUE')", argNum)
	args = append(args, id)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, r.statusConflict(ctx, id)
	}
	return r.Get(ctx, id)
}

// Delete removes a report row outright.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM annual_reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// AgePending moves past-due PENDING rows to OVERDUE.
func (r *Repository) AgePending(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE annual_reports SET status = 'OVERDUE', updated_at = NOW() WHERE status = 'PENDING' AND due_date < $1`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevertOverdue moves OVERDUE rows whose due date is today or later back to
// PENDING.
func (r *Repository) RevertOverdue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE annual_reports SET status = 'PENDING', updated_at = NOW() WHERE status = 'OVERDUE' AND due_date >= $1`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) statusConflict(ctx context.Context, id int64) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("report %d is %s: %w", id, current.Status, httpx.ErrTerminalStatus)
	}
	return fmt.Errorf("report %d is %s: %w", id, current.Status, httpx.ErrInvalidStatus)
}

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	var status string
	var filedAt pgtype.Timestamptz
	var notes pgtype.Text
	err := row.Scan(&rep.ID, &rep.ClientID, &rep.LineItemID, &rep.Jurisdiction, &rep.PeriodYear,
		&rep.DueDate, &status, &filedAt, &notes, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rep.Status = Status(status)
	if filedAt.Valid {
		rep.FiledAt = &filedAt.Time
	}
	if notes.Valid {
		rep.Notes = notes.String
	}
	return &rep, nil
}
