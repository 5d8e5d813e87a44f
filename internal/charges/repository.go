package charges

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasagents/backoffice/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for charges.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const chargeColumns = `id, client_id, line_item_id, period_start, period_end, due_date, amount_cents, status, paid_at, paid_method, notes, created_at, updated_at`

// CreateIfNotExists inserts a charge unless its period row already exists.
// ON CONFLICT DO NOTHING makes concurrent reconcilers race-safe: exactly one
// of them observes a created row.
func (r *Repository) CreateIfNotExists(ctx context.Context, c Charge) (bool, error) {
	query := `
		INSERT INTO charges (client_id, line_item_id, period_start, period_end, due_date, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (client_id, line_item_id, period_start, period_end) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query,
		c.ClientID, c.LineItemID, c.PeriodStart, c.PeriodEnd, c.DueDate, c.AmountCents, string(StatusPending))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SyncDueDate realigns the due date of an existing open row with the freshly
// computed one. OVERDUE rows move too, so a due date pushed into the future
// lets the sweep walk them back to PENDING. Terminal rows keep their state.
func (r *Repository) SyncDueDate(ctx context.Context, c Charge) (bool, error) {
	query := `
		UPDATE charges SET due_date = $5, updated_at = NOW()
		WHERE client_id = $1 AND line_item_id = $2 AND period_start = $3 AND period_end = $4
		  AND status IN ('PENDING', 'OVERDUE') AND due_date <> $5`
	tag, err := r.pool.Exec(ctx, query, c.ClientID, c.LineItemID, c.PeriodStart, c.PeriodEnd, c.DueDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves a charge by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*Charge, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = $1`, id)
	c, err := scanCharge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("charge %d: %w", id, httpx.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListRequest filters the charge listing.
type ListRequest struct {
	ClientID  int64
	Status    Status
	DueBefore *time.Time
	DueAfter  *time.Time
	Limit     int
	Offset    int
}

// List returns charges matching the filter and the total count.
func (r *Repository) List(ctx context.Context, req ListRequest) ([]Charge, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argNum := 1

	if req.ClientID > 0 {
		where += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, req.ClientID)
		argNum++
	}
	if req.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}
	if req.DueBefore != nil {
		where += fmt.Sprintf(" AND due_date < $%d", argNum)
		args = append(args, *req.DueBefore)
		argNum++
	}
	if req.DueAfter != nil {
		where += fmt.Sprintf(" AND due_date >= $%d", argNum)
		args = append(args, *req.DueAfter)
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM charges "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+chargeColumns+` FROM charges %s ORDER BY due_date ASC, id ASC LIMIT $%d OFFSET $%d`,
		where, argNum, argNum+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// MarkPaid settles an open charge, recording when and how it was paid.
func (r *Repository) MarkPaid(ctx context.Context, id int64, method string, paidAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE charges SET status = 'PAID', paid_at = $2, paid_method = $3, updated_at = NOW()
		 WHERE id = $1 AND status IN ('PENDING', 'OVERDUE')`, id, paidAt, method)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.statusConflict(ctx, id)
	}
	return nil
}

// SetStatus transitions a charge between statuses. The allowed-from list is
// enforced in SQL so two concurrent operators cannot double-apply a
// transition.
func (r *Repository) SetStatus(ctx context.Context, id int64, to Status, from ...Status) error {
	if len(from) == 0 {
		return errors.New("charges: SetStatus requires at least one source status")
	}
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	clearPaid := ""
	if to == StatusPending || to == StatusOverdue {
		clearPaid = ", paid_at = NULL, paid_method = NULL"
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE charges SET status = $2, updated_at = NOW()`+clearPaid+` WHERE id = $1 AND status = ANY($3)`,
		id, string(to), fromStrs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.statusConflict(ctx, id)
	}
	return nil
}

// Update patches amount, due date and notes on an open charge. Terminal rows
// are immutable.
func (r *Repository) Update(ctx context.Context, id int64, amountCents *int64, dueDate *time.Time, notes *string) (*Charge, error) {
	query := "UPDATE charges SET updated_at = NOW()"
	args := []any{}
	argNum := 1
	if amountCents != nil {
		query += fmt.Sprintf(", amount_cents = $%d", argNum)
		args = append(args, *amountCents)
		argNum++
	}
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

// Delete removes a charge row outright. Used for operator corrections, not
// by the reconciler.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM charges WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("charge %d: %w", id, httpx.ErrNotFound)
	}
	return nil
}

// Summarize aggregates count and amount per status.
func (r *Repository) Summarize(ctx context.Context) (*Summary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount_cents), 0) FROM charges GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := Summary{GeneratedAt: time.Now().UTC()}
	for rows.Next() {
		var row SummaryRow
		var status string
		if err := rows.Scan(&status, &row.Count, &row.AmountCents); err != nil {
			return nil, err
		}
		row.Status = Status(status)
		summary.Rows = append(summary.Rows, row)
	}
	return &summary, rows.Err()
}

// AgePending moves past-due PENDING rows to OVERDUE. The comparison is
// strict: a charge due today is not yet overdue.
func (r *Repository) AgePending(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE charges SET status = 'OVERDUE', updated_at = NOW() WHERE status = 'PENDING' AND due_date < $1`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevertOverdue moves OVERDUE rows whose due date is today or later back to
// PENDING, which happens after an operator pushes a due date out.
func (r *Repository) RevertOverdue(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE charges SET status = 'PENDING', updated_at = NOW() WHERE status = 'OVERDUE' AND due_date >= $1`, today)
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
		return fmt.Errorf("charge %d is %s: %w", id, current.Status, httpx.ErrTerminalStatus)
	}
	return fmt.Errorf("charge %d is %s: %w", id, current.Status, httpx.ErrInvalidStatus)
}

func scanCharge(row pgx.Row) (*Charge, error) {
	var c Charge
	var status string
	var paidAt pgtype.Timestamptz
	var paidMethod, notes pgtype.Text
	err := row.Scan(&c.ID, &c.ClientID, &c.LineItemID, &c.PeriodStart, &c.PeriodEnd, &c.DueDate,
		&c.AmountCents, &status, &paidAt, &paidMethod, &notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if paidAt.Valid {
		c.PaidAt = &paidAt.Time
	}
	if paidMethod.Valid {
		c.PaidMethod = paidMethod.String
	}
	if notes.Valid {
		c.Notes = notes.String
	}
	return &c, nil
}
