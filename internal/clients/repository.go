package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasagents/backoffice/internal/billing"
	"github.com/atlasagents/backoffice/internal/platform/db"
	"github.com/atlasagents/backoffice/internal/platform/httpx"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = fmt.Errorf("client: %w", httpx.ErrNotFound)

// Repository provides PostgreSQL backed persistence for clients and line items.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateClient inserts a client row.
func (r *Repository) CreateClient(ctx context.Context, c Client) (*Client, error) {
	query := `
		INSERT INTO clients (name, email, state, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query, c.Name, c.Email, c.State, c.Notes).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetClient retrieves a client by ID, deleted rows included so detail pages
// can still show historical records.
func (r *Repository) GetClient(ctx context.Context, id int64) (*Client, error) {
	query := `
		SELECT id, name, email, state, notes, created_at, updated_at, deleted_at
		FROM clients
		WHERE id = $1`
	var c Client
	var notes pgtype.Text
	var deletedAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.State, &notes, &c.CreatedAt, &c.UpdatedAt, &deletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if notes.Valid {
		c.Notes = notes.String
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

// ListClientsRequest filters the client listing.
type ListClientsRequest struct {
	Search         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// ListClients returns clients with optional filtering and the total count.
func (r *Repository) ListClients(ctx context.Context, req ListClientsRequest) ([]Client, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argNum := 1

	if !req.IncludeDeleted {
		where += " AND deleted_at IS NULL"
	}
	if req.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", argNum, argNum)
		args = append(args, "%"+req.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM clients "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, name, email, state, notes, created_at, updated_at, deleted_at
		FROM clients %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, argNum, argNum+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		var c Client
		var notes pgtype.Text
		var deletedAt pgtype.Timestamptz
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.State, &notes, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
			return nil, 0, err
		}
		if notes.Valid {
			c.Notes = notes.String
		}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// UpdateClient applies non-nil fields.
func (r *Repository) UpdateClient(ctx context.Context, id int64, name, email, state, notes *string) (*Client, error) {
	query := "UPDATE clients SET updated_at = NOW()"
	args := []any{}
	argNum := 1
	for col, val := range map[string]*string{"name": name, "email": email, "state": state, "notes": notes} {
		if val != nil {
			query += fmt.Sprintf(", %s = $%d", col, argNum)
			args = append(args, *val)
			argNum++
		}
	}
	query += fmt.Sprintf(" WHERE id = $%d AND deleted_at IS NULL", argNum)
	args = append(args, id)

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetClient(ctx, id)
}

// SoftDeleteClient marks a client deleted. Deleted clients drop out of the
// reconcilers' fact queries on the next pass.
func (r *Repository) SoftDeleteClient(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE clients SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateLineItem inserts a line item and bumps the owning client's
// updated_at in the same transaction.
func (r *Repository) CreateLineItem(ctx context.Context, li LineItem) (*LineItem, error) {
	query := `
		INSERT INTO line_items (client_id, kind, description, jurisdiction, billing_period,
			sale_date, expiration_date, amount_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at`
	var expiration pgtype.Date
	if li.ExpirationDate != nil {
		expiration = pgtype.Date{Time: *li.ExpirationDate, Valid: true}
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query,
			li.ClientID, string(li.Kind), li.Description, li.Jurisdiction, string(li.BillingPeriod),
			li.SaleDate, expiration, li.AmountCents,
		).Scan(&li.ID, &li.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE clients SET updated_at = NOW() WHERE id = $1`, li.ClientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &li, nil
}

// ListLineItems returns a client's line items, most recent sale first.
func (r *Repository) ListLineItems(ctx context.Context, clientID int64) ([]LineItem, error) {
	query := `
		SELECT id, client_id, kind, description, jurisdiction, billing_period,
			sale_date, expiration_date, amount_cents, created_at
		FROM line_items
		WHERE client_id = $1
		ORDER BY sale_date DESC, created_at DESC`
	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// FactRow is the raw material for one subject's billing facts: the single
// most recent matching line item per active client.
type FactRow struct {
	ClientID       int64
	LineItemID     int64
	Jurisdiction   string
	BillingPeriod  string
	SaleDate       time.Time
	ExpirationDate *time.Time
	AmountCents    int64
}

// ChargeFactRows returns, per active client, the most recent ADDRESS line
// item carrying a billing-period tag. Ordering by (sale_date, created_at)
// descending inside DISTINCT ON implements the most-recent-wins policy.
func (r *Repository) ChargeFactRows(ctx context.Context) ([]FactRow, error) {
	query := `
		SELECT DISTINCT ON (li.client_id)
			li.client_id, li.id, COALESCE(li.jurisdiction, ''), li.billing_period,
			li.sale_date, li.expiration_date, li.amount_cents
		FROM line_items li
		JOIN clients c ON c.id = li.client_id AND c.deleted_at IS NULL
		WHERE li.kind = 'ADDRESS' AND li.billing_period <> '' AND li.billing_period <> 'NONE'
		ORDER BY li.client_id, li.sale_date DESC, li.created_at DESC`
	return r.queryFactRows(ctx, query)
}

// ReportFactRows returns, per active client, the most recent FORMATION line
// item carrying a jurisdiction.
func (r *Repository) ReportFactRows(ctx context.Context) ([]FactRow, error) {
	query := `
		SELECT DISTINCT ON (li.client_id)
			li.client_id, li.id, li.jurisdiction, li.billing_period,
			li.sale_date, li.expiration_date, li.amount_cents
		FROM line_items li
		JOIN clients c ON c.id = li.client_id AND c.deleted_at IS NULL
		WHERE li.kind = 'FORMATION' AND li.jurisdiction <> ''
		ORDER BY li.client_id, li.sale_date DESC, li.created_at DESC`
	return r.queryFactRows(ctx, query)
}

func (r *Repository) queryFactRows(ctx context.Context, query string) ([]FactRow, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FactRow
	for rows.Next() {
		var f FactRow
		var saleDate pgtype.Date
		var expiration pgtype.Date
		if err := rows.Scan(&f.ClientID, &f.LineItemID, &f.Jurisdiction, &f.BillingPeriod,
			&saleDate, &expiration, &f.AmountCents); err != nil {
			return nil, err
		}
		if saleDate.Valid {
			f.SaleDate = saleDate.Time
		}
		if expiration.Valid {
			t := expiration.Time
			f.ExpirationDate = &t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanLineItem(rows pgx.Rows) (LineItem, error) {
	var li LineItem
	var kind, billingPeriod string
	var description, jurisdiction pgtype.Text
	var saleDate, expiration pgtype.Date
	err := rows.Scan(&li.ID, &li.ClientID, &kind, &description, &jurisdiction, &billingPeriod,
		&saleDate, &expiration, &li.AmountCents, &li.CreatedAt)
	if err != nil {
		return li, err
	}
	li.Kind = LineItemKind(kind)
	li.BillingPeriod = billing.ParseRecurrence(billingPeriod)
	if description.Valid {
		li.Description = description.String
	}
	if jurisdiction.Valid {
		li.Jurisdiction = jurisdiction.String
	}
	if saleDate.Valid {
		li.SaleDate = saleDate.Time
	}
	if expiration.Valid {
		t := expiration.Time
		li.ExpirationDate = &t
	}
	return li, nil
}
