// Package charges owns the recurring registered-address charges: the
// reconciler that materializes them from billing facts, the status sweep and
// the manual back-office operations.
package charges

import "time"

// Status enumerates charge lifecycle states. Paid and Canceled are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusOverdue  Status = "OVERDUE"
	StatusPaid     Status = "PAID"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether the status permits no further transitions except
// an explicit reopen.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCanceled
}

// Charge is one materialized billing obligation for a period. The tuple
// (client_id, line_item_id, period_start, period_end) is unique, which is
// what makes reconcile passes idempotent.
type Charge struct {
	ID          int64      `json:"id"`
	ClientID    int64      `json:"client_id"`
	LineItemID  int64      `json:"line_item_id"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	DueDate     time.Time  `json:"due_date"`
	AmountCents int64      `json:"amount_cents"`
	Status      Status     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	PaidMethod  string     `json:"paid_method,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	RunID         string `json:"run_id"`
	Subjects      int    `json:"subjects"`
	Created       int64  `json:"created"`
	Updated       int64  `json:"updated"`
	Failed        int64  `json:"failed"`
	MarkedOverdue int64  `json:"marked_overdue"`
	Reverted      int64  `json:"reverted"`
}

// SummaryRow aggregates charges for one status.
type SummaryRow struct {
	Status      Status `json:"status"`
	Count       int64  `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

// Summary is the per-status rollup served by the dashboard.
type Summary struct {
	Rows        []SummaryRow `json:"rows"`
	GeneratedAt time.Time    `json:"generated_at"`
}
