// Package reports owns the state annual-report obligations: the reconciler
// that projects them from jurisdiction rules, the status sweep and the
// manual filing operations.
package reports

import "time"

// Status enumerates report lifecycle states. Done and Canceled are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusOverdue  Status = "OVERDUE"
	StatusDone     Status = "DONE"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether the status permits no further transitions except
// an explicit reopen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCanceled
}

// Report is one annual-report obligation. The tuple (client_id,
// jurisdiction, period_year) is unique; the period year is derived from the
// resolved due date, so an anchor-offset rule that lands in January belongs
// to the January year.
type Report struct {
	ID           int64      `json:"id"`
	ClientID     int64      `json:"client_id"`
	LineItemID   int64      `json:"line_item_id"`
	Jurisdiction string     `json:"jurisdiction"`
	PeriodYear   int        `json:"period_year"`
	DueDate      time.Time  `json:"due_date"`
	Status       Status     `json:"status"`
	FiledAt      *time.Time `json:"filed_at,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
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
