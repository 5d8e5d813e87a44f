// Package billing contains the pure calendar core shared by the charge and
// annual-report engines: billing facts, period calculation and jurisdiction
// due-date rules. Nothing in this package performs I/O.
package billing

import (
	"strings"
	"time"
)

// Recurrence enumerates how often an obligation repeats.
type Recurrence string

const (
	RecurrenceMonthly  Recurrence = "MONTHLY"
	RecurrenceAnnual   Recurrence = "ANNUAL"
	RecurrenceBiennial Recurrence = "BIENNIAL"
	RecurrenceNone     Recurrence = "NONE"
)

// ParseRecurrence normalizes free-form recurrence tags from line items.
// Unrecognized values map to RecurrenceNone so a bad tag produces no
// obligations instead of failing a batch.
func ParseRecurrence(s string) Recurrence {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MONTHLY", "MONTH":
		return RecurrenceMonthly
	case "ANNUAL", "ANNUALLY", "YEARLY", "YEAR":
		return RecurrenceAnnual
	case "BIENNIAL", "BIENNIALLY":
		return RecurrenceBiennial
	default:
		return RecurrenceNone
	}
}

// Facts holds the billing-relevant facts derived for one subject from its
// most recent matching line item. Derived on every pass, never persisted.
type Facts struct {
	ClientID     int64
	LineItemID   int64
	Jurisdiction string
	Recurrence   Recurrence
	Anchor       time.Time
	Expires      *time.Time
	AmountCents  int64
}

// Period is one billing cycle. Start is inclusive, End exclusive. All three
// fields are calendar dates at UTC midnight.
type Period struct {
	Start time.Time
	End   time.Time
	Due   time.Time
}

// DateOnly truncates t to a calendar date at UTC midnight. Status aging and
// due-date comparisons all go through this so time-of-day and client time
// zones cannot flap a row between PENDING and OVERDUE.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC-midnight date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), time.UTC)
}
