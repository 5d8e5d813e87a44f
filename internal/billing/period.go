package billing

import "time"

// AddMonths advances t by n months preserving the day of month where the
// target month has it, clamping to the target month's last day otherwise
// (Jan 31 + 1 month = Feb 29 in a leap year, Feb 28 elsewhere).
func AddMonths(t time.Time, n int) time.Time {
	t = DateOnly(t)
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := lastDayOfMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// AddYears is AddMonths in whole-year steps, so a Feb 29 anchor clamps to
// Feb 28 in non-leap years.
func AddYears(t time.Time, n int) time.Time {
	return AddMonths(t, n*12)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// stepMonths returns the period length for a recurrence, or 0 when the
// recurrence does not produce calculator periods.
func stepMonths(r Recurrence) int {
	switch r {
	case RecurrenceMonthly:
		return 1
	case RecurrenceAnnual:
		return 12
	default:
		return 0
	}
}

// CurrentPeriod returns the period [start, end) containing asOf: the first
// period walked from the anchor whose end is strictly after asOf. Periods are
// start-inclusive and end-exclusive, so an asOf equal to a period boundary
// belongs to the period that starts there. Returns nil when the recurrence
// produces no periods or the annual expiration has passed.
func CurrentPeriod(f Facts, asOf time.Time) *Period {
	step := stepMonths(f.Recurrence)
	if step == 0 || f.Anchor.IsZero() {
		return nil
	}
	asOf = DateOnly(asOf)
	if f.Recurrence == RecurrenceAnnual && f.Expires != nil && !asOf.Before(DateOnly(*f.Expires)) {
		return nil
	}
	for k := 0; ; k++ {
		end := AddMonths(f.Anchor, (k+1)*step)
		if asOf.Before(end) {
			return buildPeriod(f, AddMonths(f.Anchor, k*step), end)
		}
	}
}

// NextPeriod returns the first period starting at or after the given
// boundary, walked from the same anchor as CurrentPeriod so that both paths
// always agree on period boundaries.
func NextPeriod(f Facts, afterEnd time.Time) *Period {
	step := stepMonths(f.Recurrence)
	if step == 0 || f.Anchor.IsZero() {
		return nil
	}
	afterEnd = DateOnly(afterEnd)
	for k := 0; ; k++ {
		start := AddMonths(f.Anchor, k*step)
		if !start.Before(afterEnd) {
			return buildPeriod(f, start, AddMonths(f.Anchor, (k+1)*step))
		}
	}
}

// buildPeriod applies the expiration clamp and due-date policy. Monthly
// periods are always due at their end; annual periods are due at the
// expiration date when one is set.
func buildPeriod(f Facts, start, end time.Time) *Period {
	p := Period{Start: start, End: end, Due: end}
	if f.Recurrence == RecurrenceAnnual && f.Expires != nil {
		expires := DateOnly(*f.Expires)
		if end.After(expires) {
			return nil
		}
		p.Due = expires
	}
	return &p
}
