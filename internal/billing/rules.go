package billing

import (
	"strings"
	"time"
)

// DueKind selects the due-date policy a jurisdiction applies to its annual
// (or biennial) report.
type DueKind string

const (
	// DueFixedDate is a fixed calendar date every cycle (e.g. June 1).
	DueFixedDate DueKind = "FIXED_DATE"
	// DueAnniversaryMonthEnd is the last day of the formation month.
	DueAnniversaryMonthEnd DueKind = "ANNIVERSARY_MONTH_END"
	// DueAnniversaryQuarterEnd is the last day of the calendar quarter
	// containing the formation month.
	DueAnniversaryQuarterEnd DueKind = "ANNIVERSARY_QUARTER_END"
	// DueAnchorOffset is a fixed day offset from the formation date in the
	// formation year, snapping to the formation month/day anniversary in
	// every later year.
	DueAnchorOffset DueKind = "ANCHOR_OFFSET"
	// DueFiscalMonth is a fixed month and day tied to the state's fiscal
	// calendar rather than the formation date.
	DueFiscalMonth DueKind = "FISCAL_MONTH"
)

// DueRule is one jurisdiction's report schedule. Month/Day parameterize the
// fixed-date and fiscal-month kinds; a zero Day means the last day of Month.
type DueRule struct {
	Frequency  Recurrence
	Kind       DueKind
	Month      time.Month
	Day        int
	OffsetDays int
}

// dueRules maps two-letter jurisdiction codes to their report schedule.
// States with no report obligation carry RecurrenceNone; jurisdictions
// absent from the map resolve to no obligation, so onboarding a new state
// before its rule lands simply produces no rows.
var dueRules = map[string]DueRule{
	"DE": {Frequency: RecurrenceAnnual, Kind: DueFixedDate, Month: time.June, Day: 1},
	"FL": {Frequency: RecurrenceAnnual, Kind: DueFixedDate, Month: time.May, Day: 1},
	"TX": {Frequency: RecurrenceAnnual, Kind: DueFixedDate, Month: time.May, Day: 15},
	"GA": {Frequency: RecurrenceAnnual, Kind: DueFixedDate, Month: time.April, Day: 1},

	"WY": {Frequency: RecurrenceAnnual, Kind: DueAnniversaryMonthEnd},
	"NJ": {Frequency: RecurrenceAnnual, Kind: DueAnniversaryMonthEnd},
	"CA": {Frequency: RecurrenceBiennial, Kind: DueAnniversaryMonthEnd},
	"NY": {Frequency: RecurrenceBiennial, Kind: DueAnniversaryMonthEnd},
	"IN": {Frequency: RecurrenceBiennial, Kind: DueAnniversaryMonthEnd},

	"OK": {Frequency: RecurrenceAnnual, Kind: DueAnniversaryQuarterEnd},
	"MN": {Frequency: RecurrenceAnnual, Kind: DueAnniversaryQuarterEnd},

	"WA": {Frequency: RecurrenceAnnual, Kind: DueAnchorOffset, OffsetDays: 120},
	"AK": {Frequency: RecurrenceBiennial, Kind: DueAnchorOffset, OffsetDays: 180},

	"AL": {Frequency: RecurrenceAnnual, Kind: DueFiscalMonth, Month: time.April, Day: 15},
	"ND": {Frequency: RecurrenceAnnual, Kind: DueFiscalMonth, Month: time.November, Day: 15},
	"DC": {Frequency: RecurrenceBiennial, Kind: DueFiscalMonth, Month: time.April, Day: 1},

	"NM": {Frequency: RecurrenceNone},
	"AZ": {Frequency: RecurrenceNone},
	"MO": {Frequency: RecurrenceNone},
	"OH": {Frequency: RecurrenceNone},
	"SC": {Frequency: RecurrenceNone},
}

// RuleFor returns the due rule for a jurisdiction code, case-insensitively.
func RuleFor(code string) (DueRule, bool) {
	rule, ok := dueRules[strings.ToUpper(strings.TrimSpace(code))]
	return rule, ok
}

// ReportFrequency reports how often a jurisdiction requires a report.
// Unknown jurisdictions have no obligation.
func ReportFrequency(code string) Recurrence {
	rule, ok := RuleFor(code)
	if !ok {
		return RecurrenceNone
	}
	return rule.Frequency
}

// DueDate resolves the report due date for a jurisdiction, formation anchor
// and target calendar year. It returns nil when the jurisdiction is unknown
// or has no report obligation. The resolver is frequency-agnostic: biennial
// year skipping is owned by the report reconciler.
func DueDate(code string, anchor time.Time, year int) *time.Time {
	rule, ok := RuleFor(code)
	if !ok || rule.Frequency == RecurrenceNone {
		return nil
	}
	anchor = DateOnly(anchor)

	var due time.Time
	switch rule.Kind {
	case DueFixedDate, DueFiscalMonth:
		due = monthDay(year, rule.Month, rule.Day)
	case DueAnniversaryMonthEnd:
		due = monthDay(year, anchor.Month(), 0)
	case DueAnniversaryQuarterEnd:
		quarterEnd := ((anchor.Month()-1)/3)*3 + 3
		due = monthDay(year, quarterEnd, 0)
	case DueAnchorOffset:
		if year == anchor.Year() {
			due = anchor.AddDate(0, 0, rule.OffsetDays)
		} else {
			due = monthDay(year, anchor.Month(), anchor.Day())
		}
	default:
		return nil
	}
	return &due
}

// monthDay builds a date clamped to the month's last day. A zero day selects
// the last day outright.
func monthDay(year int, month time.Month, day int) time.Time {
	last := lastDayOfMonth(year, month)
	if day <= 0 || day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
