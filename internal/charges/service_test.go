package charges

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlasagents/backoffice/internal/billing"
	"github.com/atlasagents/backoffice/internal/platform/httpx"
	"github.com/atlasagents/backoffice/internal/shared"
)

type staticFacts struct {
	facts []billing.Facts
}

func (s *staticFacts) ChargeFacts(context.Context) ([]billing.Facts, error) {
	return s.facts, nil
}

type memoryRepo struct {
	mu      sync.Mutex
	rows    map[int64]*Charge
	nextID  int64
	failFor int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[int64]*Charge), nextID: 1}
}

func periodKey(c Charge) string {
	return fmt.Sprintf("%d|%d|%s|%s", c.ClientID, c.LineItemID,
		c.PeriodStart.Format(time.DateOnly), c.PeriodEnd.Format(time.DateOnly))
}

func (m *memoryRepo) find(key string) *Charge {
	for _, row := range m.rows {
		if periodKey(*row) == key {
			return row
		}
	}
	return nil
}

func (m *memoryRepo) CreateIfNotExists(_ context.Context, c Charge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor != 0 && c.ClientID == m.failFor {
		return false, errors.New("storage unavailable")
	}
	if m.find(periodKey(c)) != nil {
		return false, nil
	}
	c.ID = m.nextID
	m.nextID++
	c.Status = StatusPending
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.rows[c.ID] = &c
	return true, nil
}

func (m *memoryRepo) SyncDueDate(_ context.Context, c Charge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.find(periodKey(c))
	if row == nil || row.DueDate.Equal(c.DueDate) {
		return false, nil
	}
	if row.Status != StatusPending && row.Status != StatusOverdue {
		return false, nil
	}
	row.DueDate = c.DueDate
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("charge %d: %w", id, httpx.ErrNotFound)
	}
	copied := *row
	return &copied, nil
}

func (m *memoryRepo) List(_ context.Context, req ListRequest) ([]Charge, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Charge
	for _, row := range m.rows {
		if req.ClientID > 0 && row.ClientID != req.ClientID {
			continue
		}
		if req.Status != "" && row.Status != req.Status {
			continue
		}
		out = append(out, *row)
	}
	return out, len(out), nil
}

func (m *memoryRepo) MarkPaid(_ context.Context, id int64, method string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("charge %d: %w", id, httpx.ErrNotFound)
	}
	if row.Status != StatusPending && row.Status != StatusOverdue {
		return fmt.Errorf("charge %d is %s: %w", id, row.Status, httpx.ErrTerminalStatus)
	}
	row.Status = StatusPaid
	row.PaidAt = &paidAt
	row.PaidMethod = method
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryRepo) SetStatus(_ context.Context, id int64, to Status, from ...Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("charge %d: %w", id, httpx.ErrNotFound)
	}
	for _, s := range from {
		if row.Status == s {
			row.Status = to
			if to == StatusPending || to == StatusOverdue {
				row.PaidAt = nil
				row.PaidMethod = ""
			}
			row.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	if row.Status.Terminal() {
		return fmt.Errorf("charge %d is %s: %w", id, row.Status, httpx.ErrTerminalStatus)
	}
	return fmt.Errorf("charge %d is %s: %w", id, row.Status, httpx.ErrInvalidStatus)
}

func (m *memoryRepo) Update(_ context.Context, id int64, amountCents *int64, dueDate *time.Time, notes *string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("charge %d: %w", id, httpx.ErrNotFound)
	}
	if row.Status.Terminal() {
		return nil, fmt.Errorf("charge %d is %s: %w", id, row.Status, httpx.ErrTerminalStatus)
	}
	if amountCents != nil {
		row.AmountCents = *amountCents
	}
	if dueDate != nil {
		row.DueDate = *dueDate
	}
	if notes != nil {
		row.Notes = *notes
	}
	row.UpdatedAt = time.Now().UTC()
	copied := *row
	return &copied, nil
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("charge %d: %w", id, httpx.ErrNotFound)
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryRepo) Summarize(_ context.Context) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStatus := make(map[Status]*SummaryRow)
	for _, row := range m.rows {
		agg, ok := byStatus[row.Status]
		if !ok {
			agg = &SummaryRow{Status: row.Status}
			byStatus[row.Status] = agg
		}
		agg.Count++
		agg.AmountCents += row.AmountCents
	}
	summary := Summary{GeneratedAt: time.Now().UTC()}
	for _, agg := range byStatus {
		summary.Rows = append(summary.Rows, *agg)
	}
	return &summary, nil
}

func (m *memoryRepo) AgePending(_ context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.Status == StatusPending && row.DueDate.Before(today) {
			row.Status = StatusOverdue
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) RevertOverdue(_ context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.Status == StatusOverdue && !row.DueDate.Before(today) {
			row.Status = StatusPending
			n++
		}
	}
	return n, nil
}

type memoryAuditor struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAuditor) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(repo *memoryRepo, facts ...billing.Facts) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, &staticFacts{facts: facts}, repo, &memoryAuditor{}, nil, nil, 0)
}

func monthlyFacts() billing.Facts {
	return billing.Facts{
		ClientID:    1,
		LineItemID:  10,
		Recurrence:  billing.RecurrenceMonthly,
		Anchor:      date(2025, 1, 10),
		AmountCents: 5000,
	}
}

func TestReconcileCreatesCurrentPeriodCharge(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	result, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Created)
	require.Equal(t, int64(0), result.Failed)

	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, date(2025, 3, 10), list[0].PeriodStart)
	require.Equal(t, date(2025, 4, 10), list[0].PeriodEnd)
	require.Equal(t, date(2025, 4, 10), list[0].DueDate)
	require.Equal(t, int64(5000), list[0].AmountCents)
	require.Equal(t, StatusPending, list[0].Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	first, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Created)

	second, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), second.Created)
	require.Equal(t, int64(0), second.Updated)

	_, total, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestReconcileAgesPreviousPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)

	svc.now = func() time.Time { return date(2025, 4, 11) }
	result, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Created)
	require.Equal(t, int64(1), result.MarkedOverdue)

	overdue, _, err := repo.List(context.Background(), ListRequest{Status: StatusOverdue})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, date(2025, 4, 10), overdue[0].DueDate)

	pending, _, err := repo.List(context.Background(), ListRequest{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, date(2025, 4, 10), pending[0].PeriodStart)
}

func TestReconcileWindowIncludesNextPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	result, err := svc.Reconcile(context.Background(), 60)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Created)

	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestReconcileWindowExcludesFarPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	result, err := svc.Reconcile(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Created)
}

func TestReconcileSyncsDueDateOnOpenRow(t *testing.T) {
	expires := date(2026, 2, 15)
	facts := billing.Facts{
		ClientID:    1,
		LineItemID:  10,
		Recurrence:  billing.RecurrenceAnnual,
		Anchor:      date(2025, 1, 10),
		AmountCents: 99900,
	}
	repo := newMemoryRepo()
	svc := newTestService(repo, facts)
	svc.now = func() time.Time { return date(2025, 6, 1) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)

	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.Equal(t, date(2026, 1, 10), list[0].DueDate)

	// The line item gains an expiration past the period end, which moves
	// the due date to the expiration.
	svc.facts = &staticFacts{facts: []billing.Facts{{
		ClientID:    1,
		LineItemID:  10,
		Recurrence:  billing.RecurrenceAnnual,
		Anchor:      date(2025, 1, 10),
		Expires:     &expires,
		AmountCents: 99900,
	}}}
	result, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Created)
	require.Equal(t, int64(1), result.Updated)

	list, _, err = repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.Equal(t, date(2026, 2, 15), list[0].DueDate)
}

func TestReconcileSyncsDueDateOnOverdueRow(t *testing.T) {
	facts := billing.Facts{
		ClientID:    1,
		LineItemID:  10,
		Recurrence:  billing.RecurrenceAnnual,
		Anchor:      date(2025, 1, 10),
		AmountCents: 99900,
	}
	repo := newMemoryRepo()
	svc := newTestService(repo, facts)
	svc.now = func() time.Time { return date(2025, 6, 1) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	id := list[0].ID

	// An operator pulls the due date into the past and the sweep ages the
	// row. The next pass restores the rule's due date even though the row
	// is OVERDUE, and the sweep walks it back to PENDING.
	stale := date(2025, 5, 15)
	_, err = svc.Update(context.Background(), id, 7, UpdateInput{DueDate: &stale})
	require.NoError(t, err)
	aged, _, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), aged)

	result, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Updated)
	require.Equal(t, int64(1), result.Reverted)

	charge, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, charge.Status)
	require.Equal(t, date(2026, 1, 10), charge.DueDate)
}

func TestReconcileDoesNotTouchTerminalRows(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)

	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.NoError(t, svc.Pay(context.Background(), list[0].ID, 7, "ach"))

	svc.now = func() time.Time { return date(2025, 4, 11) }
	_, err = svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)

	paid, err := repo.Get(context.Background(), list[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.Equal(t, "ach", paid.PaidMethod)
}

func TestReconcileSkipsExpiredAnnual(t *testing.T) {
	expires := date(2025, 6, 30)
	facts := billing.Facts{
		ClientID:   1,
		LineItemID: 10,
		Recurrence: billing.RecurrenceAnnual,
		Anchor:     date(2024, 7, 1),
		Expires:    &expires,
	}
	repo := newMemoryRepo()
	svc := newTestService(repo, facts)
	svc.now = func() time.Time { return date(2025, 7, 15) }

	result, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Created)
}

func TestReconcileIsolatesSubjectFailures(t *testing.T) {
	broken := monthlyFacts()
	broken.ClientID = 2
	broken.LineItemID = 20
	repo := newMemoryRepo()
	repo.failFor = 2
	svc := newTestService(repo, monthlyFacts(), broken)
	svc.now = func() time.Time { return date(2025, 3, 12) }

	result, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Created)
	require.Equal(t, int64(1), result.Failed)
}

func TestPayRejectsCanceledCharge(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	id := list[0].ID

	require.NoError(t, svc.Cancel(context.Background(), id, 7, "duplicate sale"))
	err = svc.Pay(context.Background(), id, 7, "ach")
	require.ErrorIs(t, err, httpx.ErrTerminalStatus)
}

func TestUpdateRejectsTerminalCharge(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	id := list[0].ID

	require.NoError(t, svc.Pay(context.Background(), id, 7, "card"))
	amount := int64(6000)
	_, err = svc.Update(context.Background(), id, 7, UpdateInput{AmountCents: &amount})
	require.ErrorIs(t, err, httpx.ErrTerminalStatus)
}

func TestReopenRestoresStatusByDueDate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	id := list[0].ID

	require.NoError(t, svc.Pay(context.Background(), id, 7, "ach"))

	// Reopened before the due date: back to PENDING.
	charge, err := svc.Reopen(context.Background(), id, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPending, charge.Status)
	require.Nil(t, charge.PaidAt)
	require.Empty(t, charge.PaidMethod)

	// Reopened after the due date: straight to OVERDUE.
	require.NoError(t, svc.Pay(context.Background(), id, 7, "ach"))
	svc.now = func() time.Time { return date(2025, 4, 11) }
	charge, err = svc.Reopen(context.Background(), id, 7)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, charge.Status)
}

func TestSweepRevertsOverdueWithFutureDue(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, monthlyFacts())
	svc.now = func() time.Time { return date(2025, 4, 11) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	overdueList, _, err := repo.List(context.Background(), ListRequest{Status: StatusOverdue})
	require.NoError(t, err)
	require.Empty(t, overdueList)

	// Age the open charge, then push its due date out a month.
	svc.now = func() time.Time { return date(2025, 5, 11) }
	aged, _, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), aged)

	list, _, err := repo.List(context.Background(), ListRequest{Status: StatusOverdue})
	require.NoError(t, err)
	require.Len(t, list, 1)
	due := date(2025, 6, 10)
	_, err = svc.Update(context.Background(), list[0].ID, 7, UpdateInput{DueDate: &due})
	require.NoError(t, err)

	_, reverted, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), reverted)
}

func TestAuditTrailOnManualActions(t *testing.T) {
	repo := newMemoryRepo()
	auditor := &memoryAuditor{}
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), &staticFacts{facts: []billing.Facts{monthlyFacts()}}, repo, auditor, nil, nil, 0)
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)

	require.NoError(t, svc.Pay(context.Background(), list[0].ID, 42, "wire"))
	require.Len(t, auditor.logs, 1)
	require.Equal(t, "charge.pay", auditor.logs[0].Action)
	require.Equal(t, int64(42), auditor.logs[0].ActorID)
}
