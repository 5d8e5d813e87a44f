package reports

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atlasagents/backoffice/internal/billing"
	"github.com/atlasagents/backoffice/internal/observability"
	"github.com/atlasagents/backoffice/internal/shared"
)

const reconcileWorkers = 8

// FactsSource supplies the formation facts a reconcile pass runs on.
type FactsSource interface {
	ReportFacts(ctx context.Context) ([]billing.Facts, error)
}

// RepositoryPort defines data access methods for annual reports.
type RepositoryPort interface {
	Create(ctx context.Context, rep Report) (bool, error)
	SyncDueDate(ctx context.Context, rep Report) (bool, error)
	Get(ctx context.Context, id int64) (*Report, error)
	List(ctx context.Context, req ListRequest) ([]Report, int, error)
	MarkDone(ctx context.Context, id int64, filedAt time.Time) error
	SetStatus(ctx context.Context, id int64, to Status, from ...Status) error
	Update(ctx context.Context, id int64, dueDate *time.Time, notes *string) (*Report, error)
	Delete(ctx context.Context, id int64) error
	AgePending(ctx context.Context, today time.Time) (int64, error)
	RevertOverdue(ctx context.Context, today time.Time) (int64, error)
}

// Service drives the annual-report reconciler, the status sweep and the
// manual filing operations.
type Service struct {
	logger  *slog.Logger
	facts   FactsSource
	repo    RepositoryPort
	auditor shared.Auditor
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService builds a Service instance.
func NewService(logger *slog.Logger, facts FactsSource, repo RepositoryPort, auditor shared.Auditor, metrics *observability.Metrics) *Service {
	return &Service{
		logger:  logger,
		facts:   facts,
		repo:    repo,
		auditor: auditor,
		metrics: metrics,
		now:     time.Now,
	}
}

// Reconcile projects report obligations for every formation subject over
// the coming window. Jurisdictions with no report rule produce nothing, and
// biennial states only owe reports in years sharing the formation year's
// parity. The status sweep runs at the end of every pass.
func (s *Service) Reconcile(ctx context.Context, windowMonths int) (ReconcileResult, error) {
	started := s.now()
	result := ReconcileResult{RunID: uuid.NewString()}
	today := billing.DateOnly(started)

	facts, err := s.facts.ReportFacts(ctx)
	if err != nil {
		s.observeReconcile(result, "error")
		return result, err
	}
	result.Subjects = len(facts)

	var created, updated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)
	for _, f := range facts {
		f := f
		g.Go(func() error {
			c, u, err := s.reconcileSubject(gctx, f, today, windowMonths)
			created.Add(c)
			updated.Add(u)
			if err != nil {
				failed.Add(1)
				s.logger.Error("report reconcile subject failed",
					slog.String("run_id", result.RunID),
					slog.Int64("client_id", f.ClientID),
					slog.String("jurisdiction", f.Jurisdiction),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Created = created.Load()
	result.Updated = updated.Load()
	result.Failed = failed.Load()

	result.MarkedOverdue, result.Reverted, err = s.Sweep(ctx)
	if err != nil {
		s.observeReconcile(result, "error")
		return result, err
	}

	s.observeReconcile(result, "ok")
	s.logger.Info("report reconcile finished",
		slog.String("run_id", result.RunID),
		slog.Int("subjects", result.Subjects),
		slog.Int64("created", result.Created),
		slog.Int64("updated", result.Updated),
		slog.Int64("failed", result.Failed),
		slog.Int64("marked_overdue", result.MarkedOverdue),
		slog.Int64("reverted", result.Reverted),
		slog.Duration("took", s.now().Sub(started)))
	return result, nil
}

// reconcileSubject materializes the report rows one formation owes with a
// due date inside [anchor, window end]. The period year is taken from the
// resolved due date, not the loop year, so offset rules that spill into
// January land in the right row.
func (s *Service) reconcileSubject(ctx context.Context, f billing.Facts, today time.Time, windowMonths int) (created, updated int64, err error) {
	if f.Recurrence != billing.RecurrenceAnnual && f.Recurrence != billing.RecurrenceBiennial {
		return 0, 0, nil
	}
	windowEnd := billing.AddMonths(today, windowMonths)

	seen := make(map[int]bool)
	for year := today.Year(); year <= windowEnd.Year(); year++ {
		if f.Recurrence == billing.RecurrenceBiennial && (year-f.Anchor.Year())%2 != 0 {
			continue
		}
		due := billing.DueDate(f.Jurisdiction, f.Anchor, year)
		if due == nil || due.Before(f.Anchor) || due.After(windowEnd) {
			continue
		}
		// Offset rules can resolve two loop years into the same period
		// year: an October Washington formation owes its 120-day initial
		// filing in late January, colliding with that year's anniversary
		// filing. The earlier resolution owns the row and the later one
		// must not rewrite its due date.
		if seen[due.Year()] {
			continue
		}
		seen[due.Year()] = true
		rep := Report{
			ClientID:     f.ClientID,
			LineItemID:   f.LineItemID,
			Jurisdiction: f.Jurisdiction,
			PeriodYear:   due.Year(),
			DueDate:      *due,
		}
		inserted, err := s.repo.Create(ctx, rep)
		if err != nil {
			return created, updated, err
		}
		if inserted {
			created++
			continue
		}
		synced, err := s.repo.SyncDueDate(ctx, rep)
		if err != nil {
			return created, updated, err
		}
		if synced {
			updated++
		}
	}
	return created, updated, nil
}

// Sweep ages past-due PENDING rows to OVERDUE and walks OVERDUE rows whose
// due date moved out back to PENDING.
func (s *Service) Sweep(ctx context.Context) (aged, reverted int64, err error) {
	today := billing.DateOnly(s.now())
	aged, err = s.repo.AgePending(ctx, today)
	if err != nil {
		return 0, 0, err
	}
	reverted, err = s.repo.RevertOverdue(ctx, today)
	if err != nil {
		return aged, 0, err
	}
	if s.metrics != nil {
		s.metrics.ObserveSweep("reports", aged+reverted)
	}
	return aged, reverted, nil
}

// Get returns one report.
func (s *Service) Get(ctx context.Context, id int64) (*Report, error) {
	return s.repo.Get(ctx, id)
}

// List returns reports matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Report, int, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// MarkDone records that a report was filed.
func (s *Service) MarkDone(ctx context.Context, id, actorID int64, filedAt time.Time) (*Report, error) {
	if filedAt.IsZero() {
		filedAt = s.now().UTC()
	}
	if err := s.repo.MarkDone(ctx, id, filedAt); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "report.done", id, map[string]any{"filed_at": filedAt})
	return s.repo.Get(ctx, id)
}

// Cancel marks an open report canceled.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, reason string) error {
	if err := s.repo.SetStatus(ctx, id, StatusCanceled, StatusPending, StatusOverdue); err != nil {
		return err
	}
	s.audit(ctx, actorID, "report.cancel", id, map[string]any{"reason": reason})
	return nil
}

// Reopen brings a terminal report back to life, restoring PENDING or
// OVERDUE by due date.
func (s *Service) Reopen(ctx context.Context, id, actorID int64) (*Report, error) {
	rep, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target := StatusPending
	if billing.DateOnly(rep.DueDate).Before(billing.DateOnly(s.now())) {
		target = StatusOverdue
	}
	if err := s.repo.SetStatus(ctx, id, target, StatusDone, StatusCanceled); err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "report.reopen", id, map[string]any{"restored_status": string(target)})
	return s.repo.Get(ctx, id)
}

// Update patches due date and notes of an open report.
func (s *Service) Update(ctx context.Context, id, actorID int64, dueDate *time.Time, notes *string) (*Report, error) {
	rep, err := s.repo.Update(ctx, id, dueDate, notes)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "report.update", id, map[string]any{"due_date": dueDate, "notes": notes})
	return rep, nil
}

// Delete removes a report row.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, actorID, "report.delete", id, nil)
	return nil
}

func (s *Service) audit(ctx context.Context, actorID int64, action string, reportID int64, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "annual_report",
		EntityID: strconv.FormatInt(reportID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observeReconcile(result ReconcileResult, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveReconcile("reports", outcome, result.Created, result.Updated, result.Failed)
	}
}
