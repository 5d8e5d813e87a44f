package charges

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/atlasagents/backoffice/internal/billing"
	"github.com/atlasagents/backoffice/internal/observability"
	"github.com/atlasagents/backoffice/internal/platform/db"
	"github.com/atlasagents/backoffice/internal/shared"
)

const (
	summaryCacheKey  = "atlas:charges:summary"
	reconcileWorkers = 8
)

// FactsSource supplies the billing facts a reconcile pass runs on.
type FactsSource interface {
	ChargeFacts(ctx context.Context) ([]billing.Facts, error)
}

// RepositoryPort defines data access methods for charges.
type RepositoryPort interface {
	CreateIfNotExists(ctx context.Context, c Charge) (bool, error)
	SyncDueDate(ctx context.Context, c Charge) (bool, error)
	Get(ctx context.Context, id int64) (*Charge, error)
	List(ctx context.Context, req ListRequest) ([]Charge, int, error)
	MarkPaid(ctx context.Context, id int64, method string, paidAt time.Time) error
	SetStatus(ctx context.Context, id int64, to Status, from ...Status) error
	Update(ctx context.Context, id int64, amountCents *int64, dueDate *time.Time, notes *string) (*Charge, error)
	Delete(ctx context.Context, id int64) error
	Summarize(ctx context.Context) (*Summary, error)
	AgePending(ctx context.Context, today time.Time) (int64, error)
	RevertOverdue(ctx context.Context, today time.Time) (int64, error)
}

// Service drives the charge reconciler, the status sweep and the manual
// back-office operations.
type Service struct {
	logger  *slog.Logger
	facts   FactsSource
	repo    RepositoryPort
	auditor shared.Auditor
	metrics *observability.Metrics
	cache   *redis.Client
	ttl     time.Duration
	sf      singleflight.Group
	now     func() time.Time
}

// NewService builds a Service instance. cache may be nil, in which case the
// summary is computed on every request.
func NewService(logger *slog.Logger, facts FactsSource, repo RepositoryPort, auditor shared.Auditor, metrics *observability.Metrics, cache *redis.Client, summaryTTL time.Duration) *Service {
	return &Service{
		logger:  logger,
		facts:   facts,
		repo:    repo,
		auditor: auditor,
		metrics: metrics,
		cache:   cache,
		ttl:     summaryTTL,
		now:     time.Now,
	}
}

// Reconcile materializes charges for every subject: the current period
// always, plus the next period when its due date falls inside the window.
// Subjects fail independently so one broken record cannot sink the pass,
// and the status sweep runs at the end of every pass.
func (s *Service) Reconcile(ctx context.Context, windowDays int) (ReconcileResult, error) {
	started := s.now()
	result := ReconcileResult{RunID: uuid.NewString()}
	today := billing.DateOnly(started)

	facts, err := s.facts.ChargeFacts(ctx)
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
			c, u, err := s.reconcileSubject(gctx, f, today, windowDays)
			created.Add(c)
			updated.Add(u)
			if err != nil {
				failed.Add(1)
				s.logger.Error("charge reconcile subject failed",
					slog.String("run_id", result.RunID),
					slog.Int64("client_id", f.ClientID),
					slog.Int64("line_item_id", f.LineItemID),
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

	s.invalidateSummary(ctx)
	s.observeReconcile(result, "ok")
	s.logger.Info("charge reconcile finished",
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

// reconcileSubject materializes the periods one subject owes as of today.
func (s *Service) reconcileSubject(ctx context.Context, f billing.Facts, today time.Time, windowDays int) (created, updated int64, err error) {
	current := billing.CurrentPeriod(f, today)
	if current == nil {
		return 0, 0, nil
	}
	periods := []*billing.Period{current}
	if windowDays > 0 {
		horizon := today.AddDate(0, 0, windowDays)
		if next := billing.NextPeriod(f, current.End); next != nil && !next.Due.After(horizon) {
			periods = append(periods, next)
		}
	}

	for _, p := range periods {
		charge := Charge{
			ClientID:    f.ClientID,
			LineItemID:  f.LineItemID,
			PeriodStart: p.Start,
			PeriodEnd:   p.End,
			DueDate:     p.Due,
			AmountCents: f.AmountCents,
		}
		inserted, err := s.repo.CreateIfNotExists(ctx, charge)
		if err != nil {
			if db.IsUniqueViolation(err) {
				inserted = false
			} else {
				return created, updated, err
			}
		}
		if inserted {
			created++
			continue
		}
		synced, err := s.repo.SyncDueDate(ctx, charge)
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
// due date moved out back to PENDING. Terminal rows are never touched.
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
		s.metrics.ObserveSweep("charges", aged+reverted)
	}
	return aged, reverted, nil
}

// Get returns one charge.
func (s *Service) Get(ctx context.Context, id int64) (*Charge, error) {
	return s.repo.Get(ctx, id)
}

// List returns charges matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Charge, int, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// Pay settles an open charge, recording when and how it was paid.
func (s *Service) Pay(ctx context.Context, id, actorID int64, method string) error {
	if err := s.repo.MarkPaid(ctx, id, method, s.now().UTC()); err != nil {
		return err
	}
	s.invalidateSummary(ctx)
	s.audit(ctx, actorID, "charge.pay", id, map[string]any{"method": method})
	return nil
}

// Cancel marks an open charge canceled.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, reason string) error {
	if err := s.repo.SetStatus(ctx, id, StatusCanceled, StatusPending, StatusOverdue); err != nil {
		return err
	}
	s.invalidateSummary(ctx)
	s.audit(ctx, actorID, "charge.cancel", id, map[string]any{"reason": reason})
	return nil
}

// Reopen brings a terminal charge back to life. The restored status follows
// the due date so the sweep does not have to correct it afterwards.
func (s *Service) Reopen(ctx context.Context, id, actorID int64) (*Charge, error) {
	charge, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target := StatusPending
	if billing.DateOnly(charge.DueDate).Before(billing.DateOnly(s.now())) {
		target = StatusOverdue
	}
	if err := s.repo.SetStatus(ctx, id, target, StatusPaid, StatusCanceled); err != nil {
		return nil, err
	}
	s.invalidateSummary(ctx)
	s.audit(ctx, actorID, "charge.reopen", id, map[string]any{"restored_status": string(target)})
	return s.repo.Get(ctx, id)
}

// UpdateInput carries operator corrections to an open charge.
type UpdateInput struct {
	AmountCents *int64     `json:"amount_cents" validate:"omitempty,gte=0"`
	DueDate     *time.Time `json:"due_date"`
	Notes       *string    `json:"notes"`
}

// Update patches an open charge.
func (s *Service) Update(ctx context.Context, id, actorID int64, input UpdateInput) (*Charge, error) {
	charge, err := s.repo.Update(ctx, id, input.AmountCents, input.DueDate, input.Notes)
	if err != nil {
		return nil, err
	}
	s.invalidateSummary(ctx)
	s.audit(ctx, actorID, "charge.update", id, map[string]any{
		"amount_cents": input.AmountCents,
		"due_date":     input.DueDate,
		"notes":        input.Notes,
	})
	return charge, nil
}

// Delete removes a charge row.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateSummary(ctx)
	s.audit(ctx, actorID, "charge.delete", id, nil)
	return nil
}

// Summary returns the per-status rollup, cached in Redis and deduplicated
// with singleflight so a dashboard refresh storm costs one query.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	if s.cache == nil {
		return s.repo.Summarize(ctx)
	}
	if raw, err := s.cache.Get(ctx, summaryCacheKey).Bytes(); err == nil {
		var cached Summary
		if json.Unmarshal(raw, &cached) == nil {
			return &cached, nil
		}
	}
	v, err, _ := s.sf.Do(summaryCacheKey, func() (any, error) {
		summary, err := s.repo.Summarize(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(summary); err == nil {
			s.cache.Set(ctx, summaryCacheKey, raw, s.ttl)
		}
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Summary), nil
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if s.cache != nil {
		s.cache.Del(ctx, summaryCacheKey)
	}
}

func (s *Service) audit(ctx context.Context, actorID int64, action string, chargeID int64, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "charge",
		EntityID: strconv.FormatInt(chargeID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observeReconcile(result ReconcileResult, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveReconcile("charges", outcome, result.Created, result.Updated, result.Failed)
	}
}
