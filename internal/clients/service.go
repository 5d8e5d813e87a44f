package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/atlasagents/backoffice/internal/billing"
	"github.com/atlasagents/backoffice/internal/platform/httpx"
)

// RepositoryPort defines data access methods for clients.
type RepositoryPort interface {
	CreateClient(ctx context.Context, c Client) (*Client, error)
	GetClient(ctx context.Context, id int64) (*Client, error)
	ListClients(ctx context.Context, req ListClientsRequest) ([]Client, int, error)
	UpdateClient(ctx context.Context, id int64, name, email, state, notes *string) (*Client, error)
	SoftDeleteClient(ctx context.Context, id int64) error
	CreateLineItem(ctx context.Context, li LineItem) (*LineItem, error)
	ListLineItems(ctx context.Context, clientID int64) ([]LineItem, error)
	ChargeFactRows(ctx context.Context) ([]FactRow, error)
	ReportFactRows(ctx context.Context) ([]FactRow, error)
}

// Service handles client business logic and derives billing facts for the
// charge and report reconcilers.
type Service struct {
	repo  RepositoryPort
	title cases.Caser
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, title: cases.Title(language.AmericanEnglish)}
}

// CreateClientInput carries validated client fields.
type CreateClientInput struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"required,email"`
	State string `json:"state" validate:"required,len=2"`
	Notes string `json:"notes"`
}

// CreateClient normalizes and persists a new client.
func (s *Service) CreateClient(ctx context.Context, input CreateClientInput) (*Client, error) {
	return s.repo.CreateClient(ctx, Client{
		Name:  s.title.String(strings.TrimSpace(input.Name)),
		Email: strings.ToLower(strings.TrimSpace(input.Email)),
		State: strings.ToUpper(strings.TrimSpace(input.State)),
		Notes: input.Notes,
	})
}

// GetClient returns one client.
func (s *Service) GetClient(ctx context.Context, id int64) (*Client, error) {
	return s.repo.GetClient(ctx, id)
}

// ListClients returns clients and the total count.
func (s *Service) ListClients(ctx context.Context, req ListClientsRequest) ([]Client, int, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.ListClients(ctx, req)
}

// UpdateClientInput carries optional client updates.
type UpdateClientInput struct {
	Name  *string `json:"name" validate:"omitempty,min=2"`
	Email *string `json:"email" validate:"omitempty,email"`
	State *string `json:"state" validate:"omitempty,len=2"`
	Notes *string `json:"notes"`
}

// UpdateClient applies the provided fields.
func (s *Service) UpdateClient(ctx context.Context, id int64, input UpdateClientInput) (*Client, error) {
	if input.Name != nil {
		normalized := s.title.String(strings.TrimSpace(*input.Name))
		input.Name = &normalized
	}
	if input.State != nil {
		normalized := strings.ToUpper(strings.TrimSpace(*input.State))
		input.State = &normalized
	}
	return s.repo.UpdateClient(ctx, id, input.Name, input.Email, input.State, input.Notes)
}

// DeleteClient soft-deletes a client.
func (s *Service) DeleteClient(ctx context.Context, id int64) error {
	return s.repo.SoftDeleteClient(ctx, id)
}

// AddLineItemInput carries a new line item. Kind and BillingPeriod accept
// the historical free-form spellings and are normalized before storage.
type AddLineItemInput struct {
	Kind           string  `json:"kind" validate:"required"`
	Description    string  `json:"description"`
	Jurisdiction   string  `json:"jurisdiction" validate:"omitempty,len=2"`
	BillingPeriod  string  `json:"billing_period"`
	SaleDate       string  `json:"sale_date" validate:"required,datetime=2006-01-02"`
	ExpirationDate *string `json:"expiration_date" validate:"omitempty,datetime=2006-01-02"`
	AmountCents    int64   `json:"amount_cents" validate:"gte=0"`
}

// AddLineItem normalizes and persists a line item for a client.
func (s *Service) AddLineItem(ctx context.Context, clientID int64, input AddLineItemInput) (*LineItem, error) {
	if _, err := s.repo.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	kind := ParseLineItemKind(input.Kind)
	if kind == KindOther && strings.TrimSpace(input.Kind) == "" {
		return nil, fmt.Errorf("%w: line item kind required", httpx.ErrValidation)
	}
	saleDate, err := billing.ParseDate(input.SaleDate)
	if err != nil {
		return nil, fmt.Errorf("%w: sale_date: %v", httpx.ErrValidation, err)
	}
	li := LineItem{
		ClientID:      clientID,
		Kind:          kind,
		Description:   strings.TrimSpace(input.Description),
		Jurisdiction:  strings.ToUpper(strings.TrimSpace(input.Jurisdiction)),
		BillingPeriod: billing.ParseRecurrence(input.BillingPeriod),
		SaleDate:      saleDate,
		AmountCents:   input.AmountCents,
	}
	if input.ExpirationDate != nil {
		expiration, err := billing.ParseDate(*input.ExpirationDate)
		if err != nil {
			return nil, fmt.Errorf("%w: expiration_date: %v", httpx.ErrValidation, err)
		}
		li.ExpirationDate = &expiration
	}
	return s.repo.CreateLineItem(ctx, li)
}

// ListLineItems returns a client's line items.
func (s *Service) ListLineItems(ctx context.Context, clientID int64) ([]LineItem, error) {
	return s.repo.ListLineItems(ctx, clientID)
}

// ChargeFacts derives the billing facts the charge reconciler runs on: one
// entry per active client with a usable ADDRESS line item. Subjects whose
// facts cannot be derived are silently skipped for the pass.
func (s *Service) ChargeFacts(ctx context.Context) ([]billing.Facts, error) {
	rows, err := s.repo.ChargeFactRows(ctx)
	if err != nil {
		return nil, err
	}
	var facts []billing.Facts
	for _, row := range rows {
		if row.SaleDate.IsZero() {
			continue
		}
		rec := billing.ParseRecurrence(row.BillingPeriod)
		if rec != billing.RecurrenceMonthly && rec != billing.RecurrenceAnnual {
			continue
		}
		facts = append(facts, billing.Facts{
			ClientID:     row.ClientID,
			LineItemID:   row.LineItemID,
			Jurisdiction: row.Jurisdiction,
			Recurrence:   rec,
			Anchor:       billing.DateOnly(row.SaleDate),
			Expires:      dateOnlyPtr(row.ExpirationDate),
			AmountCents:  row.AmountCents,
		})
	}
	return facts, nil
}

// ReportFacts derives the facts the annual-report reconciler runs on: one
// entry per active client with a FORMATION line item. The recurrence is the
// jurisdiction's report frequency; subjects resolving to None stay in the
// slice and are skipped by the reconciler.
func (s *Service) ReportFacts(ctx context.Context) ([]billing.Facts, error) {
	rows, err := s.repo.ReportFactRows(ctx)
	if err != nil {
		return nil, err
	}
	var facts []billing.Facts
	for _, row := range rows {
		if row.SaleDate.IsZero() || row.Jurisdiction == "" {
			continue
		}
		facts = append(facts, billing.Facts{
			ClientID:     row.ClientID,
			LineItemID:   row.LineItemID,
			Jurisdiction: strings.ToUpper(row.Jurisdiction),
			Recurrence:   billing.ReportFrequency(row.Jurisdiction),
			Anchor:       billing.DateOnly(row.SaleDate),
			AmountCents:  row.AmountCents,
		})
	}
	return facts, nil
}

func dateOnlyPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := billing.DateOnly(*t)
	return &d
}
