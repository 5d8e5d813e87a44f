package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlasagents/backoffice/internal/billing"
)

type memoryRepo struct {
	clients    map[int64]*Client
	lineItems  map[int64][]LineItem
	chargeRows []FactRow
	reportRows []FactRow
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		clients:   make(map[int64]*Client),
		lineItems: make(map[int64][]LineItem),
		nextID:    1,
	}
}

func (m *memoryRepo) CreateClient(_ context.Context, c Client) (*Client, error) {
	c.ID = m.nextID
	m.nextID++
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.clients[c.ID] = &c
	return &c, nil
}

func (m *memoryRepo) GetClient(_ context.Context, id int64) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *memoryRepo) ListClients(_ context.Context, _ ListClientsRequest) ([]Client, int, error) {
	var out []Client
	for _, c := range m.clients {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memoryRepo) UpdateClient(_ context.Context, id int64, name, email, state, notes *string) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	if name != nil {
		c.Name = *name
	}
	if email != nil {
		c.Email = *email
	}
	if state != nil {
		c.State = *state
	}
	if notes != nil {
		c.Notes = *notes
	}
	copied := *c
	return &copied, nil
}

func (m *memoryRepo) SoftDeleteClient(_ context.Context, id int64) error {
	c, ok := m.clients[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	return nil
}

func (m *memoryRepo) CreateLineItem(_ context.Context, li LineItem) (*LineItem, error) {
	li.ID = m.nextID
	m.nextID++
	li.CreatedAt = time.Now().UTC()
	m.lineItems[li.ClientID] = append(m.lineItems[li.ClientID], li)
	return &li, nil
}

func (m *memoryRepo) ListLineItems(_ context.Context, clientID int64) ([]LineItem, error) {
	return m.lineItems[clientID], nil
}

func (m *memoryRepo) ChargeFactRows(_ context.Context) ([]FactRow, error) {
	return m.chargeRows, nil
}

func (m *memoryRepo) ReportFactRows(_ context.Context) ([]FactRow, error) {
	return m.reportRows, nil
}

func TestCreateClientNormalizes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	client, err := svc.CreateClient(context.Background(), CreateClientInput{
		Name:  "  acme holdings  ",
		Email: "Billing@Acme.COM",
		State: "wy",
	})
	require.NoError(t, err)
	require.Equal(t, "Acme Holdings", client.Name)
	require.Equal(t, "billing@acme.com", client.Email)
	require.Equal(t, "WY", client.State)
}

func TestAddLineItemNormalizesKindAndPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	client, err := svc.CreateClient(context.Background(), CreateClientInput{
		Name: "Acme", Email: "a@b.com", State: "WY",
	})
	require.NoError(t, err)

	item, err := svc.AddLineItem(context.Background(), client.ID, AddLineItemInput{
		Kind:          "registered address",
		BillingPeriod: "Monthly",
		Jurisdiction:  "wy",
		SaleDate:      "2025-01-10",
		AmountCents:   5000,
	})
	require.NoError(t, err)
	require.Equal(t, KindAddress, item.Kind)
	require.Equal(t, billing.RecurrenceMonthly, item.BillingPeriod)
	require.Equal(t, "WY", item.Jurisdiction)
	require.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), item.SaleDate)
}

func TestAddLineItemUnknownClient(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.AddLineItem(context.Background(), 99, AddLineItemInput{
		Kind: "LLC", SaleDate: "2025-01-10",
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddLineItemRejectsBadDate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	client, err := svc.CreateClient(context.Background(), CreateClientInput{
		Name: "Acme", Email: "a@b.com", State: "WY",
	})
	require.NoError(t, err)

	_, err = svc.AddLineItem(context.Background(), client.ID, AddLineItemInput{
		Kind: "LLC", SaleDate: "01/10/2025",
	})
	require.Error(t, err)
}

func TestChargeFactsSkipsUnusableRows(t *testing.T) {
	repo := newMemoryRepo()
	repo.chargeRows = []FactRow{
		{ClientID: 1, LineItemID: 10, BillingPeriod: "MONTHLY", SaleDate: time.Date(2025, 1, 10, 15, 30, 0, 0, time.UTC), AmountCents: 5000},
		{ClientID: 2, LineItemID: 20, BillingPeriod: "one-time", SaleDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), AmountCents: 9900},
		{ClientID: 3, LineItemID: 30, BillingPeriod: "ANNUAL", AmountCents: 1200},
	}
	svc := NewService(repo)

	facts, err := svc.ChargeFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, int64(1), facts[0].ClientID)
	require.Equal(t, billing.RecurrenceMonthly, facts[0].Recurrence)
	require.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), facts[0].Anchor)
}

func TestChargeFactsTruncatesExpiration(t *testing.T) {
	expires := time.Date(2025, 12, 31, 18, 0, 0, 0, time.UTC)
	repo := newMemoryRepo()
	repo.chargeRows = []FactRow{
		{ClientID: 1, LineItemID: 10, BillingPeriod: "ANNUAL",
			SaleDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), ExpirationDate: &expires},
	}
	svc := NewService(repo)

	facts, err := svc.ChargeFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.NotNil(t, facts[0].Expires)
	require.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), *facts[0].Expires)
}

func TestReportFactsResolvesFrequency(t *testing.T) {
	repo := newMemoryRepo()
	repo.reportRows = []FactRow{
		{ClientID: 1, LineItemID: 10, Jurisdiction: "wy", SaleDate: time.Date(2023, 3, 5, 0, 0, 0, 0, time.UTC)},
		{ClientID: 2, LineItemID: 20, Jurisdiction: "CA", SaleDate: time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)},
		{ClientID: 3, LineItemID: 30, Jurisdiction: "NM", SaleDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ClientID: 4, LineItemID: 40, Jurisdiction: "", SaleDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	svc := NewService(repo)

	facts, err := svc.ReportFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, facts, 3)
	require.Equal(t, "WY", facts[0].Jurisdiction)
	require.Equal(t, billing.RecurrenceAnnual, facts[0].Recurrence)
	require.Equal(t, billing.RecurrenceBiennial, facts[1].Recurrence)
	require.Equal(t, billing.RecurrenceNone, facts[2].Recurrence)
}
