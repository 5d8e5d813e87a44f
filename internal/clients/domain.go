// Package clients owns the client and line-item records the billing engines
// derive their facts from. Free-form line-item kind and billing-period tags
// are normalized here, at the data-access boundary, so the reconcilers only
// ever see the enumerated forms.
package clients

import (
	"strings"
	"time"

	"github.com/atlasagents/backoffice/internal/billing"
)

// LineItemKind enumerates the normalized line-item categories.
type LineItemKind string

const (
	KindFormation LineItemKind = "FORMATION"
	KindAddress   LineItemKind = "ADDRESS"
	KindTaxFiling LineItemKind = "TAX_FILING"
	KindOther     LineItemKind = "OTHER"
)

// ParseLineItemKind maps the historical free-form kind strings ("LLC",
// "Llc", "llc formation", "registered address", ...) onto the enumeration.
func ParseLineItemKind(s string) LineItemKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FORMATION", "LLC", "LLC FORMATION", "COMPANY FORMATION":
		return KindFormation
	case "ADDRESS", "REGISTERED ADDRESS", "AGENT ADDRESS", "REGISTERED AGENT":
		return KindAddress
	case "TAX_FILING", "TAX FILING", "TAX", "5472", "1120", "FORM 5472":
		return KindTaxFiling
	default:
		return KindOther
	}
}

// Client is an LLC-formation client.
type Client struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	State     string     `json:"state"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// LineItem is one sold service. Kind and BillingPeriod are stored in their
// normalized forms.
type LineItem struct {
	ID             int64              `json:"id"`
	ClientID       int64              `json:"client_id"`
	Kind           LineItemKind       `json:"kind"`
	Description    string             `json:"description,omitempty"`
	Jurisdiction   string             `json:"jurisdiction,omitempty"`
	BillingPeriod  billing.Recurrence `json:"billing_period"`
	SaleDate       time.Time          `json:"sale_date"`
	ExpirationDate *time.Time         `json:"expiration_date,omitempty"`
	AmountCents    int64              `json:"amount_cents"`
	CreatedAt      time.Time          `json:"created_at"`
}
