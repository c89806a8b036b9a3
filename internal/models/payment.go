package models

import (
	"time"
)

// GatewayCode selects the adapter implementation for a gateway row.
type GatewayCode string

const (
	GatewaySaman     GatewayCode = "saman"
	GatewayShaparak  GatewayCode = "shaparak"
	GatewayFinotech  GatewayCode = "finotech"
	GatewayZarrinpal GatewayCode = "zarrinpal"
	GatewayParsian   GatewayCode = "parsian"
)

// Payment log scopes.
const (
	ScopeRequestHandler = "Request handler"
	ScopeResultHandler  = "Result handler"
	ScopeBankOperation  = "Bank operation"
	ScopePaymentChecker = "Payment checker"
)

// Payment is a gateway round-trip for one ledger entry.
type Payment struct {
	ID            int64     `json:"id" db:"id"`
	InvoiceNumber string    `json:"invoice_number" db:"invoice_number"`
	OwnerID       int64     `json:"owner_id" db:"owner_id"`
	LedgerEntryID int64     `json:"ledger_entry_id" db:"ledger_entry_id"`
	Amount        int64     `json:"amount" db:"amount"`
	GatewayID     *int64    `json:"gateway_id" db:"gateway_id"`
	IsPaid        bool      `json:"is_paid" db:"is_paid"`
	Authority     string    `json:"authority" db:"authority"`
	Log           string    `json:"-" db:"log"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Requested reports whether the payment has been sent to a gateway.
func (p *Payment) Requested() bool {
	return p.GatewayID != nil && p.Authority != ""
}

// Gateway is a configured payment provider.
type Gateway struct {
	ID          int64       `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	RequestURL  string      `json:"request_url" db:"request_url"`
	VerifyURL   string      `json:"verify_url" db:"verify_url"`
	Code        GatewayCode `json:"code" db:"code"`
	IsEnabled   bool        `json:"is_enabled" db:"is_enabled"`
	Credentials []byte      `json:"-" db:"credentials"`
}

// CallbackData is whatever the provider posted back to the verify endpoint.
type CallbackData map[string]string

