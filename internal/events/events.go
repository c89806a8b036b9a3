// Package events carries domain events from the billing services to their
// consumers. Services return events; the caller dispatches them on a Bus.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/subscriptly/billing/internal/models"
	"go.uber.org/zap"
)

const (
	NamePaymentPaid    = "payment.paid"
	NameSettlementPaid = "settlement.paid"
	NameNotification   = "notification"
)

// Notification templates.
const (
	TemplateGreeting      = "greeting"
	TemplateDueDateNotify = "due_date_notify"
	TemplateLateNotify    = "late_notify"
	TemplateIncomeReport  = "income_report"
)

type Event interface {
	EventName() string
}

// PaymentPaid is emitted once, by the verification that flipped is_paid.
type PaymentPaid struct {
	PaymentID     int64            `json:"payment_id"`
	InvoiceNumber string           `json:"invoice_number"`
	OwnerID       int64            `json:"owner_id"`
	EntryID       int64            `json:"entry_id"`
	EntryKind     models.EntryKind `json:"entry_kind"`
	Amount        int64            `json:"amount"`
}

func (PaymentPaid) EventName() string { return NamePaymentPaid }

// SettlementPaid is emitted once per settlement transition to paid.
type SettlementPaid struct {
	Kind           models.SettlementKind `json:"kind"`
	SettlementID   int64                 `json:"settlement_id"`
	EntryID        int64                 `json:"entry_id"`
	OwnerID        int64                 `json:"owner_id"`
	SubscriptionID int64                 `json:"subscription_id,omitempty"`
	Amount         int64                 `json:"amount"`
}

func (SettlementPaid) EventName() string { return NameSettlementPaid }

// Notification asks the delivery service to message a user.
type Notification struct {
	Template string         `json:"template"`
	UserID   int64          `json:"user_id"`
	Data     map[string]any `json:"data,omitempty"`
}

func (Notification) EventName() string { return NameNotification }

type Handler func(ctx context.Context, e Event) error

// Bus dispatches events synchronously to the handlers registered for them.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{handlers: make(map[string][]Handler), logger: logger.Named("events")}
}

func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Dispatch runs every handler for every event. A failing handler does not
// stop the others; all errors are returned joined.
func (b *Bus) Dispatch(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, e := range evs {
		b.mu.RLock()
		handlers := b.handlers[e.EventName()]
		b.mu.RUnlock()

		for _, h := range handlers {
			if err := h(ctx, e); err != nil {
				b.logger.Error("event handler failed", zap.String("event", e.EventName()), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
