package vault

import (
	"time"

	"go.uber.org/zap"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	OwnerID   int64     `json:"owner_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// Auditor records money-moving transitions.
type Auditor interface {
	LogPayment(invoice string, ownerID, amount int64, status string)
	LogSettlement(kind string, settlementID, ownerID, amount int64)
	LogError(reference string, ownerID int64, err error)
	LogOperation(reference string, ownerID int64, operation, details string)
}

type AuditLogger struct {
	logger *zap.Logger
}

var _ Auditor = (*AuditLogger)(nil)

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogPayment(invoice string, ownerID, amount int64, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "PAYMENT",
		Reference: invoice,
		OwnerID:   ownerID,
		Amount:    amount,
		Status:    status,
	})
}

func (a *AuditLogger) LogSettlement(kind string, settlementID, ownerID, amount int64) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "SETTLEMENT",
		OwnerID:   ownerID,
		Amount:    amount,
		Status:    "PAID",
		Details: map[string]any{
			"kind":          kind,
			"settlement_id": settlementID,
		},
	})
}

func (a *AuditLogger) LogError(reference string, ownerID int64, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		OwnerID:   ownerID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) LogOperation(reference string, ownerID int64, operation, details string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: operation,
		Reference: reference,
		OwnerID:   ownerID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	a.logger.Info("audit", zap.Any("event", event))
}
