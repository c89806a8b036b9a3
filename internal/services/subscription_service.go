package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/subscriptly/billing/internal/calendar"
	"github.com/subscriptly/billing/internal/config"
	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/gateway"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
	"go.uber.org/zap"
)

// SubscribeRequest is the input of Subscribe.
type SubscribeRequest struct {
	UserID    int64                   `json:"user_id" validate:"required,gt=0"`
	TierID    int64                   `json:"tier_id" validate:"required,gt=0"`
	PurposeID *int64                  `json:"purpose_id,omitempty" validate:"omitempty,gt=0"`
	SubType   models.SubscriptionType `json:"sub_type" validate:"oneof=0 1"`
	AutoPay   bool                    `json:"auto_pay"`
}

// SubscribeResult carries the first dues of a new subscription and, when
// the user has to pay through a gateway, the payment to pay.
type SubscribeResult struct {
	Subscription *models.Subscription     `json:"subscription"`
	Dues         *models.SubscriptionDues `json:"dues,omitempty"`
	Payment      *models.Payment          `json:"payment,omitempty"`
}

// SubscriptionService manages the subscription lifecycle around billing.
type SubscriptionService struct {
	db          *sql.DB
	billing     *BillingService
	ledger      *LedgerService
	settlements *SettlementService
	payments    *PaymentService
	sealer      vault.Sealer
	validator   *ValidationHelper
	cfg         *config.BillingConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewSubscriptionService(
	db *sql.DB,
	billing *BillingService,
	ledger *LedgerService,
	settlements *SettlementService,
	payments *PaymentService,
	sealer vault.Sealer,
	cfg *config.BillingConfig,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		db:          db,
		billing:     billing,
		ledger:      ledger,
		settlements: settlements,
		payments:    payments,
		sealer:      sealer,
		validator:   NewValidationHelper(),
		cfg:         cfg,
		logger:      logger.Named("subscription"),
		now:         time.Now,
	}
}

// Subscribe creates a subscription and raises its first dues. The due day
// is the local calendar day of creation. With auto pay the dues are
// settled from the wallet or left Owed with a top-up payment; without it
// an Instant entry is created whose payment settles the dues directly.
// Direct-debit subscriptions are charged by the mandate cycle only.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResult, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}

	var tier models.Tier
	err := s.db.QueryRowContext(ctx, `SELECT id, business_id, title, amount FROM tiers WHERE id = $1`, req.TierID).
		Scan(&tier.ID, &tier.BusinessID, &tier.Title, &tier.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrTierNotFound, req.TierID)
	}
	if err != nil {
		return nil, fmt.Errorf("load tier %d: %w", req.TierID, err)
	}

	now := s.now().In(s.cfg.Location)
	sub := &models.Subscription{
		UserID:        req.UserID,
		BusinessID:    tier.BusinessID,
		TierID:        tier.ID,
		PurposeID:     req.PurposeID,
		DueDayOfMonth: calendar.DueDayOf(now),
		IsEnabled:     true,
		SubType:       req.SubType,
		AutoPay:       req.AutoPay,
		CreatedAt:     now,
		Amount:        tier.Amount,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions
			(user_id, business_id, tier_id, purpose_id, due_day_of_month, is_enabled, sub_type, auto_pay, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7, $8)
		RETURNING id`,
		sub.UserID, sub.BusinessID, sub.TierID, sub.PurposeID, sub.DueDayOfMonth, sub.SubType, sub.AutoPay, sub.CreatedAt).
		Scan(&sub.ID)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	// The subscription and its first dues commit together.
	result := &SubscribeResult{Subscription: sub}
	var evs []events.Event
	billingDay := calendar.StartOfDay(now)
	switch {
	case sub.SubType == models.SubTypeDirectDebit:
	case sub.AutoPay:
		result.Dues, result.Payment, evs, err = s.billing.billTx(ctx, tx, sub, billingDay)
	default:
		result.Dues, result.Payment, err = s.instantDues(ctx, tx, sub, billingDay)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("subscription created", zap.Int64("subscription_id", sub.ID), zap.Int("due_day", sub.DueDayOfMonth))
	if sub.AutoPay && result.Dues != nil {
		s.billing.afterBill(ctx, sub, result.Dues, evs)
	}
	return result, nil
}

func (s *SubscriptionService) instantDues(ctx context.Context, tx *sql.Tx, sub *models.Subscription, billingDay time.Time) (*models.SubscriptionDues, *models.Payment, error) {
	entry, err := s.ledger.CreateEntry(ctx, tx, sub.UserID, sub.Amount, models.KindInstant)
	if err != nil {
		return nil, nil, err
	}
	dues, err := s.settlements.CreateSubscriptionDues(ctx, tx, entry, sub, billingDay, s.now(), models.DuesCreated)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.payments.CreatePayment(ctx, tx, entry)
	if err != nil {
		return nil, nil, err
	}
	return dues, p, nil
}

// RegisterMandate stores a direct-debit mandate for a subscription. The
// provider credentials are sealed before they reach the database.
func (s *SubscriptionService) RegisterMandate(ctx context.Context, subscriptionID int64, providerRef string, creds gateway.MandateCredentials) (*models.Mandate, error) {
	sub, err := s.billing.subscription(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	sealed, err := vault.SealJSON(s.sealer, creds)
	if err != nil {
		return nil, fmt.Errorf("seal mandate credentials: %w", err)
	}

	m := &models.Mandate{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		ProviderRef:    providerRef,
		ClientData:     sealed,
		IsActive:       true,
		CreatedAt:      s.now(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO mandates (user_id, subscription_id, provider_ref, client_data, is_active, created_at)
		VALUES ($1, $2, $3, $4, true, $5)
		ON CONFLICT (subscription_id) DO UPDATE
			SET provider_ref = EXCLUDED.provider_ref, client_data = EXCLUDED.client_data, is_active = true
		RETURNING id`,
		m.UserID, m.SubscriptionID, m.ProviderRef, m.ClientData, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("insert mandate: %w", err)
	}
	return m, nil
}

// Cancel disables a subscription owned by userID and deactivates its mandate.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET is_enabled = false WHERE id = $1 AND user_id = $2`, subscriptionID, userID)
	if err != nil {
		return fmt.Errorf("cancel subscription %d: %w", subscriptionID, err)
	}
	if changed, err := rowsAffected(res); err != nil {
		return err
	} else if !changed {
		return fmt.Errorf("%w: %d", models.ErrSubscriptionNotFound, subscriptionID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE mandates SET is_active = false WHERE subscription_id = $1`, subscriptionID); err != nil {
		return fmt.Errorf("deactivate mandate: %w", err)
	}
	return tx.Commit()
}

// ResetDueDays recomputes due_day_of_month from each subscription's
// creation date and returns how many rows changed.
func (s *SubscriptionService) ResetDueDays(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, due_day_of_month, created_at FROM subscriptions ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}

	type fix struct {
		id  int64
		day int
	}
	var fixes []fix
	for rows.Next() {
		var (
			id        int64
			current   int
			createdAt time.Time
		)
		if err := rows.Scan(&id, &current, &createdAt); err != nil {
			rows.Close()
			return 0, err
		}
		if day := calendar.DueDayOf(createdAt.In(s.cfg.Location)); day != current {
			fixes = append(fixes, fix{id: id, day: day})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, f := range fixes {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE subscriptions SET due_day_of_month = $2 WHERE id = $1`, f.id, f.day); err != nil {
			return 0, fmt.Errorf("reset due day of %d: %w", f.id, err)
		}
	}
	s.logger.Info("due days reset", zap.Int("changed", len(fixes)))
	return len(fixes), nil
}

// IsActive is false for disabled subscriptions and for subscriptions whose
// oldest owed dues is older than the inactivity threshold.
func (s *SubscriptionService) IsActive(ctx context.Context, subscriptionID int64) (bool, error) {
	var (
		enabled    bool
		oldestOwed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT s.is_enabled, MIN(sd.due_date) FILTER (WHERE sd.status = $2 AND NOT sd.is_paid)
		FROM subscriptions s
		LEFT JOIN subscription_dues sd ON sd.subscription_id = s.id
		WHERE s.id = $1
		GROUP BY s.is_enabled`, subscriptionID, models.DuesOwed).Scan(&enabled, &oldestOwed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %d", models.ErrSubscriptionNotFound, subscriptionID)
	}
	if err != nil {
		return false, fmt.Errorf("load subscription %d: %w", subscriptionID, err)
	}
	if !enabled {
		return false, nil
	}
	if !oldestOwed.Valid {
		return true, nil
	}
	return s.now().Sub(oldestOwed.Time) < s.cfg.InactiveAfter, nil
}

// DisableLapsed disables subscriptions with dues owed for longer than the
// grace period.
func (s *SubscriptionService) DisableLapsed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions s SET is_enabled = false
		WHERE s.is_enabled AND EXISTS (
			SELECT 1 FROM subscription_dues sd
			WHERE sd.subscription_id = s.id AND sd.status = $1 AND NOT sd.is_paid AND sd.due_date < $2
		)`, models.DuesOwed, s.now().Add(-s.cfg.GracePeriod))
	if err != nil {
		return 0, fmt.Errorf("disable lapsed subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("lapsed subscriptions disabled", zap.Int64("count", n))
	}
	return int(n), nil
}
