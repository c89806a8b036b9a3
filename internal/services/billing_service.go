package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/subscriptly/billing/internal/calendar"
	"github.com/subscriptly/billing/internal/config"
	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/metrics"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/queue"
	"github.com/subscriptly/billing/internal/vault"
	"go.uber.org/zap"
)

const dayLayout = "2006-01-02"

const (
	cycleBank        = "bank"
	cycleDirectDebit = "direct_debit"
)

// MandateCharger collects a direct-debit payment from a mandate.
type MandateCharger interface {
	Charge(ctx context.Context, m *models.Mandate, amount int64, trackID string) (string, error)
}

// Locker takes short-lived cross-process locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// BillingService runs the two daily subscription cycles. The cycles only
// enumerate due subscriptions and enqueue one job each; the jobs do the
// charging so one failing subscription never blocks the batch.
type BillingService struct {
	db          *sql.DB
	ledger      *LedgerService
	settlements *SettlementService
	wallet      *WalletService
	payments    *PaymentService
	mandates    MandateCharger
	locker      Locker
	publisher   queue.Publisher
	dispatcher  Dispatcher
	audit       vault.Auditor
	cfg         *config.BillingConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewBillingService(
	db *sql.DB,
	ledger *LedgerService,
	settlements *SettlementService,
	wallet *WalletService,
	payments *PaymentService,
	mandates MandateCharger,
	locker Locker,
	publisher queue.Publisher,
	dispatcher Dispatcher,
	audit vault.Auditor,
	cfg *config.BillingConfig,
	logger *zap.Logger,
) *BillingService {
	return &BillingService{
		db:          db,
		ledger:      ledger,
		settlements: settlements,
		wallet:      wallet,
		payments:    payments,
		mandates:    mandates,
		locker:      locker,
		publisher:   publisher,
		dispatcher:  dispatcher,
		audit:       audit,
		cfg:         cfg,
		logger:      logger.Named("billing"),
		now:         time.Now,
	}
}

func (s *BillingService) localNow() time.Time {
	return s.now().In(s.cfg.Location)
}

// billingDay parses a job day, defaulting to today in the billing location.
func (s *BillingService) billingDay(day string) (time.Time, error) {
	if day == "" {
		return calendar.StartOfDay(s.localNow()), nil
	}
	t, err := time.ParseInLocation(dayLayout, day, s.cfg.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad billing day %q: %w", day, err)
	}
	return t, nil
}

// instantLink is the instant-payment URL sent to users for an invoice.
func instantLink(cfg *config.BillingConfig, invoice string) string {
	return fmt.Sprintf("%s/pay/%s/%s", strings.TrimRight(cfg.PublicBaseURL, "/"), invoice, cfg.DefaultGateway)
}

// RunBankCycle enqueues a charge for every enabled bank-approach
// subscription due today.
func (s *BillingService) RunBankCycle(ctx context.Context) (int, error) {
	return s.runCycle(ctx, models.SubTypeBankApproach, queue.JobChargeSubscription)
}

// RunDirectDebitCycle enqueues a mandate charge for every enabled
// direct-debit subscription due today.
func (s *BillingService) RunDirectDebitCycle(ctx context.Context) (int, error) {
	return s.runCycle(ctx, models.SubTypeDirectDebit, queue.JobChargeMandate)
}

func (s *BillingService) runCycle(ctx context.Context, subType models.SubscriptionType, jobName string) (int, error) {
	now := s.localNow()
	dueDays := calendar.DueDays(calendar.FromTime(now))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM subscriptions
		WHERE is_enabled AND sub_type = $1 AND due_day_of_month = ANY($2)
		ORDER BY id`, subType, pq.Array(int64s(dueDays)))
	if err != nil {
		return 0, fmt.Errorf("load due subscriptions: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	day := now.Format(dayLayout)
	enqueued := 0
	for _, id := range ids {
		job := queue.Job{Name: jobName, SubscriptionID: id, Day: day, EnqueuedAt: now}
		if err := s.publisher.Publish(ctx, job); err != nil {
			s.logger.Error("enqueue charge", zap.Int64("subscription_id", id), zap.String("job", jobName), zap.Error(err))
			continue
		}
		enqueued++
	}

	s.logger.Info("billing cycle enqueued",
		zap.String("cycle", subType.String()),
		zap.String("day", day),
		zap.Ints("due_days", dueDays),
		zap.Int("enqueued", enqueued))
	return enqueued, nil
}

func (s *BillingService) subscription(ctx context.Context, q querier, id int64) (*models.Subscription, error) {
	var sub models.Subscription
	err := q.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, s.business_id, s.tier_id, s.purpose_id, s.due_day_of_month,
		       s.is_enabled, s.sub_type, s.auto_pay, s.created_at, t.amount
		FROM subscriptions s
		JOIN tiers t ON t.id = s.tier_id
		WHERE s.id = $1`, id).
		Scan(&sub.ID, &sub.UserID, &sub.BusinessID, &sub.TierID, &sub.PurposeID, &sub.DueDayOfMonth,
			&sub.IsEnabled, &sub.SubType, &sub.AutoPay, &sub.CreatedAt, &sub.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrSubscriptionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %d: %w", id, err)
	}
	return &sub, nil
}

// ChargeSubscription bills one bank-approach subscription for day. Running
// it twice for the same day creates one dues settlement.
func (s *BillingService) ChargeSubscription(ctx context.Context, subscriptionID int64, day string) error {
	billingDay, err := s.billingDay(day)
	if err != nil {
		return err
	}

	sub, err := s.subscription(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if !sub.IsEnabled || sub.SubType != models.SubTypeBankApproach {
		metrics.BillingAttempts.WithLabelValues(cycleBank, metrics.OutcomeSkipped).Inc()
		return nil
	}

	var billed bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscription_dues WHERE subscription_id = $1 AND billing_day = $2)`,
		sub.ID, billingDay).Scan(&billed)
	if err != nil {
		return fmt.Errorf("check dues for %d: %w", sub.ID, err)
	}
	if billed {
		metrics.BillingAttempts.WithLabelValues(cycleBank, metrics.OutcomeSkipped).Inc()
		return nil
	}

	dues, _, err := s.bill(ctx, sub, billingDay)
	if errors.Is(err, models.ErrDuplicateBilling) {
		s.logger.Debug("subscription already billed", zap.Int64("subscription_id", sub.ID), zap.Time("day", billingDay))
		metrics.BillingAttempts.WithLabelValues(cycleBank, metrics.OutcomeSkipped).Inc()
		return nil
	}
	if err != nil {
		metrics.BillingAttempts.WithLabelValues(cycleBank, metrics.OutcomeError).Inc()
		s.audit.LogError(fmt.Sprintf("subscription-%d", sub.ID), sub.UserID, err)
		return err
	}

	outcome := metrics.OutcomeOwed
	if dues.IsPaid {
		outcome = metrics.OutcomePaid
	}
	metrics.BillingAttempts.WithLabelValues(cycleBank, outcome).Inc()
	return nil
}

// bill raises Subscription dues for billingDay in its own transaction.
func (s *BillingService) bill(ctx context.Context, sub *models.Subscription, billingDay time.Time) (*models.SubscriptionDues, *models.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	dues, charge, evs, err := s.billTx(ctx, tx, sub, billingDay)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	s.afterBill(ctx, sub, dues, evs)
	return dues, charge, nil
}

// billTx settles the dues from the wallet when it covers the tier amount.
// Otherwise the dues are Owed and a wallet top-up payment is created for
// the user to pay. The returned events must be dispatched after commit.
func (s *BillingService) billTx(ctx context.Context, tx *sql.Tx, sub *models.Subscription, billingDay time.Time) (*models.SubscriptionDues, *models.Payment, []events.Event, error) {
	if err := lockOwner(ctx, tx, sub.UserID); err != nil {
		return nil, nil, nil, fmt.Errorf("lock owner %d: %w", sub.UserID, err)
	}

	balance, err := s.wallet.Balance(ctx, tx, sub.UserID)
	if err != nil {
		return nil, nil, nil, err
	}
	entry, err := s.ledger.CreateEntry(ctx, tx, sub.UserID, sub.Amount, models.KindSubscription)
	if err != nil {
		return nil, nil, nil, err
	}

	now := s.now()
	var (
		dues   *models.SubscriptionDues
		charge *models.Payment
		evs    []events.Event
	)
	if balance >= sub.Amount {
		dues, err = s.settlements.CreateSubscriptionDues(ctx, tx, entry, sub, billingDay, now, models.DuesCreated)
		if err != nil {
			return nil, nil, nil, err
		}
		if _, evs, err = s.settlements.MarkPaid(ctx, tx, entry, dues, now); err != nil {
			return nil, nil, nil, err
		}
	} else {
		dues, err = s.settlements.CreateSubscriptionDues(ctx, tx, entry, sub, billingDay, now, models.DuesOwed)
		if err != nil {
			return nil, nil, nil, err
		}
		chargeEntry, err := s.ledger.CreateEntry(ctx, tx, sub.UserID, sub.Amount, models.KindWalletCharge)
		if err != nil {
			return nil, nil, nil, err
		}
		if charge, err = s.payments.CreatePayment(ctx, tx, chargeEntry); err != nil {
			return nil, nil, nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscription_dues SET charge_payment_id = $2 WHERE id = $1`, dues.ID, charge.ID); err != nil {
			return nil, nil, nil, fmt.Errorf("link charge payment: %w", err)
		}
		dues.ChargePaymentID = &charge.ID

		evs = append(evs, events.Notification{
			Template: events.TemplateDueDateNotify,
			UserID:   sub.UserID,
			Data: map[string]any{
				"subscription_id": sub.ID,
				"business_id":     sub.BusinessID,
				"amount":          sub.Amount,
				"invoice_number":  charge.InvoiceNumber,
				"link":            instantLink(s.cfg, charge.InvoiceNumber),
			},
		})
	}

	return dues, charge, evs, nil
}

func (s *BillingService) afterBill(ctx context.Context, sub *models.Subscription, dues *models.SubscriptionDues, evs []events.Event) {
	s.audit.LogSettlement(string(dues.Kind()), dues.ID, sub.UserID, sub.Amount)
	s.logger.Info("subscription billed",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("dues_id", dues.ID),
		zap.Stringer("status", dues.Status))
	if err := s.dispatcher.Dispatch(ctx, evs...); err != nil {
		s.logger.Warn("dispatch billing events", zap.Int64("subscription_id", sub.ID), zap.Error(err))
	}
}

func (s *BillingService) mandate(ctx context.Context, subscriptionID int64) (*models.Mandate, error) {
	var m models.Mandate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, subscription_id, provider_ref, client_data, is_active, created_at
		FROM mandates WHERE subscription_id = $1 AND is_active`, subscriptionID).
		Scan(&m.ID, &m.UserID, &m.SubscriptionID, &m.ProviderRef, &m.ClientData, &m.IsActive, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: subscription %d", models.ErrMandateNotFound, subscriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load mandate: %w", err)
	}
	return &m, nil
}

// ChargeMandate collects one direct-debit payment for day. It is skipped
// when the mandate was already paid this local month or the day already
// has a charge attempt.
func (s *BillingService) ChargeMandate(ctx context.Context, subscriptionID int64, day string) error {
	billingDay, err := s.billingDay(day)
	if err != nil {
		return err
	}

	sub, err := s.subscription(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if !sub.IsEnabled || sub.SubType != models.SubTypeDirectDebit {
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomeSkipped).Inc()
		return nil
	}
	m, err := s.mandate(ctx, sub.ID)
	if err != nil {
		return err
	}

	var paidToday, paidThisMonth int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE billing_day = $2), COUNT(*) FILTER (WHERE billing_day >= $3)
		FROM mandate_dues
		WHERE subscription_id = $1 AND is_paid`,
		sub.ID, billingDay, calendar.StartOfMonth(billingDay)).Scan(&paidToday, &paidThisMonth)
	if err != nil {
		return fmt.Errorf("check mandate dues for %d: %w", sub.ID, err)
	}
	if paidToday > 0 || paidThisMonth > 0 {
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomeSkipped).Inc()
		return nil
	}

	lockKey := fmt.Sprintf("mandate:%d:%s", sub.ID, billingDay.Format(dayLayout))
	acquired, err := s.locker.Acquire(ctx, lockKey, 10*time.Minute)
	if err != nil {
		return fmt.Errorf("lock mandate charge: %w", err)
	}
	if !acquired {
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomeSkipped).Inc()
		return nil
	}
	defer s.locker.Release(ctx, lockKey)

	amount := sub.Amount * s.cfg.MandateScalingFactor
	trackID := mandateTrackID(sub.ID, billingDay)

	// The dues row is committed before the provider is called. A retry
	// for the same day hits the unique index and never charges again.
	entry, dues, err := s.reserveMandateCharge(ctx, sub, m, billingDay, trackID)
	if errors.Is(err, models.ErrDuplicateBilling) {
		s.logger.Info("mandate already charged for day", zap.Int64("subscription_id", sub.ID), zap.String("track_id", trackID))
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomeSkipped).Inc()
		return nil
	}
	if err != nil {
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomeError).Inc()
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	start := time.Now()
	ref, chargeErr := s.mandates.Charge(callCtx, m, amount, trackID)
	metrics.GatewayLatency.WithLabelValues(string(models.GatewayFinotech), "mandate_charge").Observe(time.Since(start).Seconds())
	cancel()

	var evs []events.Event
	if chargeErr == nil {
		evs, err = s.recordMandatePaid(ctx, entry, dues, ref)
	} else {
		evs, err = s.mandateFailureNotice(ctx, sub, m)
	}
	if err != nil {
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomeError).Inc()
		s.audit.LogError(trackID, sub.UserID, err)
		if chargeErr == nil {
			s.logger.Error("mandate charged but not recorded",
				zap.Int64("subscription_id", sub.ID), zap.Int64("dues_id", dues.ID),
				zap.String("track_id", trackID), zap.String("provider_ref", ref), zap.Error(err))
		}
		return err
	}

	if chargeErr != nil {
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomeFailed).Inc()
		s.audit.LogError(trackID, sub.UserID, chargeErr)
		s.logger.Warn("mandate charge failed", zap.Int64("subscription_id", sub.ID), zap.String("track_id", trackID), zap.Error(chargeErr))
	} else {
		metrics.BillingAttempts.WithLabelValues(cycleDirectDebit, metrics.OutcomePaid).Inc()
		s.audit.LogSettlement(string(dues.Kind()), dues.ID, sub.UserID, sub.Amount)
	}

	if err := s.dispatcher.Dispatch(ctx, evs...); err != nil {
		s.logger.Warn("dispatch mandate events", zap.Int64("subscription_id", sub.ID), zap.Error(err))
	}
	return nil
}

func mandateTrackID(subscriptionID int64, billingDay time.Time) string {
	return fmt.Sprintf("sub-%d-%s", subscriptionID, billingDay.Format(dayLayout))
}

// reserveMandateCharge commits Created dues for billingDay. It returns
// ErrDuplicateBilling when the day already has a charge attempt.
func (s *BillingService) reserveMandateCharge(ctx context.Context, sub *models.Subscription, m *models.Mandate, billingDay time.Time, trackID string) (*models.LedgerEntry, *models.MandateDues, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	entry, err := s.ledger.CreateEntry(ctx, tx, sub.UserID, sub.Amount, models.KindDirectDebit)
	if err != nil {
		return nil, nil, err
	}
	dues, err := s.settlements.CreateMandateDues(ctx, tx, entry, m, trackID, billingDay, s.now(), models.DuesCreated)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return entry, dues, nil
}

// recordMandatePaid stores the provider reference and marks the reserved
// dues paid.
func (s *BillingService) recordMandatePaid(ctx context.Context, entry *models.LedgerEntry, dues *models.MandateDues, ref string) ([]events.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if ref != "" && ref != dues.ProviderRef {
		if _, err := tx.ExecContext(ctx,
			`UPDATE mandate_dues SET provider_ref = $2 WHERE id = $1`, dues.ID, ref); err != nil {
			return nil, fmt.Errorf("store provider ref: %w", err)
		}
		dues.ProviderRef = ref
	}
	_, evs, err := s.settlements.MarkPaid(ctx, tx, entry, dues, s.now())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return evs, nil
}

// mandateFailureNotice counts the unpaid mandate dues of the trailing month
// and notifies the user when the count hits a configured threshold. Failed
// charges keep their dues Created.
func (s *BillingService) mandateFailureNotice(ctx context.Context, sub *models.Subscription, m *models.Mandate) ([]events.Event, error) {
	var failures int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mandate_dues
		WHERE mandate_id = $1 AND NOT is_paid AND created_at >= $2`,
		m.ID, s.now().AddDate(0, -1, 0)).Scan(&failures)
	if err != nil {
		return nil, fmt.Errorf("count mandate failures: %w", err)
	}
	if !slices.Contains(s.cfg.MandateFailureThresholds, failures) {
		return nil, nil
	}
	return []events.Event{events.Notification{
		Template: events.TemplateDueDateNotify,
		UserID:   sub.UserID,
		Data: map[string]any{
			"subscription_id": sub.ID,
			"business_id":     sub.BusinessID,
			"amount":          sub.Amount,
			"failures":        failures,
		},
	}}, nil
}
