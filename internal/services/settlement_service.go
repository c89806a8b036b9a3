package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/models"
)

// SettlementService owns the paid transition of every settlement kind and
// the inserts that attach a settlement to a fresh ledger entry.
type SettlementService struct {
	ids IDGenerator
}

func NewSettlementService(ids IDGenerator) *SettlementService {
	return &SettlementService{ids: ids}
}

const (
	markPaymentPaid  = `UPDATE payments SET is_paid = true, updated_at = $2 WHERE id = $1 AND is_paid = false`
	markTargetPaid   = `UPDATE target_settlements SET is_paid = true, paid_date = $2 WHERE id = $1 AND is_paid = false`
	markDuesPaid     = `UPDATE subscription_dues SET is_paid = true, status = $3, paid_date = $2 WHERE id = $1 AND is_paid = false`
	markMandatePaid  = `UPDATE mandate_dues SET is_paid = true, status = $3, paid_date = $2 WHERE id = $1 AND is_paid = false`
	markSmsPaid      = `UPDATE sms_package_settlements SET is_paid = true, paid_date = $2 WHERE id = $1 AND is_paid = false`
	markFollowerPaid = `UPDATE follower_wallet_charges SET is_paid = true, paid_date = $2 WHERE id = $1 AND is_paid = false`
)

// MarkPaid flips st to paid if it is not paid yet. The update is a
// compare-and-set on is_paid, so of several racing callers exactly one gets
// changed == true and the events describing the transition. Dependent
// entitlements (subscription enablement, target completion) are applied in
// the same transaction.
func (s *SettlementService) MarkPaid(ctx context.Context, q querier, entry *models.LedgerEntry, st models.Settlement, now time.Time) (bool, []events.Event, error) {
	var (
		res sql.Result
		err error
	)
	switch v := st.(type) {
	case *models.WalletChargeSettlement:
		res, err = q.ExecContext(ctx, markPaymentPaid, v.Payment.ID, now)
	case *models.TargetSettlement:
		res, err = q.ExecContext(ctx, markTargetPaid, v.ID, now)
	case *models.SubscriptionDues:
		res, err = q.ExecContext(ctx, markDuesPaid, v.ID, now, models.DuesPaid)
	case *models.MandateDues:
		res, err = q.ExecContext(ctx, markMandatePaid, v.ID, now, models.DuesPaid)
	case *models.SmsPackageSettlement:
		res, err = q.ExecContext(ctx, markSmsPaid, v.ID, now)
	case *models.FollowerWalletCharge:
		res, err = q.ExecContext(ctx, markFollowerPaid, v.ID, now)
	default:
		return false, nil, fmt.Errorf("%w: %T", models.ErrNoSettlement, st)
	}
	if isUniqueViolation(err) {
		return false, nil, models.ErrDuplicateBilling
	}
	if err != nil {
		return false, nil, fmt.Errorf("mark %s %d paid: %w", st.Kind(), st.SettlementID(), err)
	}
	changed, err := rowsAffected(res)
	if err != nil || !changed {
		return false, nil, err
	}

	paid := events.SettlementPaid{
		Kind:         st.Kind(),
		SettlementID: st.SettlementID(),
		EntryID:      entry.ID,
		OwnerID:      entry.OwnerID,
		Amount:       entry.Amount,
	}
	evs := []events.Event{}

	switch v := st.(type) {
	case *models.WalletChargeSettlement:
		v.Payment.IsPaid = true
		v.Payment.UpdatedAt = now
	case *models.TargetSettlement:
		v.IsPaid, v.PaidDate = true, &now
		if err := s.completeTarget(ctx, q, v.TargetID); err != nil {
			return false, nil, err
		}
	case *models.SubscriptionDues:
		v.IsPaid, v.PaidDate, v.Status = true, &now, models.DuesPaid
		paid.SubscriptionID = v.SubscriptionID
		greeting, err := s.enableSubscription(ctx, q, v.SubscriptionID, now)
		if err != nil {
			return false, nil, err
		}
		evs = append(evs, greeting)
	case *models.MandateDues:
		v.IsPaid, v.PaidDate, v.Status = true, &now, models.DuesPaid
		paid.SubscriptionID = v.SubscriptionID
		greeting, err := s.enableSubscription(ctx, q, v.SubscriptionID, now)
		if err != nil {
			return false, nil, err
		}
		evs = append(evs, greeting)
	case *models.SmsPackageSettlement:
		v.IsPaid, v.PaidDate = true, &now
	case *models.FollowerWalletCharge:
		v.IsPaid, v.PaidDate = true, &now
	}

	return true, append([]events.Event{paid}, evs...), nil
}

// enableSubscription re-enables a subscription after one of its dues was
// paid and makes sure the subscriber follows the business.
func (s *SettlementService) enableSubscription(ctx context.Context, q querier, subscriptionID int64, now time.Time) (events.Event, error) {
	var userID, businessID int64
	err := q.QueryRowContext(ctx,
		`UPDATE subscriptions SET is_enabled = true WHERE id = $1 RETURNING user_id, business_id`,
		subscriptionID).Scan(&userID, &businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrSubscriptionNotFound, subscriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("enable subscription %d: %w", subscriptionID, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO relations (follower_id, business_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, userID, businessID, now)
	if err != nil {
		return nil, fmt.Errorf("follow business %d: %w", businessID, err)
	}

	return events.Notification{
		Template: events.TemplateGreeting,
		UserID:   userID,
		Data:     map[string]any{"subscription_id": subscriptionID, "business_id": businessID},
	}, nil
}

// completeTarget disables a target once its paid settlements reach the goal.
func (s *SettlementService) completeTarget(ctx context.Context, q querier, targetID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE targets SET is_enabled = false
		WHERE id = $1 AND is_enabled AND goal <= (
			SELECT COALESCE(SUM(le.amount), 0)
			FROM target_settlements ts
			JOIN ledger_entries le ON le.id = ts.ledger_entry_id
			WHERE ts.target_id = $1 AND ts.is_paid
		)`, targetID)
	if err != nil {
		return fmt.Errorf("complete target %d: %w", targetID, err)
	}
	return nil
}

// CreateSubscriptionDues attaches dues for billingDay to entry. A second
// insert for the same subscription and day returns ErrDuplicateBilling.
func (s *SettlementService) CreateSubscriptionDues(ctx context.Context, q querier, entry *models.LedgerEntry, sub *models.Subscription, billingDay, dueDate time.Time, status models.DuesStatus) (*models.SubscriptionDues, error) {
	d := &models.SubscriptionDues{
		ID:             s.ids.Generate(),
		LedgerEntryID:  entry.ID,
		SubscriptionID: sub.ID,
		PurposeID:      sub.PurposeID,
		BillingDay:     billingDay,
		DueDate:        dueDate,
		Status:         status,
		CreatedAt:      entry.CreatedAt,
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO subscription_dues
			(id, ledger_entry_id, subscription_id, purpose_id, billing_day, due_date, is_paid, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)
		ON CONFLICT (subscription_id, billing_day) DO NOTHING
		RETURNING id`,
		d.ID, d.LedgerEntryID, d.SubscriptionID, d.PurposeID, d.BillingDay, d.DueDate, d.Status, d.CreatedAt).Scan(&d.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDuplicateBilling
	}
	if err != nil {
		return nil, fmt.Errorf("insert subscription dues: %w", err)
	}
	return d, nil
}

// CreateMandateDues records one direct-debit attempt. Paying it goes through
// MarkPaid, where the partial unique index on paid rows rejects a second
// paid charge for the same day.
func (s *SettlementService) CreateMandateDues(ctx context.Context, q querier, entry *models.LedgerEntry, m *models.Mandate, providerRef string, billingDay, dueDate time.Time, status models.DuesStatus) (*models.MandateDues, error) {
	d := &models.MandateDues{
		ID:             s.ids.Generate(),
		LedgerEntryID:  entry.ID,
		SubscriptionID: m.SubscriptionID,
		MandateID:      m.ID,
		ProviderRef:    providerRef,
		BillingDay:     billingDay,
		DueDate:        dueDate,
		Status:         status,
		CreatedAt:      entry.CreatedAt,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO mandate_dues
			(id, ledger_entry_id, subscription_id, mandate_id, provider_ref, billing_day, due_date, is_paid, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)`,
		d.ID, d.LedgerEntryID, d.SubscriptionID, d.MandateID, d.ProviderRef, d.BillingDay, d.DueDate, d.Status, d.CreatedAt)
	if isUniqueViolation(err) {
		return nil, models.ErrDuplicateBilling
	}
	if err != nil {
		return nil, fmt.Errorf("insert mandate dues: %w", err)
	}
	return d, nil
}

func (s *SettlementService) CreateTargetSettlement(ctx context.Context, q querier, entry *models.LedgerEntry, targetID int64) (*models.TargetSettlement, error) {
	t := &models.TargetSettlement{
		ID:            s.ids.Generate(),
		LedgerEntryID: entry.ID,
		TargetID:      targetID,
		CreatedAt:     entry.CreatedAt,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO target_settlements (id, ledger_entry_id, target_id, is_paid, created_at)
		VALUES ($1, $2, $3, false, $4)`, t.ID, t.LedgerEntryID, t.TargetID, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert target settlement: %w", err)
	}
	return t, nil
}

func (s *SettlementService) CreateSmsPackageSettlement(ctx context.Context, q querier, entry *models.LedgerEntry, packageID int64) (*models.SmsPackageSettlement, error) {
	p := &models.SmsPackageSettlement{
		ID:            s.ids.Generate(),
		LedgerEntryID: entry.ID,
		SmsPackageID:  packageID,
		CreatedAt:     entry.CreatedAt,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO sms_package_settlements (id, ledger_entry_id, sms_package_id, is_paid, created_at)
		VALUES ($1, $2, $3, false, $4)`, p.ID, p.LedgerEntryID, p.SmsPackageID, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert sms package settlement: %w", err)
	}
	return p, nil
}

func (s *SettlementService) CreateFollowerWalletCharge(ctx context.Context, q querier, entry *models.LedgerEntry, operatorID int64) (*models.FollowerWalletCharge, error) {
	f := &models.FollowerWalletCharge{
		ID:            s.ids.Generate(),
		LedgerEntryID: entry.ID,
		OperatorID:    operatorID,
		FollowerID:    entry.OwnerID,
		CreatedAt:     entry.CreatedAt,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO follower_wallet_charges (id, ledger_entry_id, operator_id, follower_id, is_paid, created_at)
		VALUES ($1, $2, $3, $4, false, $5)`, f.ID, f.LedgerEntryID, f.OperatorID, f.FollowerID, f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert follower wallet charge: %w", err)
	}
	return f, nil
}
