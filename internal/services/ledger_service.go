package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/subscriptly/billing/internal/models"
)

// LedgerService creates ledger entries and resolves their settlements.
type LedgerService struct {
	ids IDGenerator
	now func() time.Time
}

func NewLedgerService(ids IDGenerator) *LedgerService {
	return &LedgerService{ids: ids, now: time.Now}
}

func (s *LedgerService) CreateEntry(ctx context.Context, q querier, ownerID, amount int64, kind models.EntryKind) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidKind, kind)
	}

	entry := &models.LedgerEntry{
		ID:        s.ids.Generate(),
		OwnerID:   ownerID,
		Amount:    amount,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, owner_id, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.OwnerID, entry.Amount, entry.Kind, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	return entry, nil
}

func (s *LedgerService) Entry(ctx context.Context, q querier, id int64) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := q.QueryRowContext(ctx, `
		SELECT id, owner_id, amount, kind, created_at
		FROM ledger_entries
		WHERE id = $1`, id).Scan(&e.ID, &e.OwnerID, &e.Amount, &e.Kind, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load ledger entry %d: %w", id, err)
	}
	return &e, nil
}

type settlementLoader func(ctx context.Context, q querier, entryID int64) (models.Settlement, error)

var relatedLoaders = map[models.SettlementKind]settlementLoader{
	models.SettlementWalletCharge: func(ctx context.Context, q querier, entryID int64) (models.Settlement, error) {
		p, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE ledger_entry_id = $1`, entryID))
		if err != nil {
			return nil, err
		}
		return &models.WalletChargeSettlement{Payment: p}, nil
	},
	models.SettlementTarget: func(ctx context.Context, q querier, entryID int64) (models.Settlement, error) {
		var t models.TargetSettlement
		err := q.QueryRowContext(ctx, `
			SELECT id, ledger_entry_id, target_id, is_paid, paid_date, created_at
			FROM target_settlements WHERE ledger_entry_id = $1`, entryID).
			Scan(&t.ID, &t.LedgerEntryID, &t.TargetID, &t.IsPaid, &t.PaidDate, &t.CreatedAt)
		return &t, err
	},
	models.SettlementSubscriptionDues: func(ctx context.Context, q querier, entryID int64) (models.Settlement, error) {
		var d models.SubscriptionDues
		err := q.QueryRowContext(ctx, `
			SELECT id, ledger_entry_id, subscription_id, purpose_id, billing_day, due_date,
			       is_paid, status, paid_date, charge_payment_id, created_at
			FROM subscription_dues WHERE ledger_entry_id = $1`, entryID).
			Scan(&d.ID, &d.LedgerEntryID, &d.SubscriptionID, &d.PurposeID, &d.BillingDay, &d.DueDate,
				&d.IsPaid, &d.Status, &d.PaidDate, &d.ChargePaymentID, &d.CreatedAt)
		return &d, err
	},
	models.SettlementDirectDebitDues: func(ctx context.Context, q querier, entryID int64) (models.Settlement, error) {
		var d models.MandateDues
		err := q.QueryRowContext(ctx, `
			SELECT id, ledger_entry_id, subscription_id, mandate_id, provider_ref, billing_day, due_date,
			       is_paid, status, paid_date, created_at
			FROM mandate_dues WHERE ledger_entry_id = $1`, entryID).
			Scan(&d.ID, &d.LedgerEntryID, &d.SubscriptionID, &d.MandateID, &d.ProviderRef, &d.BillingDay, &d.DueDate,
				&d.IsPaid, &d.Status, &d.PaidDate, &d.CreatedAt)
		return &d, err
	},
	models.SettlementSmsPackage: func(ctx context.Context, q querier, entryID int64) (models.Settlement, error) {
		var p models.SmsPackageSettlement
		err := q.QueryRowContext(ctx, `
			SELECT id, ledger_entry_id, sms_package_id, is_paid, paid_date, created_at
			FROM sms_package_settlements WHERE ledger_entry_id = $1`, entryID).
			Scan(&p.ID, &p.LedgerEntryID, &p.SmsPackageID, &p.IsPaid, &p.PaidDate, &p.CreatedAt)
		return &p, err
	},
	models.SettlementFollowerWalletCharge: func(ctx context.Context, q querier, entryID int64) (models.Settlement, error) {
		var f models.FollowerWalletCharge
		err := q.QueryRowContext(ctx, `
			SELECT id, ledger_entry_id, operator_id, follower_id, is_paid, paid_date, created_at
			FROM follower_wallet_charges WHERE ledger_entry_id = $1`, entryID).
			Scan(&f.ID, &f.LedgerEntryID, &f.OperatorID, &f.FollowerID, &f.IsPaid, &f.PaidDate, &f.CreatedAt)
		return &f, err
	},
}

// Related returns the single settlement attached to entry.
func (s *LedgerService) Related(ctx context.Context, q querier, entry *models.LedgerEntry) (models.Settlement, error) {
	kind, ok := models.SettlementKindFor(entry.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidKind, entry.Kind)
	}

	settlement, err := relatedLoaders[kind](ctx, q, entry.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %d (%s)", models.ErrNoSettlement, entry.ID, entry.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s settlement for entry %d: %w", kind, entry.ID, err)
	}
	return settlement, nil
}
