package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/metrics"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
	"go.uber.org/zap"
)

// WalletService derives wallet balances from paid ledger rows. The balance
// is never stored.
type WalletService struct{}

func NewWalletService() *WalletService {
	return &WalletService{}
}

// A Subscription entry is positive when a gateway payment settled it and
// negative when its dues settled it. SMS packages are always debits.
const balanceQuery = `
	SELECT
		COALESCE(SUM(le.amount) FILTER (
			WHERE le.kind IN ($2, $3, $4) AND p.is_paid
		), 0) AS positive,
		COALESCE(SUM(le.amount) FILTER (
			WHERE (le.kind = $4 AND sd.is_paid) OR (le.kind = $5 AND sp.is_paid)
		), 0) AS negative
	FROM ledger_entries le
	LEFT JOIN payments p ON p.ledger_entry_id = le.id
	LEFT JOIN subscription_dues sd ON sd.ledger_entry_id = le.id
	LEFT JOIN sms_package_settlements sp ON sp.ledger_entry_id = le.id
	WHERE le.owner_id = $1`

// Balance returns max(0, credits - debits) for owner.
func (s *WalletService) Balance(ctx context.Context, q querier, ownerID int64) (int64, error) {
	var positive, negative int64
	err := q.QueryRowContext(ctx, balanceQuery, ownerID,
		models.KindWalletCharge, models.KindFollowerWalletCharge, models.KindSubscription, models.KindSmsPackage,
	).Scan(&positive, &negative)
	if err != nil {
		return 0, fmt.Errorf("wallet balance for %d: %w", ownerID, err)
	}
	if positive < negative {
		return 0, nil
	}
	return positive - negative, nil
}

// DebtSweeper settles owed dues from the wallet once it can cover them.
type DebtSweeper struct {
	db          *sql.DB
	wallet      *WalletService
	settlements *SettlementService
	dispatcher  Dispatcher
	audit       vault.Auditor
	logger      *zap.Logger
	now         func() time.Time
}

func NewDebtSweeper(db *sql.DB, wallet *WalletService, settlements *SettlementService, dispatcher Dispatcher, audit vault.Auditor, logger *zap.Logger) *DebtSweeper {
	return &DebtSweeper{
		db:          db,
		wallet:      wallet,
		settlements: settlements,
		dispatcher:  dispatcher,
		audit:       audit,
		logger:      logger.Named("debt_sweep"),
		now:         time.Now,
	}
}

type owedDues struct {
	dues  models.SubscriptionDues
	entry models.LedgerEntry
}

// CheckOwed clears the owner's owed dues oldest first while the wallet
// covers them. The owner lock serialises sweeps and billing for one user.
func (s *DebtSweeper) CheckOwed(ctx context.Context, ownerID int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := lockOwner(ctx, tx, ownerID); err != nil {
		return 0, fmt.Errorf("lock owner %d: %w", ownerID, err)
	}

	owed, err := s.owed(ctx, tx, ownerID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var (
		cleared int
		evs     []events.Event
	)
	for i := range owed {
		balance, err := s.wallet.Balance(ctx, tx, ownerID)
		if err != nil {
			return 0, err
		}
		if balance < owed[i].entry.Amount {
			continue
		}

		changed, paidEvs, err := s.settlements.MarkPaid(ctx, tx, &owed[i].entry, &owed[i].dues, now)
		if err != nil {
			return 0, err
		}
		if changed {
			cleared++
			evs = append(evs, paidEvs...)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if cleared > 0 {
		metrics.DebtSweepCleared.Add(float64(cleared))
		s.audit.LogOperation(fmt.Sprintf("sweep-%d", ownerID), ownerID, "DEBT_SWEEP", fmt.Sprintf("cleared %d owed dues", cleared))
		s.logger.Info("owed dues cleared", zap.Int64("owner_id", ownerID), zap.Int("cleared", cleared))
	}
	if err := s.dispatcher.Dispatch(ctx, evs...); err != nil {
		s.logger.Warn("dispatch sweep events", zap.Int64("owner_id", ownerID), zap.Error(err))
	}
	return cleared, nil
}

func (s *DebtSweeper) owed(ctx context.Context, tx *sql.Tx, ownerID int64) ([]owedDues, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT sd.id, sd.ledger_entry_id, sd.subscription_id, sd.billing_day, sd.due_date, sd.status, sd.created_at,
		       le.owner_id, le.amount, le.kind, le.created_at
		FROM subscription_dues sd
		JOIN ledger_entries le ON le.id = sd.ledger_entry_id
		JOIN subscriptions s ON s.id = sd.subscription_id
		WHERE le.owner_id = $1 AND sd.status = $2 AND NOT sd.is_paid AND s.is_enabled
		ORDER BY sd.created_at, sd.id
		FOR UPDATE OF sd`, ownerID, models.DuesOwed)
	if err != nil {
		return nil, fmt.Errorf("load owed dues: %w", err)
	}
	defer rows.Close()

	var out []owedDues
	for rows.Next() {
		var o owedDues
		if err := rows.Scan(&o.dues.ID, &o.dues.LedgerEntryID, &o.dues.SubscriptionID, &o.dues.BillingDay, &o.dues.DueDate,
			&o.dues.Status, &o.dues.CreatedAt, &o.entry.OwnerID, &o.entry.Amount, &o.entry.Kind, &o.entry.CreatedAt); err != nil {
			return nil, err
		}
		o.entry.ID = o.dues.LedgerEntryID
		out = append(out, o)
	}
	return out, rows.Err()
}

// HandlePaymentPaid runs the sweep when a wallet top-up has been paid.
func (s *DebtSweeper) HandlePaymentPaid(ctx context.Context, e events.Event) error {
	paid, ok := e.(events.PaymentPaid)
	if !ok || !paid.EntryKind.IsWalletCharge() {
		return nil
	}
	_, err := s.CheckOwed(ctx, paid.OwnerID)
	return err
}
