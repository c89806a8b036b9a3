package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/subscriptly/billing/internal/models"
	"go.uber.org/zap"
)

// ChargeWallet raises an unpaid wallet top-up for owner.
func (s *PaymentService) ChargeWallet(ctx context.Context, ownerID, amount int64) (*models.Payment, error) {
	return s.checkout(ctx, ownerID, amount, models.KindWalletCharge, nil)
}

// ChargeFollowerWallet raises a wallet top-up that an operator requests on
// behalf of one of the business followers.
func (s *PaymentService) ChargeFollowerWallet(ctx context.Context, operatorID, followerID, amount int64) (*models.Payment, error) {
	return s.checkout(ctx, followerID, amount, models.KindFollowerWalletCharge, func(tx *sql.Tx, entry *models.LedgerEntry) error {
		_, err := s.settlements.CreateFollowerWalletCharge(ctx, tx, entry, operatorID)
		return err
	})
}

// Donate raises a payment towards an open business target.
func (s *PaymentService) Donate(ctx context.Context, ownerID, targetID, amount int64) (*models.Payment, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, `SELECT is_enabled FROM targets WHERE id = $1`, targetID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrTargetNotFound, targetID)
	}
	if err != nil {
		return nil, fmt.Errorf("load target %d: %w", targetID, err)
	}
	if !enabled {
		return nil, fmt.Errorf("%w: %d", models.ErrTargetClosed, targetID)
	}

	return s.checkout(ctx, ownerID, amount, models.KindTarget, func(tx *sql.Tx, entry *models.LedgerEntry) error {
		_, err := s.settlements.CreateTargetSettlement(ctx, tx, entry, targetID)
		return err
	})
}

func (s *PaymentService) checkout(ctx context.Context, ownerID, amount int64, kind models.EntryKind, attach func(*sql.Tx, *models.LedgerEntry) error) (*models.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.ledger.CreateEntry(ctx, tx, ownerID, amount, kind)
	if err != nil {
		return nil, err
	}
	if attach != nil {
		if err := attach(tx, entry); err != nil {
			return nil, err
		}
	}
	p, err := s.CreatePayment(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogPayment(p.InvoiceNumber, ownerID, amount, "CREATED")
	return p, nil
}

// BuySmsPackage pays for an SMS package from the owner's wallet.
func (s *PaymentService) BuySmsPackage(ctx context.Context, ownerID, packageID int64) (*models.SmsPackageSettlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := lockOwner(ctx, tx, ownerID); err != nil {
		return nil, fmt.Errorf("lock owner %d: %w", ownerID, err)
	}

	var price int64
	if err := tx.QueryRowContext(ctx, `SELECT amount FROM sms_packages WHERE id = $1`, packageID).Scan(&price); err != nil {
		return nil, fmt.Errorf("load sms package %d: %w", packageID, err)
	}

	balance, err := s.wallet.Balance(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}
	if balance < price {
		return nil, fmt.Errorf("%w: have %d, need %d", models.ErrInsufficientBalance, balance, price)
	}

	entry, err := s.ledger.CreateEntry(ctx, tx, ownerID, price, models.KindSmsPackage)
	if err != nil {
		return nil, err
	}
	pkg, err := s.settlements.CreateSmsPackageSettlement(ctx, tx, entry, packageID)
	if err != nil {
		return nil, err
	}
	_, evs, err := s.settlements.MarkPaid(ctx, tx, entry, pkg, s.now())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogSettlement(string(pkg.Kind()), pkg.ID, ownerID, price)
	if err := s.dispatcher.Dispatch(ctx, evs...); err != nil {
		s.logger.Warn("dispatch sms package events", zap.Int64("owner_id", ownerID), zap.Error(err))
	}
	return pkg, nil
}

// WalletBalance returns the owner's current wallet balance.
func (s *PaymentService) WalletBalance(ctx context.Context, ownerID int64) (int64, error) {
	return s.wallet.Balance(ctx, s.db, ownerID)
}
