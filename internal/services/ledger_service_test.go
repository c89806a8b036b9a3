package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subscriptly/billing/internal/models"
)

func TestLedgerService_CreateEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		f := newFixture(t)
		for _, amount := range []int64{0, -100} {
			_, err := f.ledger.CreateEntry(ctx, f.db, 7, amount, models.KindWalletCharge)
			assert.ErrorIs(t, err, models.ErrInvalidAmount)
		}
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ledger.CreateEntry(ctx, f.db, 7, 1000, models.EntryKind(99))
		assert.ErrorIs(t, err, models.ErrInvalidKind)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("inserts the entry", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(int64(1), int64(7), int64(1000), models.KindSubscription, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		entry, err := f.ledger.CreateEntry(ctx, f.db, 7, 1000, models.KindSubscription)
		require.NoError(t, err)
		assert.Equal(t, &models.LedgerEntry{ID: 1, OwnerID: 7, Amount: 1000, Kind: models.KindSubscription, CreatedAt: testNow}, entry)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Related(t *testing.T) {
	ctx := context.Background()

	t.Run("wallet charge resolves to its payment", func(t *testing.T) {
		f := newFixture(t)
		p := unpaidPayment(500, 400)
		f.mock.ExpectQuery("FROM payments WHERE ledger_entry_id").
			WithArgs(int64(400)).
			WillReturnRows(paymentRows(p))

		st, err := f.ledger.Related(ctx, f.db, &models.LedgerEntry{ID: 400, Kind: models.KindWalletCharge})
		require.NoError(t, err)
		charge, ok := st.(*models.WalletChargeSettlement)
		require.True(t, ok)
		assert.Equal(t, int64(500), charge.Payment.ID)
		assert.Equal(t, int64(9), *charge.Payment.GatewayID)
		assert.Equal(t, models.SettlementWalletCharge, st.Kind())
	})

	t.Run("instant entries resolve to subscription dues", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("FROM subscription_dues WHERE ledger_entry_id").
			WithArgs(int64(400)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "ledger_entry_id", "subscription_id", "purpose_id", "billing_day",
				"due_date", "is_paid", "status", "paid_date", "charge_payment_id", "created_at"}).
				AddRow(int64(40), int64(400), int64(11), nil, testNow, testNow, false, int64(models.DuesCreated), nil, nil, testNow))

		st, err := f.ledger.Related(ctx, f.db, &models.LedgerEntry{ID: 400, Kind: models.KindInstant})
		require.NoError(t, err)
		dues, ok := st.(*models.SubscriptionDues)
		require.True(t, ok)
		assert.Equal(t, int64(11), dues.SubscriptionID)
		assert.Nil(t, dues.PurposeID)
		assert.False(t, dues.Paid())
	})

	t.Run("missing settlement", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("FROM sms_package_settlements WHERE ledger_entry_id").
			WithArgs(int64(400)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "ledger_entry_id", "sms_package_id", "is_paid", "paid_date", "created_at"}))

		_, err := f.ledger.Related(ctx, f.db, &models.LedgerEntry{ID: 400, Kind: models.KindSmsPackage})
		assert.ErrorIs(t, err, models.ErrNoSettlement)
	})

	t.Run("unknown kind", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ledger.Related(ctx, f.db, &models.LedgerEntry{ID: 400, Kind: models.EntryKind(3)})
		assert.ErrorIs(t, err, models.ErrInvalidKind)
	})
}
