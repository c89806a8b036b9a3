package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/models"
)

func TestSettlementService_MarkPaid(t *testing.T) {
	ctx := context.Background()
	entry := &models.LedgerEntry{ID: 400, OwnerID: 7, Amount: 1000, Kind: models.KindSubscription}

	t.Run("dues transition enables the subscription", func(t *testing.T) {
		f := newFixture(t)
		dues := &models.SubscriptionDues{ID: 40, LedgerEntryID: 400, SubscriptionID: 11, Status: models.DuesOwed}

		f.mock.ExpectExec("UPDATE subscription_dues SET is_paid = true").
			WithArgs(int64(40), testNow, models.DuesPaid).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectEnable(f.mock, 11, 7)

		changed, evs, err := f.settlements.MarkPaid(ctx, f.db, entry, dues, testNow)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, dues.IsPaid)
		assert.Equal(t, models.DuesPaid, dues.Status)
		require.NotNil(t, dues.PaidDate)

		require.Len(t, evs, 2)
		assert.Equal(t, events.SettlementPaid{
			Kind:           models.SettlementSubscriptionDues,
			SettlementID:   40,
			EntryID:        400,
			OwnerID:        7,
			SubscriptionID: 11,
			Amount:         1000,
		}, evs[0])
		greeting, ok := evs[1].(events.Notification)
		require.True(t, ok)
		assert.Equal(t, events.TemplateGreeting, greeting.Template)
		assert.Equal(t, int64(7), greeting.UserID)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("second transition is a no-op", func(t *testing.T) {
		f := newFixture(t)
		dues := &models.SubscriptionDues{ID: 40, LedgerEntryID: 400, SubscriptionID: 11}

		f.mock.ExpectExec("UPDATE subscription_dues SET is_paid = true").
			WillReturnResult(sqlmock.NewResult(0, 0))

		changed, evs, err := f.settlements.MarkPaid(ctx, f.db, entry, dues, testNow)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Empty(t, evs)
		assert.False(t, dues.IsPaid)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("paid mandate dues for the same day is a duplicate", func(t *testing.T) {
		f := newFixture(t)
		dues := &models.MandateDues{ID: 41, LedgerEntryID: 400, SubscriptionID: 11}

		f.mock.ExpectExec("UPDATE mandate_dues SET is_paid = true").
			WillReturnError(&pq.Error{Code: "23505"})

		_, _, err := f.settlements.MarkPaid(ctx, f.db, entry, dues, testNow)
		assert.ErrorIs(t, err, models.ErrDuplicateBilling)
	})

	t.Run("target donation checks the goal", func(t *testing.T) {
		f := newFixture(t)
		target := &models.TargetSettlement{ID: 42, LedgerEntryID: 400, TargetID: 6}

		f.mock.ExpectExec("UPDATE target_settlements SET is_paid = true").
			WithArgs(int64(42), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("UPDATE targets SET is_enabled = false").
			WithArgs(int64(6)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		changed, evs, err := f.settlements.MarkPaid(ctx, f.db, entry, target, testNow)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Len(t, evs, 1)
		assert.True(t, target.IsPaid)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("wallet charge flips the payment", func(t *testing.T) {
		f := newFixture(t)
		p := unpaidPayment(500, 400)

		f.mock.ExpectExec("UPDATE payments SET is_paid = true").
			WithArgs(int64(500), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		changed, _, err := f.settlements.MarkPaid(ctx, f.db, entry, &models.WalletChargeSettlement{Payment: p}, testNow)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, p.IsPaid)
		assert.Equal(t, testNow, p.UpdatedAt)
	})
}

func TestSettlementService_CreateSubscriptionDues(t *testing.T) {
	ctx := context.Background()
	entry := &models.LedgerEntry{ID: 400, OwnerID: 7, Amount: 1000, Kind: models.KindSubscription, CreatedAt: testNow}
	sub := &models.Subscription{ID: 11, UserID: 7}

	t.Run("inserted", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("INSERT INTO subscription_dues").
			WithArgs(int64(1), int64(400), int64(11), nil, testNow, testNow, models.DuesOwed, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		d, err := f.settlements.CreateSubscriptionDues(ctx, f.db, entry, sub, testNow, testNow, models.DuesOwed)
		require.NoError(t, err)
		assert.Equal(t, int64(1), d.ID)
		assert.Equal(t, models.DuesOwed, d.Status)
	})

	t.Run("same subscription and day conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.mock.ExpectQuery("INSERT INTO subscription_dues").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := f.settlements.CreateSubscriptionDues(ctx, f.db, entry, sub, testNow, testNow, models.DuesCreated)
		assert.ErrorIs(t, err, models.ErrDuplicateBilling)
	})
}

func TestSettlementService_CreateFollowerWalletCharge(t *testing.T) {
	f := newFixture(t)
	entry := &models.LedgerEntry{ID: 400, OwnerID: 8, Amount: 500, Kind: models.KindFollowerWalletCharge, CreatedAt: testNow}

	f.mock.ExpectExec("INSERT INTO follower_wallet_charges").
		WithArgs(int64(1), int64(400), int64(3), int64(8), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	charge, err := f.settlements.CreateFollowerWalletCharge(context.Background(), f.db, entry, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), charge.FollowerID)
	assert.Equal(t, int64(3), charge.OperatorID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
