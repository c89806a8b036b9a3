package services

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/subscriptly/billing/internal/calendar"
	"github.com/subscriptly/billing/internal/config"
	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/gateway"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/queue"
	"github.com/subscriptly/billing/internal/vault"
	"go.uber.org/zap"
)

// 2024-10-21 is 1403/07/30, the last day of a 30-day month.
var testNow = time.Date(2024, 10, 21, 8, 0, 0, 0, time.UTC)

type seqIDs struct {
	next int64
}

func (s *seqIDs) Generate() int64 {
	s.next++
	return s.next
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, evs ...events.Event) error {
	args := m.Called(ctx, evs)
	return args.Error(0)
}

// dispatched flattens the events of every Dispatch call.
func (m *mockDispatcher) dispatched() []events.Event {
	var out []events.Event
	for _, call := range m.Calls {
		if call.Method == "Dispatch" {
			out = append(out, call.Arguments.Get(1).([]events.Event)...)
		}
	}
	return out
}

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Request(ctx context.Context, gw *models.Gateway, p *models.Payment, callbackURL string, trail gateway.Trail) (*gateway.RequestResult, error) {
	args := m.Called(gw.Code, p.ID, callbackURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.RequestResult), args.Error(1)
}

func (m *mockAdapter) Verify(ctx context.Context, gw *models.Gateway, p *models.Payment, data models.CallbackData, trail gateway.Trail) (bool, error) {
	args := m.Called(gw.Code, p.ID, data)
	return args.Bool(0), args.Error(1)
}

type mockCharger struct {
	mock.Mock
}

func (m *mockCharger) Charge(ctx context.Context, mandate *models.Mandate, amount int64, trackID string) (string, error) {
	args := m.Called(mandate.ID, amount, trackID)
	return args.String(0), args.Error(1)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocker) Release(ctx context.Context, key string) error {
	args := m.Called(key)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, job queue.Job) error {
	args := m.Called(job)
	return args.Error(0)
}

func testConfig() *config.BillingConfig {
	return &config.BillingConfig{
		Location: time.UTC,
		Blackout: calendar.Window{
			Start:    calendar.Clock{Hour: 23, Minute: 45},
			End:      calendar.Clock{Hour: 0, Minute: 30},
			Location: time.UTC,
		},
		PublicBaseURL:            "https://billing.test",
		DefaultGateway:           "zarrinpal",
		GatewayTimeout:           time.Second,
		RecheckLookback:          24 * time.Hour,
		RecheckMinAge:            15 * time.Minute,
		MandateScalingFactor:     10,
		MandateFailureThresholds: []int{1, 3, 5},
		GracePeriod:              60 * 24 * time.Hour,
		InactiveAfter:            4 * 24 * time.Hour,
		LateReminderFrom:         2 * 24 * time.Hour,
		LateReminderTo:           3 * 24 * time.Hour,
	}
}

type fixture struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
	cfg  *config.BillingConfig

	ids        *seqIDs
	dispatcher *mockDispatcher
	adapter    *mockAdapter
	charger    *mockCharger
	locker     *mockLocker
	publisher  *mockPublisher

	ledger        *LedgerService
	settlements   *SettlementService
	wallet        *WalletService
	payments      *PaymentService
	sweeper       *DebtSweeper
	billing       *BillingService
	subscriptions *SubscriptionService
	reports       *ReportService
	jobs          *JobRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:         db,
		mock:       mock,
		cfg:        testConfig(),
		ids:        &seqIDs{},
		dispatcher: &mockDispatcher{},
		adapter:    &mockAdapter{},
		charger:    &mockCharger{},
		locker:     &mockLocker{},
		publisher:  &mockPublisher{},
	}

	logger := zap.NewNop()
	audit := vault.NewAuditLogger(logger)
	registry := gateway.NewRegistry(map[models.GatewayCode]gateway.Adapter{
		models.GatewayZarrinpal: f.adapter,
		models.GatewaySaman:     nil,
	})
	sealer, err := vault.New(vault.Config{MasterKey: "test-master-key", Salt: "test-salt"})
	require.NoError(t, err)

	f.ledger = NewLedgerService(f.ids)
	f.settlements = NewSettlementService(f.ids)
	f.wallet = NewWalletService()
	f.payments = NewPaymentService(db, f.ids, f.ledger, f.settlements, f.wallet, registry, audit, f.dispatcher, f.cfg, logger)
	f.sweeper = NewDebtSweeper(db, f.wallet, f.settlements, f.dispatcher, audit, logger)
	f.billing = NewBillingService(db, f.ledger, f.settlements, f.wallet, f.payments, f.charger, f.locker, f.publisher, f.dispatcher, audit, f.cfg, logger)
	f.subscriptions = NewSubscriptionService(db, f.billing, f.ledger, f.settlements, f.payments, sealer, f.cfg, logger)
	f.reports = NewReportService(db, f.dispatcher, f.cfg, logger)
	f.jobs = NewJobRunner(f.billing, f.payments, f.subscriptions, f.reports, f.locker, f.publisher, f.cfg, logger)

	f.setNow(testNow)
	f.payments.newInvoice = func() string { return "inv-new" }
	return f
}

func (f *fixture) setNow(now time.Time) {
	clock := func() time.Time { return now }
	f.ledger.now = clock
	f.payments.now = clock
	f.sweeper.now = clock
	f.billing.now = clock
	f.subscriptions.now = clock
	f.reports.now = clock
	f.jobs.now = clock
}

var paymentCols = strings.Split(strings.ReplaceAll(paymentColumns, " ", ""), ",")

func paymentRows(payments ...*models.Payment) *sqlmock.Rows {
	rows := sqlmock.NewRows(paymentCols)
	for _, p := range payments {
		var gatewayID any
		if p.GatewayID != nil {
			gatewayID = *p.GatewayID
		}
		rows.AddRow(p.ID, p.InvoiceNumber, p.OwnerID, p.LedgerEntryID, p.Amount, gatewayID,
			p.IsPaid, p.Authority, p.Log, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func gatewayRows(id int64, code models.GatewayCode) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "request_url", "verify_url", "code", "is_enabled", "credentials"}).
		AddRow(id, string(code), "https://gw.test/request", "https://gw.test/verify", string(code), true, nil)
}

func entryRows(id, owner, amount int64, kind models.EntryKind) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "amount", "kind", "created_at"}).
		AddRow(id, owner, amount, int64(kind), testNow)
}

func balanceRows(positive, negative int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"positive", "negative"}).AddRow(positive, negative)
}

func subscriptionRows(id, user int64, subType models.SubscriptionType, enabled bool, amount int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "business_id", "tier_id", "purpose_id", "due_day_of_month",
		"is_enabled", "sub_type", "auto_pay", "created_at", "amount"}).
		AddRow(id, user, int64(3), int64(2), nil, int64(30), enabled, int64(subType), true, testNow.AddDate(0, -1, 0), amount)
}

// expectEnable covers the subscription enablement that follows a paid dues.
func expectEnable(m sqlmock.Sqlmock, subscriptionID, user int64) {
	m.ExpectQuery("UPDATE subscriptions SET is_enabled = true").
		WithArgs(subscriptionID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "business_id"}).AddRow(user, int64(3)))
	m.ExpectExec("INSERT INTO relations").
		WithArgs(user, int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func unpaidPayment(id, entryID int64) *models.Payment {
	gatewayID := int64(9)
	return &models.Payment{
		ID:            id,
		InvoiceNumber: "3f2b8c1e-9a4d-4f6e-8b7a-1c2d3e4f5a6b",
		OwnerID:       7,
		LedgerEntryID: entryID,
		Amount:        1000,
		GatewayID:     &gatewayID,
		Authority:     "A0001",
		CreatedAt:     testNow.Add(-time.Hour),
		UpdatedAt:     testNow.Add(-time.Hour),
	}
}
