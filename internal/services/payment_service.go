package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subscriptly/billing/internal/config"
	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/gateway"
	"github.com/subscriptly/billing/internal/metrics"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/vault"
	"go.uber.org/zap"
)

const paymentColumns = `id, invoice_number, owner_id, ledger_entry_id, amount, gateway_id, is_paid, authority, log, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.InvoiceNumber, &p.OwnerID, &p.LedgerEntryID, &p.Amount, &p.GatewayID,
		&p.IsPaid, &p.Authority, &p.Log, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PaymentService runs the gateway round-trip of a payment: gateway
// assignment, request, verification and the paid transition that follows.
type PaymentService struct {
	db          *sql.DB
	ids         IDGenerator
	ledger      *LedgerService
	settlements *SettlementService
	wallet      *WalletService
	registry    *gateway.Registry
	audit       vault.Auditor
	dispatcher  Dispatcher
	cfg         *config.BillingConfig
	logger      *zap.Logger
	now         func() time.Time
	newInvoice  func() string
}

func NewPaymentService(
	db *sql.DB,
	ids IDGenerator,
	ledger *LedgerService,
	settlements *SettlementService,
	wallet *WalletService,
	registry *gateway.Registry,
	audit vault.Auditor,
	dispatcher Dispatcher,
	cfg *config.BillingConfig,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		db:          db,
		ids:         ids,
		ledger:      ledger,
		settlements: settlements,
		wallet:      wallet,
		registry:    registry,
		audit:       audit,
		dispatcher:  dispatcher,
		cfg:         cfg,
		logger:      logger.Named("payment"),
		now:         time.Now,
		newInvoice:  uuid.NewString,
	}
}

// CreatePayment attaches an unpaid payment to entry. Only kinds that are
// settled through a gateway may carry one.
func (s *PaymentService) CreatePayment(ctx context.Context, q querier, entry *models.LedgerEntry) (*models.Payment, error) {
	if !entry.Kind.Payable() {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotPayable, entry.Kind)
	}

	now := s.now()
	p := &models.Payment{
		ID:            s.ids.Generate(),
		InvoiceNumber: s.newInvoice(),
		OwnerID:       entry.OwnerID,
		LedgerEntryID: entry.ID,
		Amount:        entry.Amount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_number, owner_id, ledger_entry_id, amount, is_paid, authority, log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, '', '', $6, $7)`,
		p.ID, p.InvoiceNumber, p.OwnerID, p.LedgerEntryID, p.Amount, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return p, nil
}

func (s *PaymentService) loadPayment(ctx context.Context, where string, arg any) (*models.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

func (s *PaymentService) ByInvoice(ctx context.Context, invoice string) (*models.Payment, error) {
	return s.loadPayment(ctx, "invoice_number = $1", invoice)
}

func (s *PaymentService) ByID(ctx context.Context, id int64) (*models.Payment, error) {
	return s.loadPayment(ctx, "id = $1", id)
}

func (s *PaymentService) ByAuthority(ctx context.Context, authority string) (*models.Payment, error) {
	return s.loadPayment(ctx, "authority = $1", authority)
}

// FindForCallback resolves the payment a provider callback refers to, by
// Authority when present and by the order id otherwise.
func (s *PaymentService) FindForCallback(ctx context.Context, data models.CallbackData) (*models.Payment, error) {
	if authority := strings.TrimSpace(data["Authority"]); authority != "" {
		return s.ByAuthority(ctx, authority)
	}

	orderID := data["OrderId"]
	if orderID == "" {
		orderID = data["orderId"]
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: callback carries no authority or order id", models.ErrPaymentNotFound)
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad order id %q", models.ErrPaymentNotFound, orderID)
	}
	return s.ByID(ctx, id)
}

// Append writes one line to the payment log. It runs outside any
// transaction so the line survives a failed state change.
func (s *PaymentService) Append(ctx context.Context, paymentID int64, scope string, data any) {
	var text string
	switch v := data.(type) {
	case string:
		text = v
	case error:
		text = v.Error()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(b)
		}
	}

	now := s.now()
	line := fmt.Sprintf("[%s][%s] %s\n", now.Format(time.RFC3339), scope, text)
	_, err := s.db.ExecContext(ctx, `UPDATE payments SET log = log || $2, updated_at = $3 WHERE id = $1`, paymentID, line, now)
	if err != nil {
		s.logger.Error("append payment log", zap.Int64("payment_id", paymentID), zap.String("scope", scope), zap.Error(err))
	}
}

func (s *PaymentService) loadGateway(ctx context.Context, where string, arg any) (*models.Gateway, error) {
	var gw models.Gateway
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, request_url, verify_url, code, is_enabled, credentials
		FROM gateways WHERE `+where, arg).
		Scan(&gw.ID, &gw.Title, &gw.RequestURL, &gw.VerifyURL, &gw.Code, &gw.IsEnabled, &gw.Credentials)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", models.ErrGatewayNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("load gateway: %w", err)
	}
	return &gw, nil
}

// GatewayByCode returns the enabled gateway row for code.
func (s *PaymentService) GatewayByCode(ctx context.Context, code models.GatewayCode) (*models.Gateway, error) {
	return s.loadGateway(ctx, "code = $1 AND is_enabled ORDER BY id LIMIT 1", code)
}

func (s *PaymentService) GatewayByID(ctx context.Context, id int64) (*models.Gateway, error) {
	return s.loadGateway(ctx, "id = $1", id)
}

// AssignGateway stores the gateway choice on an unpaid payment.
func (s *PaymentService) AssignGateway(ctx context.Context, p *models.Payment, gw *models.Gateway) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET gateway_id = $2, updated_at = $3 WHERE id = $1 AND is_paid = false`,
		p.ID, gw.ID, now)
	if err != nil {
		return fmt.Errorf("assign gateway: %w", err)
	}
	changed, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: %s", models.ErrPaymentAlreadyPaid, p.InvoiceNumber)
	}
	p.GatewayID = &gw.ID
	p.UpdatedAt = now
	return nil
}

func (s *PaymentService) callbackURL() string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/payments/verify"
}

// InitiateRequest registers the payment with its gateway, stores the
// returned authority and yields the redirect URL.
func (s *PaymentService) InitiateRequest(ctx context.Context, p *models.Payment) (string, error) {
	if p.IsPaid {
		return "", fmt.Errorf("%w: %s", models.ErrPaymentAlreadyPaid, p.InvoiceNumber)
	}
	if p.GatewayID == nil {
		return "", fmt.Errorf("%w: no gateway assigned to %s", models.ErrGatewayNotFound, p.InvoiceNumber)
	}

	gw, err := s.GatewayByID(ctx, *p.GatewayID)
	if err != nil {
		return "", err
	}
	adapter, err := s.registry.Lookup(gw.Code)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := adapter.Request(callCtx, gw, p, s.callbackURL(), s)
	metrics.GatewayLatency.WithLabelValues(string(gw.Code), "request").Observe(time.Since(start).Seconds())
	if err != nil {
		s.audit.LogError(p.InvoiceNumber, p.OwnerID, err)
		return "", err
	}

	now := s.now()
	upd, err := s.db.ExecContext(ctx,
		`UPDATE payments SET authority = $2, updated_at = $3 WHERE id = $1 AND is_paid = false`,
		p.ID, res.Authority, now)
	if err != nil {
		return "", fmt.Errorf("store authority: %w", err)
	}
	if changed, err := rowsAffected(upd); err != nil {
		return "", err
	} else if !changed {
		return "", fmt.Errorf("%w: %s", models.ErrPaymentAlreadyPaid, p.InvoiceNumber)
	}
	p.Authority = res.Authority
	p.UpdatedAt = now

	s.audit.LogPayment(p.InvoiceNumber, p.OwnerID, p.Amount, "REQUESTED")
	return res.RedirectURL, nil
}

// Verify is the single re-entry point for callbacks, polls and the recheck
// job. A payment already paid returns true without contacting the gateway.
// Of several concurrent verifications only the one that flips is_paid runs
// the paid side effects.
func (s *PaymentService) Verify(ctx context.Context, p *models.Payment, data models.CallbackData) (bool, error) {
	if p.IsPaid {
		metrics.Verifications.WithLabelValues("none", metrics.OutcomeAlreadyPaid).Inc()
		return true, nil
	}
	// Without an authority the gateway request never went through.
	if p.GatewayID == nil || p.Authority == "" {
		return false, nil
	}

	gw, err := s.GatewayByID(ctx, *p.GatewayID)
	if err != nil {
		return false, err
	}
	adapter, err := s.registry.Lookup(gw.Code)
	if err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	ok, err := adapter.Verify(callCtx, gw, p, data, s)
	metrics.GatewayLatency.WithLabelValues(string(gw.Code), "verify").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Verifications.WithLabelValues(string(gw.Code), metrics.OutcomeError).Inc()
		s.audit.LogError(p.InvoiceNumber, p.OwnerID, err)
		return false, err
	}
	if !ok {
		metrics.Verifications.WithLabelValues(string(gw.Code), metrics.OutcomeUnpaid).Inc()
		return false, nil
	}

	changed, evs, err := s.markPaymentPaid(ctx, p)
	if err != nil {
		s.audit.LogError(p.InvoiceNumber, p.OwnerID, err)
		return false, err
	}
	if !changed {
		metrics.Verifications.WithLabelValues(string(gw.Code), metrics.OutcomeAlreadyPaid).Inc()
		return true, nil
	}

	metrics.Verifications.WithLabelValues(string(gw.Code), metrics.OutcomePaid).Inc()
	s.audit.LogPayment(p.InvoiceNumber, p.OwnerID, p.Amount, "PAID")
	s.logger.Info("payment paid", zap.String("invoice", p.InvoiceNumber), zap.Int64("payment_id", p.ID))

	if err := s.dispatcher.Dispatch(ctx, evs...); err != nil {
		s.logger.Warn("dispatch payment events", zap.String("invoice", p.InvoiceNumber), zap.Error(err))
	}
	return true, nil
}

// markPaymentPaid flips the payment and, for entries that are not plain
// wallet charges, the settlement behind it in one transaction.
func (s *PaymentService) markPaymentPaid(ctx context.Context, p *models.Payment) (bool, []events.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	entry, err := s.ledger.Entry(ctx, tx, p.LedgerEntryID)
	if err != nil {
		return false, nil, err
	}

	// p only changes once the transaction has committed.
	pending := *p
	now := s.now()
	changed, _, err := s.settlements.MarkPaid(ctx, tx, entry, &models.WalletChargeSettlement{Payment: &pending}, now)
	if err != nil || !changed {
		return false, nil, err
	}

	evs := []events.Event{events.PaymentPaid{
		PaymentID:     p.ID,
		InvoiceNumber: p.InvoiceNumber,
		OwnerID:       p.OwnerID,
		EntryID:       entry.ID,
		EntryKind:     entry.Kind,
		Amount:        p.Amount,
	}}

	if entry.Kind != models.KindWalletCharge {
		settlement, err := s.ledger.Related(ctx, tx, entry)
		if err != nil {
			return false, nil, err
		}
		_, settled, err := s.settlements.MarkPaid(ctx, tx, entry, settlement, now)
		if err != nil {
			return false, nil, err
		}
		evs = append(evs, settled...)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, err
	}
	p.IsPaid, p.UpdatedAt = pending.IsPaid, pending.UpdatedAt
	return true, evs, nil
}

// HandleCallback resolves the payment named by a provider callback and
// verifies it.
func (s *PaymentService) HandleCallback(ctx context.Context, data models.CallbackData) (*models.Payment, bool, error) {
	p, err := s.FindForCallback(ctx, data)
	if err != nil {
		return nil, false, err
	}
	paid, err := s.Verify(ctx, p, data)
	return p, paid, err
}

// Clone creates a fresh unpaid wallet charge for the amount of p. A paid
// invoice is never reissued.
func (s *PaymentService) Clone(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.ledger.CreateEntry(ctx, tx, p.OwnerID, p.Amount, models.KindWalletCharge)
	if err != nil {
		return nil, err
	}
	clone, err := s.CreatePayment(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogOperation(clone.InvoiceNumber, p.OwnerID, "CLONE", fmt.Sprintf("cloned from %s", p.InvoiceNumber))
	return clone, nil
}

// InstantPay starts a gateway payment for an invoice and returns the
// redirect URL together with the payment actually used.
func (s *PaymentService) InstantPay(ctx context.Context, invoice string, code models.GatewayCode) (string, *models.Payment, error) {
	if s.cfg.Blackout.Contains(s.now()) {
		return "", nil, models.ErrBlackoutWindow
	}
	if _, err := s.registry.Lookup(code); err != nil {
		return "", nil, err
	}

	p, err := s.ByInvoice(ctx, invoice)
	if err != nil {
		return "", nil, err
	}
	if p.IsPaid {
		if p, err = s.Clone(ctx, p); err != nil {
			return "", nil, err
		}
	}

	gw, err := s.GatewayByCode(ctx, code)
	if err != nil {
		return "", nil, err
	}
	if err := s.AssignGateway(ctx, p, gw); err != nil {
		return "", nil, err
	}
	redirect, err := s.InitiateRequest(ctx, p)
	if err != nil {
		return "", p, err
	}
	return redirect, p, nil
}

// RecheckUnpaid re-verifies requested but unpaid payments created between
// lookback and min-age ago. One failing payment does not stop the batch.
func (s *PaymentService) RecheckUnpaid(ctx context.Context) (checked, paid int, err error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE NOT is_paid AND gateway_id IS NOT NULL AND authority <> ''
		  AND created_at BETWEEN $1 AND $2
		ORDER BY created_at`,
		now.Add(-s.cfg.RecheckLookback), now.Add(-s.cfg.RecheckMinAge))
	if err != nil {
		return 0, 0, fmt.Errorf("load unpaid payments: %w", err)
	}

	var pending []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return 0, 0, err
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, p := range pending {
		checked++
		ok, err := s.Verify(ctx, p, nil)
		if err != nil {
			s.logger.Warn("recheck failed", zap.String("invoice", p.InvoiceNumber), zap.Error(err))
			continue
		}
		if ok {
			paid++
		}
	}
	s.logger.Info("recheck finished", zap.Int("checked", checked), zap.Int("paid", paid))
	return checked, paid, nil
}
