package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/subscriptly/billing/internal/calendar"
	"github.com/subscriptly/billing/internal/config"
	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/models"
	"go.uber.org/zap"
)

// ReportService builds the periodic notifications sent to businesses and
// subscribers.
type ReportService struct {
	db         *sql.DB
	dispatcher Dispatcher
	cfg        *config.BillingConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewReportService(db *sql.DB, dispatcher Dispatcher, cfg *config.BillingConfig, logger *zap.Logger) *ReportService {
	return &ReportService{
		db:         db,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.Named("reports"),
		now:        time.Now,
	}
}

// IncomeReport sums paid bank and mandate dues per business for the last
// 24 hours and for the current local month, and notifies each business.
func (s *ReportService) IncomeReport(ctx context.Context) ([]models.IncomeSummary, error) {
	now := s.now().In(s.cfg.Location)
	dayStart := now.Add(-24 * time.Hour)
	monthStart := calendar.StartOfMonth(now)

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.business_id,
		       COALESCE(SUM(le.amount) FILTER (WHERE d.paid_date >= $1), 0),
		       COUNT(*) FILTER (WHERE d.paid_date >= $1),
		       COALESCE(SUM(le.amount) FILTER (WHERE d.paid_date >= $2), 0),
		       COUNT(*) FILTER (WHERE d.paid_date >= $2)
		FROM (
			SELECT subscription_id, ledger_entry_id, paid_date FROM subscription_dues
			WHERE is_paid AND paid_date >= LEAST($1::timestamptz, $2::timestamptz)
			UNION ALL
			SELECT subscription_id, ledger_entry_id, paid_date FROM mandate_dues
			WHERE is_paid AND paid_date >= LEAST($1::timestamptz, $2::timestamptz)
		) d
		JOIN subscriptions s ON s.id = d.subscription_id
		JOIN ledger_entries le ON le.id = d.ledger_entry_id
		GROUP BY s.business_id
		ORDER BY s.business_id`, dayStart, monthStart)
	if err != nil {
		return nil, fmt.Errorf("income report: %w", err)
	}
	defer rows.Close()

	var (
		summaries []models.IncomeSummary
		evs       []events.Event
	)
	for rows.Next() {
		var sum models.IncomeSummary
		if err := rows.Scan(&sum.BusinessID, &sum.DailyTotal, &sum.DailyCount, &sum.MonthlyTotal, &sum.MonthlyCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
		evs = append(evs, events.Notification{
			Template: events.TemplateIncomeReport,
			UserID:   sum.BusinessID,
			Data: map[string]any{
				"business_id":   sum.BusinessID,
				"daily_total":   sum.DailyTotal,
				"daily_count":   sum.DailyCount,
				"monthly_total": sum.MonthlyTotal,
				"monthly_count": sum.MonthlyCount,
				"month":         calendar.FromTime(now).String(),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, evs...); err != nil {
		s.logger.Warn("dispatch income reports", zap.Error(err))
	}
	s.logger.Info("income report sent", zap.Int("businesses", len(summaries)))
	return summaries, nil
}

// LateReminders notifies users whose dues have been owed for two to three
// days, pointing them at the top-up raised when the dues were billed.
func (s *ReportService) LateReminders(ctx context.Context) (int, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT sd.id, sd.subscription_id, le.owner_id, le.amount, p.invoice_number
		FROM subscription_dues sd
		JOIN ledger_entries le ON le.id = sd.ledger_entry_id
		JOIN subscriptions s ON s.id = sd.subscription_id
		LEFT JOIN payments p ON p.id = sd.charge_payment_id AND NOT p.is_paid
		WHERE sd.status = $1 AND NOT sd.is_paid AND s.is_enabled
		  AND sd.due_date BETWEEN $2 AND $3
		ORDER BY sd.due_date, sd.id`,
		models.DuesOwed, now.Add(-s.cfg.LateReminderTo), now.Add(-s.cfg.LateReminderFrom))
	if err != nil {
		return 0, fmt.Errorf("load late dues: %w", err)
	}
	defer rows.Close()

	var evs []events.Event
	for rows.Next() {
		var (
			duesID, subscriptionID, ownerID, amount int64
			invoice                                 sql.NullString
		)
		if err := rows.Scan(&duesID, &subscriptionID, &ownerID, &amount, &invoice); err != nil {
			return 0, err
		}
		data := map[string]any{
			"dues_id":         duesID,
			"subscription_id": subscriptionID,
			"amount":          amount,
		}
		if invoice.Valid {
			data["invoice_number"] = invoice.String
			data["link"] = instantLink(s.cfg, invoice.String)
		}
		evs = append(evs, events.Notification{Template: events.TemplateLateNotify, UserID: ownerID, Data: data})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if err := s.dispatcher.Dispatch(ctx, evs...); err != nil {
		s.logger.Warn("dispatch late reminders", zap.Error(err))
	}
	return len(evs), nil
}
