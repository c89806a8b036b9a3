package services

import (
	"context"
	"fmt"
	"time"

	"github.com/subscriptly/billing/internal/config"
	"github.com/subscriptly/billing/internal/metrics"
	"github.com/subscriptly/billing/internal/queue"
	"go.uber.org/zap"
)

// jobLockTTL keeps a daily trigger from being enqueued twice by several
// worker processes.
const jobLockTTL = 20 * time.Hour

// JobRunner enqueues the named periodic jobs and executes them when they
// come off the queue.
type JobRunner struct {
	billing       *BillingService
	payments      *PaymentService
	subscriptions *SubscriptionService
	reports       *ReportService
	locker        Locker
	publisher     queue.Publisher
	cfg           *config.BillingConfig
	logger        *zap.Logger
	now           func() time.Time
}

func NewJobRunner(
	billing *BillingService,
	payments *PaymentService,
	subscriptions *SubscriptionService,
	reports *ReportService,
	locker Locker,
	publisher queue.Publisher,
	cfg *config.BillingConfig,
	logger *zap.Logger,
) *JobRunner {
	return &JobRunner{
		billing:       billing,
		payments:      payments,
		subscriptions: subscriptions,
		reports:       reports,
		locker:        locker,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger.Named("jobs"),
		now:           time.Now,
	}
}

// Trigger enqueues job name once per local day.
func (r *JobRunner) Trigger(ctx context.Context, name string) error {
	now := r.now().In(r.cfg.Location)
	day := now.Format(dayLayout)
	key := fmt.Sprintf("jobs:%s:%s", name, day)

	acquired, err := r.locker.Acquire(ctx, key, jobLockTTL)
	if err != nil {
		return fmt.Errorf("lock job %s: %w", name, err)
	}
	if !acquired {
		r.logger.Debug("job already triggered", zap.String("job", name), zap.String("day", day))
		return nil
	}

	if err := r.publisher.Publish(ctx, queue.Job{Name: name, Day: day, EnqueuedAt: now}); err != nil {
		if relErr := r.locker.Release(ctx, key); relErr != nil {
			r.logger.Warn("release job lock", zap.String("key", key), zap.Error(relErr))
		}
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	r.logger.Info("job triggered", zap.String("job", name), zap.String("day", day))
	return nil
}

// Handle executes one job.
func (r *JobRunner) Handle(ctx context.Context, job queue.Job) error {
	var err error
	switch job.Name {
	case queue.JobBankBilling:
		_, err = r.billing.RunBankCycle(ctx)
	case queue.JobDirectDebitBilling:
		_, err = r.billing.RunDirectDebitCycle(ctx)
	case queue.JobChargeSubscription:
		err = r.billing.ChargeSubscription(ctx, job.SubscriptionID, job.Day)
	case queue.JobChargeMandate:
		err = r.billing.ChargeMandate(ctx, job.SubscriptionID, job.Day)
	case queue.JobRecheckPayments:
		_, _, err = r.payments.RecheckUnpaid(ctx)
	case queue.JobIncomeReport:
		_, err = r.reports.IncomeReport(ctx)
	case queue.JobLateReminder:
		_, err = r.reports.LateReminders(ctx)
	case queue.JobGracePeriod:
		_, err = r.subscriptions.DisableLapsed(ctx)
	default:
		err = fmt.Errorf("unknown job %q", job.Name)
	}

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		r.logger.Error("job failed",
			zap.String("job", job.Name),
			zap.Int64("subscription_id", job.SubscriptionID),
			zap.String("day", job.Day),
			zap.Error(err))
	}
	metrics.JobRuns.WithLabelValues(job.Name, outcome).Inc()
	return err
}
