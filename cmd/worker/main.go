package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/subscriptly/billing/internal/app"
	"github.com/subscriptly/billing/internal/queue"
	"go.uber.org/zap"
)

func main() {
	renewDueDays := flag.Bool("renew-due-days", false, "recompute every subscription due day and exit")
	flag.Parse()

	logger, err := app.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	billing, err := app.New(ctx, logger)
	if err != nil {
		logger.Fatal("failed to start billing engine", zap.Error(err))
	}
	defer billing.Close()

	if *renewDueDays {
		changed, err := billing.Subscriptions.ResetDueDays(ctx)
		if err != nil {
			logger.Fatal("renew due days failed", zap.Error(err))
		}
		logger.Info("due days renewed", zap.Int("changed", changed))
		return
	}

	cfg := billing.Config
	c := cron.New(cron.WithLocation(cfg.Location))
	schedule := map[string]string{
		queue.JobBankBilling:        cfg.BankBillingSpec,
		queue.JobDirectDebitBilling: cfg.DirectDebitSpec,
		queue.JobRecheckPayments:    cfg.RecheckSpec,
		queue.JobIncomeReport:       cfg.IncomeReportSpec,
		queue.JobLateReminder:       cfg.LateReminderSpec,
		queue.JobGracePeriod:        cfg.GracePeriodSpec,
	}
	for name, spec := range schedule {
		if _, err := c.AddFunc(spec, func() {
			if err := billing.Jobs.Trigger(ctx, name); err != nil {
				logger.Error("job trigger failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			logger.Fatal("invalid cron spec", zap.String("job", name), zap.String("spec", spec), zap.Error(err))
		}
	}
	c.Start()
	logger.Info("scheduler started", zap.Int("jobs", len(schedule)))

	err = billing.Consumer.Consume(ctx, billing.Jobs.Handle)
	<-c.Stop().Done()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("queue consumer stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}
