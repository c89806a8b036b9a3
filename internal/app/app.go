package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/subscriptly/billing/internal/config"
	"github.com/subscriptly/billing/internal/database"
	"github.com/subscriptly/billing/internal/events"
	"github.com/subscriptly/billing/internal/gateway"
	"github.com/subscriptly/billing/internal/queue"
	"github.com/subscriptly/billing/internal/services"
	"github.com/subscriptly/billing/internal/vault"
	"go.uber.org/zap"
)

// App holds the wired billing engine shared by the server, worker and
// lambda binaries.
type App struct {
	Config *config.BillingConfig
	Logger *zap.Logger
	DB     *sql.DB
	Redis  *redis.Client
	Bus    *events.Bus

	Publisher queue.Publisher
	Consumer  queue.Consumer

	Payments      *services.PaymentService
	Sweeper       *services.DebtSweeper
	Billing       *services.BillingService
	Subscriptions *services.SubscriptionService
	Reports       *services.ReportService
	Jobs          *services.JobRunner
}

// NewLogger builds the process logger. APP_ENV=development switches to the
// human readable encoder.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// LoadConfig reads .env and the environment into viper and returns the
// billing configuration.
func LoadConfig(logger *zap.Logger) (*config.BillingConfig, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}
	viper.AutomaticEnv()
	database.BindEnv()
	config.BindEnv()
	return config.LoadBillingConfig()
}

// New connects to Postgres and Redis and builds every service.
func New(ctx context.Context, logger *zap.Logger) (*App, error) {
	cfg, err := LoadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db := database.MustOpen(ctx, logger)
	rdb := database.InitRedis(ctx, logger)

	a := &App{Config: cfg, Logger: logger, DB: db, Redis: rdb, Bus: events.NewBus(logger)}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	sealer, err := vault.New(vault.Config{MasterKey: cfg.VaultMasterKey, Salt: cfg.VaultSalt})
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}
	ids, err := services.NewSnowflakeIDs(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	switch cfg.QueueBackend {
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		q := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL, logger)
		a.Publisher, a.Consumer = q, q
	case "redis":
		q := queue.NewRedisQueue(a.Redis, cfg.QueueName, logger)
		a.Publisher, a.Consumer = q, q
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	client := &http.Client{Timeout: cfg.GatewayTimeout}
	registry := gateway.DefaultRegistry(client, sealer)
	mandates := gateway.NewDirectDebit(cfg.MandateURL, client, sealer)
	locker := queue.NewLocker(a.Redis)
	audit := vault.NewAuditLogger(logger)

	ledger := services.NewLedgerService(ids)
	settlements := services.NewSettlementService(ids)
	wallet := services.NewWalletService()

	a.Payments = services.NewPaymentService(a.DB, ids, ledger, settlements, wallet, registry, audit, a.Bus, cfg, logger)
	a.Sweeper = services.NewDebtSweeper(a.DB, wallet, settlements, a.Bus, audit, logger)
	a.Billing = services.NewBillingService(a.DB, ledger, settlements, wallet, a.Payments, mandates, locker, a.Publisher, a.Bus, audit, cfg, logger)
	a.Subscriptions = services.NewSubscriptionService(a.DB, a.Billing, ledger, settlements, a.Payments, sealer, cfg, logger)
	a.Reports = services.NewReportService(a.DB, a.Bus, cfg, logger)
	a.Jobs = services.NewJobRunner(a.Billing, a.Payments, a.Subscriptions, a.Reports, locker, a.Publisher, cfg, logger)

	a.Bus.Subscribe(events.NamePaymentPaid, a.Sweeper.HandlePaymentPaid)
	a.Bus.Subscribe(events.NameNotification, events.NewRedisNotifier(a.Redis).Handle)

	logger.Info("billing engine wired",
		zap.String("queue", cfg.QueueBackend),
		zap.String("timezone", cfg.Location.String()),
		zap.Any("gateways", registry.Supported()))
	return nil
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("close redis", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("close database", zap.Error(err))
	}
}
