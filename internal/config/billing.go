package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"github.com/subscriptly/billing/internal/calendar"
)

// BillingConfig holds the tunables of the billing engine.
type BillingConfig struct {
	Location *time.Location
	Blackout calendar.Window

	PublicBaseURL  string
	DefaultGateway string
	GatewayTimeout time.Duration

	RecheckLookback time.Duration
	RecheckMinAge   time.Duration

	MandateURL               string
	MandateScalingFactor     int64
	MandateFailureThresholds []int

	GracePeriod      time.Duration
	InactiveAfter    time.Duration
	LateReminderFrom time.Duration
	LateReminderTo   time.Duration

	QueueBackend string
	QueueName    string
	SQSQueueURL  string

	BankBillingSpec  string
	DirectDebitSpec  string
	RecheckSpec      string
	IncomeReportSpec string
	LateReminderSpec string
	GracePeriodSpec  string

	VaultMasterKey string
	VaultSalt      string

	NodeID int64

	JWTSecret string
	Port      string
}

// BindEnv maps the billing keys to their environment variables.
func BindEnv() {
	viper.BindEnv("billing.timezone", "BILLING_TIMEZONE")
	viper.BindEnv("billing.blackout_start", "BILLING_BLACKOUT_START")
	viper.BindEnv("billing.blackout_end", "BILLING_BLACKOUT_END")
	viper.BindEnv("billing.public_base_url", "BILLING_PUBLIC_BASE_URL")
	viper.BindEnv("billing.default_gateway", "BILLING_DEFAULT_GATEWAY")
	viper.BindEnv("billing.gateway_timeout", "BILLING_GATEWAY_TIMEOUT")
	viper.BindEnv("billing.recheck_lookback", "BILLING_RECHECK_LOOKBACK")
	viper.BindEnv("billing.recheck_min_age", "BILLING_RECHECK_MIN_AGE")
	viper.BindEnv("billing.mandate_url", "BILLING_MANDATE_URL")
	viper.BindEnv("billing.mandate_scaling_factor", "BILLING_MANDATE_SCALING_FACTOR")
	viper.BindEnv("billing.mandate_failure_thresholds", "BILLING_MANDATE_FAILURE_THRESHOLDS")
	viper.BindEnv("billing.grace_period", "BILLING_GRACE_PERIOD")
	viper.BindEnv("billing.inactive_after", "BILLING_INACTIVE_AFTER")
	viper.BindEnv("billing.late_reminder_from", "BILLING_LATE_REMINDER_FROM")
	viper.BindEnv("billing.late_reminder_to", "BILLING_LATE_REMINDER_TO")
	viper.BindEnv("billing.queue_backend", "BILLING_QUEUE_BACKEND")
	viper.BindEnv("billing.queue_name", "BILLING_QUEUE_NAME")
	viper.BindEnv("billing.sqs_queue_url", "SQS_QUEUE_URL")
	viper.BindEnv("billing.cron.bank_billing", "BILLING_CRON_BANK_BILLING")
	viper.BindEnv("billing.cron.direct_debit", "BILLING_CRON_DIRECT_DEBIT")
	viper.BindEnv("billing.cron.recheck", "BILLING_CRON_RECHECK")
	viper.BindEnv("billing.cron.income_report", "BILLING_CRON_INCOME_REPORT")
	viper.BindEnv("billing.cron.late_reminder", "BILLING_CRON_LATE_REMINDER")
	viper.BindEnv("billing.cron.grace_period", "BILLING_CRON_GRACE_PERIOD")
	viper.BindEnv("vault.master_key", "VAULT_MASTER_KEY")
	viper.BindEnv("vault.salt", "VAULT_SALT")
	viper.BindEnv("snowflake.node", "SNOWFLAKE_NODE")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("server.port", "PORT")
}

// LoadBillingConfig returns billing configuration with defaults.
func LoadBillingConfig() (*BillingConfig, error) {
	viper.SetDefault("billing.timezone", "Asia/Tehran")
	viper.SetDefault("billing.blackout_start", "23:45")
	viper.SetDefault("billing.blackout_end", "00:30")
	viper.SetDefault("billing.public_base_url", "http://localhost:8080")
	viper.SetDefault("billing.default_gateway", "zarrinpal")
	viper.SetDefault("billing.gateway_timeout", 15*time.Second)
	viper.SetDefault("billing.recheck_lookback", 24*time.Hour)
	viper.SetDefault("billing.recheck_min_age", 15*time.Minute)
	viper.SetDefault("billing.mandate_url", "https://apibeta.finnotech.ir")
	viper.SetDefault("billing.mandate_scaling_factor", 10)
	viper.SetDefault("billing.mandate_failure_thresholds", []int{1, 3, 5})
	viper.SetDefault("billing.grace_period", 60*24*time.Hour)
	viper.SetDefault("billing.inactive_after", 4*24*time.Hour)
	viper.SetDefault("billing.late_reminder_from", 2*24*time.Hour)
	viper.SetDefault("billing.late_reminder_to", 3*24*time.Hour)
	viper.SetDefault("billing.queue_backend", "redis")
	viper.SetDefault("billing.queue_name", "billing:jobs")
	viper.SetDefault("billing.cron.bank_billing", "0 8 * * *")
	viper.SetDefault("billing.cron.direct_debit", "0 9 * * *")
	viper.SetDefault("billing.cron.recheck", "30 1 * * *")
	viper.SetDefault("billing.cron.income_report", "0 22 * * *")
	viper.SetDefault("billing.cron.late_reminder", "0 10 * * *")
	viper.SetDefault("billing.cron.grace_period", "0 3 * * *")
	viper.SetDefault("snowflake.node", 1)
	viper.SetDefault("server.port", "8080")

	loc, err := time.LoadLocation(viper.GetString("billing.timezone"))
	if err != nil {
		return nil, fmt.Errorf("error loading timezone: %w", err)
	}

	start, err := calendar.ParseClock(viper.GetString("billing.blackout_start"))
	if err != nil {
		return nil, err
	}
	end, err := calendar.ParseClock(viper.GetString("billing.blackout_end"))
	if err != nil {
		return nil, err
	}

	return &BillingConfig{
		Location:                 loc,
		Blackout:                 calendar.Window{Start: start, End: end, Location: loc},
		PublicBaseURL:            viper.GetString("billing.public_base_url"),
		DefaultGateway:           viper.GetString("billing.default_gateway"),
		GatewayTimeout:           viper.GetDuration("billing.gateway_timeout"),
		RecheckLookback:          viper.GetDuration("billing.recheck_lookback"),
		RecheckMinAge:            viper.GetDuration("billing.recheck_min_age"),
		MandateURL:               viper.GetString("billing.mandate_url"),
		MandateScalingFactor:     viper.GetInt64("billing.mandate_scaling_factor"),
		MandateFailureThresholds: viper.GetIntSlice("billing.mandate_failure_thresholds"),
		GracePeriod:              viper.GetDuration("billing.grace_period"),
		InactiveAfter:            viper.GetDuration("billing.inactive_after"),
		LateReminderFrom:         viper.GetDuration("billing.late_reminder_from"),
		LateReminderTo:           viper.GetDuration("billing.late_reminder_to"),
		QueueBackend:             viper.GetString("billing.queue_backend"),
		QueueName:                viper.GetString("billing.queue_name"),
		SQSQueueURL:              viper.GetString("billing.sqs_queue_url"),
		BankBillingSpec:          viper.GetString("billing.cron.bank_billing"),
		DirectDebitSpec:          viper.GetString("billing.cron.direct_debit"),
		RecheckSpec:              viper.GetString("billing.cron.recheck"),
		IncomeReportSpec:         viper.GetString("billing.cron.income_report"),
		LateReminderSpec:         viper.GetString("billing.cron.late_reminder"),
		GracePeriodSpec:          viper.GetString("billing.cron.grace_period"),
		VaultMasterKey:           viper.GetString("vault.master_key"),
		VaultSalt:                viper.GetString("vault.salt"),
		NodeID:                   viper.GetInt64("snowflake.node"),
		JWTSecret:                viper.GetString("jwt.secret_key"),
		Port:                     viper.GetString("server.port"),
	}, nil
}
