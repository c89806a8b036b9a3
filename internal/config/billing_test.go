package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBillingConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()

		cfg, err := LoadBillingConfig()
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tehran", cfg.Location.String())
		assert.Equal(t, 23, cfg.Blackout.Start.Hour)
		assert.Equal(t, 45, cfg.Blackout.Start.Minute)
		assert.Equal(t, 30, cfg.Blackout.End.Minute)
		assert.Equal(t, int64(10), cfg.MandateScalingFactor)
		assert.Equal(t, []int{1, 3, 5}, cfg.MandateFailureThresholds)
		assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, "redis", cfg.QueueBackend)
		assert.Equal(t, "8080", cfg.Port)
	})

	t.Run("environment overrides", func(t *testing.T) {
		viper.Reset()
		t.Setenv("BILLING_BLACKOUT_START", "22:00")
		t.Setenv("BILLING_QUEUE_BACKEND", "sqs")
		t.Setenv("JWT_SECRET_KEY", "s3cret")
		BindEnv()

		cfg, err := LoadBillingConfig()
		require.NoError(t, err)
		assert.Equal(t, 22, cfg.Blackout.Start.Hour)
		assert.Equal(t, "sqs", cfg.QueueBackend)
		assert.Equal(t, "s3cret", cfg.JWTSecret)
	})

	t.Run("reminder window and cron specs from the environment", func(t *testing.T) {
		viper.Reset()
		t.Setenv("BILLING_LATE_REMINDER_FROM", "24h")
		t.Setenv("BILLING_LATE_REMINDER_TO", "48h")
		t.Setenv("BILLING_CRON_BANK_BILLING", "15 7 * * *")
		t.Setenv("BILLING_CRON_GRACE_PERIOD", "0 4 * * *")
		BindEnv()

		cfg, err := LoadBillingConfig()
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, cfg.LateReminderFrom)
		assert.Equal(t, 48*time.Hour, cfg.LateReminderTo)
		assert.Equal(t, "15 7 * * *", cfg.BankBillingSpec)
		assert.Equal(t, "0 4 * * *", cfg.GracePeriodSpec)
		assert.Equal(t, "0 9 * * *", cfg.DirectDebitSpec)
	})

	t.Run("invalid timezone", func(t *testing.T) {
		viper.Reset()
		viper.Set("billing.timezone", "Nowhere/Town")

		_, err := LoadBillingConfig()
		assert.Error(t, err)
	})
}
