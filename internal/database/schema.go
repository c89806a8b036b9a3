package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the billing DDL. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGINT PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		kind SMALLINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_owner_kind ON ledger_entries (owner_id, kind)`,

	`CREATE TABLE IF NOT EXISTS gateways (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		request_url TEXT NOT NULL DEFAULT '',
		verify_url TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL,
		is_enabled BOOLEAN NOT NULL DEFAULT true,
		credentials BYTEA
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id BIGINT PRIMARY KEY,
		invoice_number UUID NOT NULL UNIQUE,
		owner_id BIGINT NOT NULL,
		ledger_entry_id BIGINT NOT NULL UNIQUE REFERENCES ledger_entries (id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		gateway_id BIGINT REFERENCES gateways (id),
		is_paid BOOLEAN NOT NULL DEFAULT false,
		authority TEXT NOT NULL DEFAULT '',
		log TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS payments_authority ON payments (authority) WHERE authority <> ''`,
	`CREATE INDEX IF NOT EXISTS payments_unpaid ON payments (created_at) WHERE NOT is_paid`,

	`CREATE TABLE IF NOT EXISTS tiers (
		id BIGSERIAL PRIMARY KEY,
		business_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		business_id BIGINT NOT NULL,
		tier_id BIGINT NOT NULL REFERENCES tiers (id),
		purpose_id BIGINT,
		due_day_of_month SMALLINT NOT NULL CHECK (due_day_of_month BETWEEN 1 AND 31),
		is_enabled BOOLEAN NOT NULL DEFAULT true,
		sub_type SMALLINT NOT NULL DEFAULT 0,
		auto_pay BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS relations (
		follower_id BIGINT NOT NULL,
		business_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (follower_id, business_id)
	)`,
	`CREATE TABLE IF NOT EXISTS mandates (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		subscription_id BIGINT NOT NULL UNIQUE REFERENCES subscriptions (id),
		provider_ref TEXT NOT NULL,
		client_data BYTEA,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS targets (
		id BIGSERIAL PRIMARY KEY,
		business_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		goal BIGINT NOT NULL CHECK (goal > 0),
		is_enabled BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS sms_packages (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		sms_count INT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0)
	)`,

	`CREATE TABLE IF NOT EXISTS subscription_dues (
		id BIGINT PRIMARY KEY,
		ledger_entry_id BIGINT NOT NULL UNIQUE REFERENCES ledger_entries (id),
		subscription_id BIGINT NOT NULL REFERENCES subscriptions (id),
		purpose_id BIGINT,
		billing_day DATE NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT false,
		status SMALLINT NOT NULL DEFAULT 0,
		paid_date TIMESTAMPTZ,
		charge_payment_id BIGINT REFERENCES payments (id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (subscription_id, billing_day)
	)`,
	`CREATE INDEX IF NOT EXISTS subscription_dues_owed ON subscription_dues (subscription_id, created_at) WHERE status = 5`,
	`CREATE TABLE IF NOT EXISTS mandate_dues (
		id BIGINT PRIMARY KEY,
		ledger_entry_id BIGINT NOT NULL UNIQUE REFERENCES ledger_entries (id),
		subscription_id BIGINT NOT NULL REFERENCES subscriptions (id),
		mandate_id BIGINT NOT NULL REFERENCES mandates (id),
		provider_ref TEXT NOT NULL DEFAULT '',
		billing_day DATE NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT false,
		status SMALLINT NOT NULL DEFAULT 0,
		paid_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS mandate_dues_day ON mandate_dues (subscription_id, billing_day)`,
	`CREATE TABLE IF NOT EXISTS target_settlements (
		id BIGINT PRIMARY KEY,
		ledger_entry_id BIGINT NOT NULL UNIQUE REFERENCES ledger_entries (id),
		target_id BIGINT NOT NULL REFERENCES targets (id),
		is_paid BOOLEAN NOT NULL DEFAULT false,
		paid_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sms_package_settlements (
		id BIGINT PRIMARY KEY,
		ledger_entry_id BIGINT NOT NULL UNIQUE REFERENCES ledger_entries (id),
		sms_package_id BIGINT NOT NULL REFERENCES sms_packages (id),
		is_paid BOOLEAN NOT NULL DEFAULT false,
		paid_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS follower_wallet_charges (
		id BIGINT PRIMARY KEY,
		ledger_entry_id BIGINT NOT NULL UNIQUE REFERENCES ledger_entries (id),
		operator_id BIGINT NOT NULL,
		follower_id BIGINT NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT false,
		paid_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate applies Schema in a single transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range Schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return tx.Commit()
}
