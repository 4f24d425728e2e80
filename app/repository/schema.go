package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id CHAR(36) NOT NULL PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		idempotency_key VARCHAR(255) NOT NULL,
		source_amount DECIMAL(20,8) NOT NULL,
		source_currency CHAR(3) NOT NULL,
		destination_amount DECIMAL(20,8) NOT NULL,
		destination_currency CHAR(3) NOT NULL,
		exchange_rate DECIMAL(24,10) NOT NULL,
		fee_amount DECIMAL(20,8) NOT NULL,
		fee_currency CHAR(3) NOT NULL,
		total_amount DECIMAL(20,8) NOT NULL,
		status VARCHAR(32) NOT NULL,
		payment_method VARCHAR(64) NOT NULL,
		recipient_json TEXT NOT NULL,
		onramp_transaction_id CHAR(36) NULL,
		offramp_transaction_id CHAR(36) NULL,
		webhook_url VARCHAR(2048) NULL,
		failure_code VARCHAR(64) NULL,
		error_message TEXT NULL,
		estimated_completion DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		UNIQUE KEY uq_payments_idempotency_key (idempotency_key),
		KEY idx_payments_user_created (user_id, created_at),
		KEY idx_payments_status_created (status, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS settlement_transactions (
		id CHAR(36) NOT NULL PRIMARY KEY,
		payment_id CHAR(36) NULL,
		direction VARCHAR(16) NOT NULL,
		amount DECIMAL(20,8) NOT NULL,
		currency CHAR(3) NOT NULL,
		status VARCHAR(16) NOT NULL,
		provider_id VARCHAR(64) NOT NULL,
		external_reference VARCHAR(128) NOT NULL,
		provider_fee DECIMAL(20,8) NOT NULL,
		metadata_json TEXT NOT NULL,
		failure_reason TEXT NULL,
		resolve_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		KEY idx_settlement_transactions_payment (payment_id),
		KEY idx_settlement_transactions_status (status, created_at),
		CONSTRAINT fk_settlement_transactions_payment FOREIGN KEY (payment_id) REFERENCES payments (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id CHAR(36) NOT NULL PRIMARY KEY,
		payment_id CHAR(36) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		url VARCHAR(2048) NOT NULL,
		status VARCHAR(16) NOT NULL,
		payload MEDIUMTEXT NOT NULL,
		response_status INT NULL,
		response_body TEXT NULL,
		last_error TEXT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		next_attempt_at DATETIME(6) NULL,
		sent_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_webhook_deliveries_payment (payment_id, created_at),
		KEY idx_webhook_deliveries_due (status, next_attempt_at),
		CONSTRAINT fk_webhook_deliveries_payment FOREIGN KEY (payment_id) REFERENCES payments (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS exchange_rate_cache (
		from_currency CHAR(3) NOT NULL,
		to_currency CHAR(3) NOT NULL,
		provider VARCHAR(64) NOT NULL,
		rate DECIMAL(24,10) NOT NULL,
		fetched_at DATETIME(6) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		PRIMARY KEY (from_currency, to_currency, provider)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		payment_id CHAR(36) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		old_status VARCHAR(32) NULL,
		new_status VARCHAR(32) NOT NULL,
		payload_json TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_payment_events_payment (payment_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS provider_callbacks (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		transaction_id CHAR(36) NULL,
		provider VARCHAR(64) NOT NULL,
		signature VARCHAR(255) NOT NULL,
		payload_json TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		error TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_provider_callbacks_transaction (transaction_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		source_amount TEXT NOT NULL,
		source_currency TEXT NOT NULL,
		destination_amount TEXT NOT NULL,
		destination_currency TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		fee_amount TEXT NOT NULL,
		fee_currency TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		recipient_json TEXT NOT NULL,
		onramp_transaction_id TEXT NULL,
		offramp_transaction_id TEXT NULL,
		webhook_url TEXT NULL,
		failure_code TEXT NULL,
		error_message TEXT NULL,
		estimated_completion TEXT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_idempotency_key ON payments (idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS settlement_transactions (
		id TEXT NOT NULL PRIMARY KEY,
		payment_id TEXT NULL REFERENCES payments (id),
		direction TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		external_reference TEXT NOT NULL,
		provider_fee TEXT NOT NULL,
		metadata_json TEXT NOT NULL,
		failure_reason TEXT NULL,
		resolve_at TEXT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlement_transactions_payment ON settlement_transactions (payment_id)`,
	`CREATE INDEX IF NOT EXISTS idx_settlement_transactions_status ON settlement_transactions (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id TEXT NOT NULL PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments (id),
		event_type TEXT NOT NULL,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		response_status INTEGER NULL,
		response_body TEXT NULL,
		last_error TEXT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NULL,
		sent_at TEXT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_payment ON webhook_deliveries (payment_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries (status, next_attempt_at)`,
	`CREATE TABLE IF NOT EXISTS exchange_rate_cache (
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		provider TEXT NOT NULL,
		rate TEXT NOT NULL,
		fetched_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		PRIMARY KEY (from_currency, to_currency, provider)
	)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		old_status TEXT NULL,
		new_status TEXT NOT NULL,
		payload_json TEXT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_payment ON payment_events (payment_id)`,
	`CREATE TABLE IF NOT EXISTS provider_callbacks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NULL,
		provider TEXT NOT NULL,
		signature TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NULL,
		created_at TEXT NOT NULL
	)`,
}

func Schema(driver string) ([]string, error) {
	switch driver {
	case "mysql":
		return mysqlSchema, nil
	case "sqlite":
		return sqliteSchema, nil
	default:
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
}

// Migrate applies the CREATE ... IF NOT EXISTS statements for driver.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	statements, err := Schema(driver)
	if err != nil {
		return err
	}
	if driver == "sqlite" {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
