package database

import (
	"context"
	"database/sql"
	"fmt"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id             CHAR(36)     NOT NULL PRIMARY KEY,
	email          VARCHAR(255) NOT NULL,
	username       VARCHAR(64)  NULL,
	password_hash  VARCHAR(255) NULL,
	email_verified TINYINT(1)   NOT NULL DEFAULT 0,
	totp_key       VARBINARY(128) NULL,
	recovery_code  VARBINARY(128) NULL,
	is_mfa_enabled TINYINT(1)   NOT NULL DEFAULT 0,
	google_id      VARCHAR(255) NULL,
	name           VARCHAR(255) NULL,
	picture        VARCHAR(1024) NULL,
	role           VARCHAR(16)  NOT NULL DEFAULT 'CLIENT',
	created_at     DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	UNIQUE KEY uq_users_email (email),
	UNIQUE KEY uq_users_google (google_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
	id                  CHAR(24)    NOT NULL PRIMARY KEY,
	user_id             CHAR(36)    NOT NULL,
	expires_at          DATETIME    NOT NULL,
	two_factor_verified TINYINT(1)  NOT NULL DEFAULT 0,
	oauth_provider      VARCHAR(32) NULL,
	created_at          DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP,
	KEY idx_sessions_user (user_id),
	KEY idx_sessions_expires (expires_at),
	CONSTRAINT fk_sessions_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createEmailVerificationTable = `
CREATE TABLE IF NOT EXISTS email_verification_requests (
	id         CHAR(36)     NOT NULL PRIMARY KEY,
	user_id    CHAR(36)     NOT NULL,
	email      VARCHAR(255) NOT NULL,
	code       VARCHAR(16)  NOT NULL,
	expires_at DATETIME     NOT NULL,
	KEY idx_evr_user (user_id),
	CONSTRAINT fk_evr_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createPasswordResetTable = `
CREATE TABLE IF NOT EXISTS password_reset_sessions (
	id                  CHAR(24)     NOT NULL PRIMARY KEY,
	user_id             CHAR(36)     NOT NULL,
	email               VARCHAR(255) NOT NULL,
	code                VARCHAR(16)  NOT NULL,
	expires_at          DATETIME     NOT NULL,
	email_verified      TINYINT(1)   NOT NULL DEFAULT 0,
	two_factor_verified TINYINT(1)   NOT NULL DEFAULT 0,
	KEY idx_prs_user (user_id),
	CONSTRAINT fk_prs_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createOrdersTable = `
CREATE TABLE IF NOT EXISTS orders (
	id                  CHAR(36)    NOT NULL PRIMARY KEY,
	user_id             CHAR(36)    NOT NULL,
	status              VARCHAR(16) NOT NULL DEFAULT 'PENDING',
	subtotal_cents      BIGINT      NOT NULL DEFAULT 0,
	tax_cents           BIGINT      NOT NULL DEFAULT 0,
	shipping_cost_cents BIGINT      NOT NULL DEFAULT 0,
	shipping_tax_cents  BIGINT      NOT NULL DEFAULT 0,
	total_cents         BIGINT      NOT NULL DEFAULT 0,
	shipping_option     VARCHAR(64) NULL,
	address_id          VARCHAR(64) NULL,
	pending_user_id     CHAR(36) GENERATED ALWAYS AS (IF(status = 'PENDING', user_id, NULL)) STORED,
	created_at          DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP,
	KEY idx_orders_user (user_id),
	UNIQUE KEY uq_orders_pending (pending_user_id),
	CONSTRAINT fk_orders_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createOrderItemsTable = `
CREATE TABLE IF NOT EXISTS order_items (
	id               CHAR(36)     NOT NULL PRIMARY KEY,
	order_id         CHAR(36)     NOT NULL,
	product_id       VARCHAR(64)  NOT NULL,
	product_name     VARCHAR(255) NOT NULL DEFAULT '',
	quantity         INT          NOT NULL,
	unit_price_cents BIGINT       NOT NULL,
	position         INT          NOT NULL DEFAULT 0,
	KEY idx_items_order (order_id),
	CONSTRAINT fk_items_order FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createOrderItemCustomsTable = `
CREATE TABLE IF NOT EXISTS order_item_customs (
	id            CHAR(36)      NOT NULL PRIMARY KEY,
	order_item_id CHAR(36)      NOT NULL,
	image         VARCHAR(1024) NOT NULL,
	user_message  TEXT          NULL,
	KEY idx_customs_item (order_item_id),
	CONSTRAINT fk_customs_item FOREIGN KEY (order_item_id) REFERENCES order_items (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const createContactsTable = `
CREATE TABLE IF NOT EXISTS contacts (
	id         CHAR(36)     NOT NULL PRIMARY KEY,
	name       VARCHAR(255) NOT NULL,
	email      VARCHAR(255) NOT NULL,
	subject    VARCHAR(255) NOT NULL,
	message    TEXT         NOT NULL,
	created_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// Migrations lists the schema statements in dependency order.
var Migrations = []string{
	createUsersTable,
	createSessionsTable,
	createEmailVerificationTable,
	createPasswordResetTable,
	createOrdersTable,
	createOrderItemsTable,
	createOrderItemCustomsTable,
	createContactsTable,
}

// Migrate applies every statement.  They are idempotent, so running it on
// an up to date schema is a no-op.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
