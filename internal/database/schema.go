package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables used by the seat store and booking ledger.
// Every statement is idempotent.
//
// booking_seats is keyed per booking only.  A seat is booked at most once
// through the show_seats status, and a seat reset by an operator keeps its
// old junction row while it is sold again.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS show_seats (
		show_id         BIGINT UNSIGNED NOT NULL,
		seat_label      VARCHAR(16)     NOT NULL,
		row_no          INT UNSIGNED    NOT NULL,
		col_no          INT UNSIGNED    NOT NULL,
		status          ENUM('available','locked','booked') NOT NULL DEFAULT 'available',
		holder_id       BIGINT UNSIGNED NULL,
		locked_at       DATETIME(3)     NULL,
		lock_expires_at DATETIME(3)     NULL,
		price_cents     INT UNSIGNED    NOT NULL DEFAULT 0,
		version         BIGINT UNSIGNED NOT NULL DEFAULT 0,
		PRIMARY KEY (show_id, seat_label),
		KEY idx_show_seats_expiry (status, lock_expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id               BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id          BIGINT UNSIGNED NOT NULL,
		show_id          BIGINT UNSIGNED NOT NULL,
		amount_cents     INT UNSIGNED    NOT NULL,
		payment_order_id VARCHAR(128)    NOT NULL,
		payment_id       VARCHAR(128)    NOT NULL,
		created_at       DATETIME(3)     NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_bookings_payment (payment_order_id, payment_id),
		KEY idx_bookings_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS booking_seats (
		booking_id  BIGINT UNSIGNED NOT NULL,
		show_id     BIGINT UNSIGNED NOT NULL,
		seat_label  VARCHAR(16)     NOT NULL,
		price_cents INT UNSIGNED    NOT NULL,
		PRIMARY KEY (booking_id, seat_label),
		KEY idx_booking_seats_seat (show_id, seat_label),
		CONSTRAINT fk_booking_seats_booking FOREIGN KEY (booking_id) REFERENCES bookings (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema applies the schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
