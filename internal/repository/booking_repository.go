package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// ErrBookingNotFound is returned when a booking lookup yields no rows.
var ErrBookingNotFound = errors.New("booking not found")

// BookingRepo is the booking ledger.  Bookings group together one or more
// seats for a particular show and user; the seats are stored in the
// booking_seats junction table.  Writes only happen inside the seat
// store's finalize transaction so that a booking never references a seat
// that is not booked.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// BookingSeatRecord mirrors the booking_seats table.  It maps a booking to
// a specific seat and the price paid for it.
type BookingSeatRecord struct {
	BookingID  uint64
	ShowID     uint64
	SeatLabel  string
	PriceCents uint32
}

// erDupEntry is the MySQL error number for a unique key violation.
const erDupEntry = 1062

// CreateTx inserts a new booking within the scope of an existing
// transaction and populates the generated ID.  The caller must commit or
// roll back the transaction.  A second booking for the same payment ids
// trips uq_bookings_payment and is reported as ErrPaymentReused.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (user_id, show_id, amount_cents, payment_order_id, payment_id, created_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, b.UserID, b.ShowID, b.AmountCents, b.PaymentOrderID, b.PaymentID, b.CreatedAt.UTC())
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == erDupEntry {
		return ErrPaymentReused
	}
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// CreateSeatsBulkTx inserts multiple booking_seats rows in a single
// statement.  Passing an empty slice has no effect and returns nil.
func (r *BookingRepo) CreateSeatsBulkTx(ctx context.Context, tx *sql.Tx, seats []BookingSeatRecord) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, show_id, seat_label, price_cents) VALUES `
	args := make([]interface{}, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, s.BookingID, s.ShowID, s.SeatLabel, s.PriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetByIDForUser returns a booking with its seat labels when it belongs to
// userID.  It returns ErrBookingNotFound otherwise.
func (r *BookingRepo) GetByIDForUser(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	const q = `SELECT id, user_id, show_id, amount_cents, payment_order_id, payment_id, created_at
	           FROM bookings
	           WHERE id = ? AND user_id = ?`
	var b model.Booking
	err := r.db.QueryRowContext(ctx, q, bookingID, userID).Scan(
		&b.ID, &b.UserID, &b.ShowID, &b.AmountCents, &b.PaymentOrderID, &b.PaymentID, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	const seatQ = `SELECT seat_label FROM booking_seats WHERE booking_id = ? ORDER BY seat_label`
	rows, err := r.db.QueryContext(ctx, seatQ, b.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	b.SeatLabels = []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, storeErr(err)
		}
		b.SeatLabels = append(b.SeatLabels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}
