package repository // repository for show seat persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// LockParams describes a lock (or lock refresh) attempt.  Now is the
// acquisition time and ExpiresAt the new absolute expiry of the lock.
type LockParams struct {
	ShowID    uint64
	Label     string
	Holder    uint64
	Now       time.Time
	ExpiresAt time.Time
}

// BookParams describes the conversion of held seats into a booking.
type BookParams struct {
	ShowID         uint64
	Labels         []string
	Holder         uint64
	AmountCents    uint32
	PaymentOrderID string
	PaymentID      string
	Now            time.Time
}

const seatColumns = `show_id, seat_label, row_no, col_no, status, holder_id, locked_at, lock_expires_at, price_cents, version`

// ShowSeatRepo is the MySQL seat store.  Every state transition is a single
// conditional UPDATE whose WHERE clause carries the precondition, so MySQL
// decides which of two racing callers wins.  Rows are read back inside the
// same transaction only to report the committed state.
type ShowSeatRepo struct {
	db     *sql.DB
	ledger *BookingRepo
}

// NewShowSeatRepo constructs a ShowSeatRepo given a DB handle and the
// booking ledger used inside Book.
func NewShowSeatRepo(db *sql.DB, ledger *BookingRepo) *ShowSeatRepo {
	return &ShowSeatRepo{db: db, ledger: ledger}
}

// Lock transitions a seat to locked by p.Holder if it is available or
// already locked by the same holder (a refresh).  Denials are reported as
// ErrSeatNotFound, ErrSeatBooked or ErrSeatHeld.
func (r *ShowSeatRepo) Lock(ctx context.Context, p LockParams) (model.Seat, error) {
	// locked_at is assigned first because MySQL evaluates SET clauses left
	// to right and the status check must see the old row.
	const q = `UPDATE show_seats
	           SET locked_at = IF(status = 'locked' AND holder_id = ?, locked_at, ?),
	               status = 'locked', holder_id = ?, lock_expires_at = ?, version = version + 1
	           WHERE show_id = ? AND seat_label = ?
	             AND (status = 'available' OR (status = 'locked' AND holder_id = ?))`
	var seat model.Seat
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			p.Holder, p.Now.UTC(), p.Holder, p.ExpiresAt.UTC(), p.ShowID, p.Label, p.Holder)
		if err != nil {
			return storeErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return storeErr(err)
		} else if n == 0 {
			return r.lockDenial(ctx, tx, p.ShowID, p.Label)
		}
		seat, err = getSeatTx(ctx, tx, p.ShowID, p.Label)
		return err
	})
	return seat, err
}

// lockDenial classifies why a lock UPDATE matched no row.
func (r *ShowSeatRepo) lockDenial(ctx context.Context, tx *sql.Tx, showID uint64, label string) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM show_seats WHERE show_id = ? AND seat_label = ?`, showID, label,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSeatNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	if model.SeatStatus(status) == model.SeatBooked {
		return ErrSeatBooked
	}
	return ErrSeatHeld
}

// Unlock releases a seat only if it is currently locked by holder.
func (r *ShowSeatRepo) Unlock(ctx context.Context, showID uint64, label string, holder uint64) (model.Seat, error) {
	const q = `UPDATE show_seats
	           SET status = 'available', holder_id = NULL, locked_at = NULL, lock_expires_at = NULL,
	               version = version + 1
	           WHERE show_id = ? AND seat_label = ? AND status = 'locked' AND holder_id = ?`
	var seat model.Seat
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, showID, label, holder)
		if err != nil {
			return storeErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return storeErr(err)
		} else if n == 0 {
			if err := r.lockDenial(ctx, tx, showID, label); errors.Is(err, ErrSeatNotFound) || errors.Is(err, ErrStoreUnavailable) {
				return err
			}
			return ErrNotHolder
		}
		seat, err = getSeatTx(ctx, tx, showID, label)
		return err
	})
	return seat, err
}

// ReleaseExpired releases a seat if it is still locked by holder and its
// lock has expired at now.  The boolean reports whether anything changed.
func (r *ShowSeatRepo) ReleaseExpired(ctx context.Context, showID uint64, label string, holder uint64, now time.Time) (model.Seat, bool, error) {
	const q = `UPDATE show_seats
	           SET status = 'available', holder_id = NULL, locked_at = NULL, lock_expires_at = NULL,
	               version = version + 1
	           WHERE show_id = ? AND seat_label = ? AND status = 'locked' AND holder_id = ?
	             AND lock_expires_at <= ?`
	var (
		seat    model.Seat
		changed bool
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, showID, label, holder, now.UTC())
		if err != nil {
			return storeErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storeErr(err)
		}
		if n == 0 {
			return nil
		}
		changed = true
		seat, err = getSeatTx(ctx, tx, showID, label)
		return err
	})
	return seat, changed, err
}

// SweepExpired releases up to limit locked seats whose expiry is at or
// before now and returns them in their new available state.  It returns an
// empty slice when nothing has expired.
func (r *ShowSeatRepo) SweepExpired(ctx context.Context, now time.Time, limit int) ([]model.Seat, error) {
	const sel = `SELECT ` + seatColumns + `
	             FROM show_seats
	             WHERE status = 'locked' AND lock_expires_at <= ?
	             ORDER BY show_id, seat_label
	             LIMIT ?
	             FOR UPDATE`
	var released []model.Seat
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		expired, err := querySeatsTx(ctx, tx, sel, now.UTC(), limit)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		tuples := make([]string, 0, len(expired))
		args := make([]interface{}, 0, len(expired)*2+1)
		args = append(args, now.UTC())
		for _, s := range expired {
			tuples = append(tuples, "(?, ?)")
			args = append(args, s.ShowID, s.Label)
		}
		upd := `UPDATE show_seats
		        SET status = 'available', holder_id = NULL, locked_at = NULL, lock_expires_at = NULL,
		            version = version + 1
		        WHERE status = 'locked' AND lock_expires_at <= ?
		          AND (show_id, seat_label) IN (` + strings.Join(tuples, ",") + `)`
		if _, err := tx.ExecContext(ctx, upd, args...); err != nil {
			return storeErr(err)
		}
		released = releasedCopies(expired)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if released == nil {
		released = []model.Seat{}
	}
	return released, nil
}

// ReleaseHeld releases every labelled seat that is still locked by holder.
// Seats held by somebody else, booked or available are left untouched.
func (r *ShowSeatRepo) ReleaseHeld(ctx context.Context, showID uint64, labels []string, holder uint64) ([]model.Seat, error) {
	if len(labels) == 0 {
		return []model.Seat{}, nil
	}
	var released []model.Seat
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		args := labelArgs(showID, labels, holder)
		sel := `SELECT ` + seatColumns + `
		        FROM show_seats
		        WHERE show_id = ? AND seat_label IN (` + placeholders(len(labels)) + `)
		          AND status = 'locked' AND holder_id = ?
		        FOR UPDATE`
		held, err := querySeatsTx(ctx, tx, sel, args...)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			return nil
		}
		heldLabels := make([]string, 0, len(held))
		for _, s := range held {
			heldLabels = append(heldLabels, s.Label)
		}
		upd := `UPDATE show_seats
		        SET status = 'available', holder_id = NULL, locked_at = NULL, lock_expires_at = NULL,
		            version = version + 1
		        WHERE show_id = ? AND seat_label IN (` + placeholders(len(heldLabels)) + `)
		          AND status = 'locked' AND holder_id = ?`
		if _, err := tx.ExecContext(ctx, upd, labelArgs(showID, heldLabels, holder)...); err != nil {
			return storeErr(err)
		}
		released = releasedCopies(held)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if released == nil {
		released = []model.Seat{}
	}
	return released, nil
}

// Book converts the labelled seats held by p.Holder into a booking.  The
// seats are locked FOR UPDATE, checked, flipped to booked and the booking
// plus its seat links are inserted in one transaction; any failure rolls
// back every step.
func (r *ShowSeatRepo) Book(ctx context.Context, p BookParams) (*model.Booking, []model.Seat, error) {
	if len(p.Labels) == 0 {
		return nil, nil, ErrSeatsNotHeld
	}
	var (
		booking *model.Booking
		booked  []model.Seat
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		args := make([]interface{}, 0, len(p.Labels)+1)
		args = append(args, p.ShowID)
		for _, l := range p.Labels {
			args = append(args, l)
		}
		sel := `SELECT ` + seatColumns + `
		        FROM show_seats
		        WHERE show_id = ? AND seat_label IN (` + placeholders(len(p.Labels)) + `)
		        ORDER BY seat_label
		        FOR UPDATE`
		seats, err := querySeatsTx(ctx, tx, sel, args...)
		if err != nil {
			return err
		}
		if len(seats) != len(p.Labels) {
			return ErrSeatNotFound
		}
		var total uint32
		for _, s := range seats {
			if !s.LockValidAt(p.Holder, p.Now) {
				return ErrSeatsNotHeld
			}
			total += s.PriceCents
		}
		if total != p.AmountCents {
			return ErrAmountMismatch
		}
		upd := `UPDATE show_seats
		        SET status = 'booked', holder_id = NULL, locked_at = NULL, lock_expires_at = NULL,
		            version = version + 1
		        WHERE show_id = ? AND seat_label IN (` + placeholders(len(p.Labels)) + `)
		          AND status = 'locked' AND holder_id = ?`
		res, err := tx.ExecContext(ctx, upd, labelArgs(p.ShowID, p.Labels, p.Holder)...)
		if err != nil {
			return storeErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return storeErr(err)
		} else if int(n) != len(p.Labels) {
			return ErrSeatsNotHeld
		}
		b := &model.Booking{
			UserID:         p.Holder,
			ShowID:         p.ShowID,
			AmountCents:    total,
			PaymentOrderID: p.PaymentOrderID,
			PaymentID:      p.PaymentID,
			CreatedAt:      p.Now.UTC(),
		}
		if err := r.ledger.CreateTx(ctx, tx, b); errors.Is(err, ErrPaymentReused) {
			return err
		} else if err != nil {
			return storeErr(err)
		}
		links := make([]BookingSeatRecord, 0, len(seats))
		for _, s := range seats {
			links = append(links, BookingSeatRecord{BookingID: b.ID, ShowID: s.ShowID, SeatLabel: s.Label, PriceCents: s.PriceCents})
			b.SeatLabels = append(b.SeatLabels, s.Label)
		}
		if err := r.ledger.CreateSeatsBulkTx(ctx, tx, links); err != nil {
			return storeErr(err)
		}
		booking = b
		booked = make([]model.Seat, 0, len(seats))
		for _, s := range seats {
			s.ClearLock(model.SeatBooked)
			s.Version++
			booked = append(booked, s)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return booking, booked, nil
}

// SeatMap returns every seat of a show ordered by row and column.  It is a
// plain read used by display code, never by the write path.
func (r *ShowSeatRepo) SeatMap(ctx context.Context, showID uint64) ([]model.Seat, error) {
	const q = `SELECT ` + seatColumns + `
	           FROM show_seats
	           WHERE show_id = ?
	           ORDER BY row_no, col_no`
	rows, err := r.db.QueryContext(ctx, q, showID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return scanSeats(rows)
}

// CreateBulk inserts multiple available seats for a show in one statement.
// Passing an empty slice has no effect and returns nil.
func (r *ShowSeatRepo) CreateBulk(ctx context.Context, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO show_seats (show_id, seat_label, row_no, col_no, status, price_cents, version) VALUES `
	args := make([]interface{}, 0, len(seats)*6)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, 'available', ?, 0)"
		args = append(args, s.ShowID, s.Label, s.Row, s.Col, s.PriceCents)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return storeErr(err)
	}
	return nil
}

// withTx runs fn inside a transaction and commits when fn succeeds.
func (r *ShowSeatRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	committed = true
	return nil
}

func getSeatTx(ctx context.Context, tx *sql.Tx, showID uint64, label string) (model.Seat, error) {
	const q = `SELECT ` + seatColumns + ` FROM show_seats WHERE show_id = ? AND seat_label = ?`
	seat, err := scanSeat(tx.QueryRowContext(ctx, q, showID, label))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Seat{}, ErrSeatNotFound
	}
	if err != nil {
		return model.Seat{}, storeErr(err)
	}
	return seat, nil
}

func querySeatsTx(ctx context.Context, tx *sql.Tx, q string, args ...interface{}) ([]model.Seat, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return scanSeats(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSeat(row rowScanner) (model.Seat, error) {
	var (
		s        model.Seat
		status   string
		holder   sql.NullInt64
		lockedAt sql.NullTime
		expires  sql.NullTime
	)
	if err := row.Scan(&s.ShowID, &s.Label, &s.Row, &s.Col, &status, &holder, &lockedAt, &expires, &s.PriceCents, &s.Version); err != nil {
		return model.Seat{}, err
	}
	s.Status = model.SeatStatus(status)
	if holder.Valid {
		h := uint64(holder.Int64)
		s.HolderID = &h
	}
	if lockedAt.Valid {
		t := lockedAt.Time.UTC()
		s.LockedAt = &t
	}
	if expires.Valid {
		t := expires.Time.UTC()
		s.LockExpiresAt = &t
	}
	return s, nil
}

func scanSeats(rows *sql.Rows) ([]model.Seat, error) {
	seats := make([]model.Seat, 0)
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return seats, nil
}

// releasedCopies returns the seats as they look after a release committed.
func releasedCopies(seats []model.Seat) []model.Seat {
	out := make([]model.Seat, 0, len(seats))
	for _, s := range seats {
		s.ClearLock(model.SeatAvailable)
		s.Version++
		out = append(out, s)
	}
	return out
}

func labelArgs(showID uint64, labels []string, holder uint64) []interface{} {
	args := make([]interface{}, 0, len(labels)+2)
	args = append(args, showID)
	for _, l := range labels {
		args = append(args, l)
	}
	return append(args, holder)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
