package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

var seatCols = []string{"show_id", "seat_label", "row_no", "col_no", "status", "holder_id", "locked_at", "lock_expires_at", "price_cents", "version"}

func newMockRepo(t *testing.T) (*ShowSeatRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewShowSeatRepo(db, NewBookingRepo(db)), mock
}

func lockedRow(rows *sqlmock.Rows, label string, holder int64, lockedAt, expires time.Time, version int64) *sqlmock.Rows {
	return rows.AddRow(int64(1), label, int64(3), int64(7), "locked", holder, lockedAt, expires, int64(1000), version)
}

func TestShowSeatRepo_LockSuccess(t *testing.T) {
	repo, mock := newMockRepo(t)
	exp := t0.Add(5 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE show_seats").
		WithArgs(int64(42), t0, int64(42), exp, int64(1), "C7", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT show_id, seat_label").
		WithArgs(int64(1), "C7").
		WillReturnRows(lockedRow(sqlmock.NewRows(seatCols), "C7", 42, t0, exp, 1))
	mock.ExpectCommit()

	seat, err := repo.Lock(context.Background(), LockParams{ShowID: 1, Label: "C7", Holder: 42, Now: t0, ExpiresAt: exp})
	require.NoError(t, err)
	assert.True(t, seat.HeldBy(42))
	assert.Equal(t, exp, *seat.LockExpiresAt)
	assert.Equal(t, uint64(1), seat.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_LockDenials(t *testing.T) {
	tests := []struct {
		name   string
		status *sqlmock.Rows
		err    error
	}{
		{"held", sqlmock.NewRows([]string{"status"}).AddRow("locked"), ErrSeatHeld},
		{"booked", sqlmock.NewRows([]string{"status"}).AddRow("booked"), ErrSeatBooked},
		{"missing", sqlmock.NewRows([]string{"status"}), ErrSeatNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectBegin()
			mock.ExpectExec("UPDATE show_seats").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery("SELECT status FROM show_seats").WillReturnRows(tc.status)
			mock.ExpectRollback()

			_, err := repo.Lock(context.Background(), LockParams{ShowID: 1, Label: "C7", Holder: 2, Now: t0, ExpiresAt: t0.Add(time.Minute)})
			assert.ErrorIs(t, err, tc.err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestShowSeatRepo_LockDriverFailureIsRetryable(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE show_seats").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.Lock(context.Background(), LockParams{ShowID: 1, Label: "C7", Holder: 2, Now: t0, ExpiresAt: t0})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_UnlockNotHolder(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE show_seats").
		WithArgs(int64(1), "C7", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM show_seats").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("available"))
	mock.ExpectRollback()

	_, err := repo.Unlock(context.Background(), 1, "C7", 9)
	assert.ErrorIs(t, err, ErrNotHolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_SweepExpiredNoop(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM show_seats WHERE status = 'locked' AND lock_expires_at <= \\?").
		WithArgs(t0, 100).
		WillReturnRows(sqlmock.NewRows(seatCols))
	mock.ExpectCommit()

	seats, err := repo.SweepExpired(context.Background(), t0, 100)
	require.NoError(t, err)
	assert.Empty(t, seats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_SweepExpiredReleases(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := sqlmock.NewRows(seatCols)
	lockedRow(rows, "A1", 5, t0.Add(-10*time.Minute), t0.Add(-5*time.Minute), 3)
	lockedRow(rows, "A2", 6, t0.Add(-9*time.Minute), t0.Add(-4*time.Minute), 8)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(rows)
	mock.ExpectExec("UPDATE show_seats SET status = 'available'").
		WithArgs(t0, int64(1), "A1", int64(1), "A2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	seats, err := repo.SweepExpired(context.Background(), t0, 100)
	require.NoError(t, err)
	require.Len(t, seats, 2)
	assert.Equal(t, model.SeatAvailable, seats[0].Status)
	assert.Nil(t, seats[0].HolderID)
	assert.Equal(t, uint64(4), seats[0].Version)
	assert.Equal(t, uint64(9), seats[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func bookRows(holder int64, expires time.Time) *sqlmock.Rows {
	rows := sqlmock.NewRows(seatCols)
	lockedRow(rows, "C7", holder, t0, expires, 1)
	lockedRow(rows, "C8", holder, t0, expires, 1)
	return rows
}

func TestShowSeatRepo_BookCommitsBookingAndSeats(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := t0.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(1), "C7", "C8").WillReturnRows(bookRows(42, t0.Add(5*time.Minute)))
	mock.ExpectExec("UPDATE show_seats SET status = 'booked'").
		WithArgs(int64(1), "C7", "C8", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO bookings").
		WithArgs(int64(42), int64(1), int64(2000), "o-1", "p-1", now).
		WillReturnResult(sqlmock.NewResult(77, 1))
	mock.ExpectExec("INSERT INTO booking_seats").
		WithArgs(int64(77), int64(1), "C7", int64(1000), int64(77), int64(1), "C8", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	b, seats, err := repo.Book(context.Background(), BookParams{
		ShowID: 1, Labels: []string{"C7", "C8"}, Holder: 42, AmountCents: 2000,
		PaymentOrderID: "o-1", PaymentID: "p-1", Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(77), b.ID)
	assert.Equal(t, []string{"C7", "C8"}, b.SeatLabels)
	require.Len(t, seats, 2)
	assert.Equal(t, model.SeatBooked, seats[0].Status)
	assert.Equal(t, uint64(2), seats[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_BookRollsBackWhenBookingInsertFails(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(bookRows(42, t0.Add(5*time.Minute)))
	mock.ExpectExec("UPDATE show_seats SET status = 'booked'").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO bookings").WillReturnError(errors.New("deadlock found"))
	mock.ExpectRollback()

	b, seats, err := repo.Book(context.Background(), BookParams{ShowID: 1, Labels: []string{"C7", "C8"}, Holder: 42, AmountCents: 2000, Now: t0})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, b)
	assert.Nil(t, seats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_BookRejectsReusedPayment(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(bookRows(42, t0.Add(5*time.Minute)))
	mock.ExpectExec("UPDATE show_seats SET status = 'booked'").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO bookings").WillReturnError(&mysql.MySQLError{
		Number:  1062,
		Message: "Duplicate entry 'o-1-p-1' for key 'uq_bookings_payment'",
	})
	mock.ExpectRollback()

	b, _, err := repo.Book(context.Background(), BookParams{
		ShowID: 1, Labels: []string{"C7", "C8"}, Holder: 42, AmountCents: 2000,
		PaymentOrderID: "o-1", PaymentID: "p-1", Now: t0,
	})
	assert.ErrorIs(t, err, ErrPaymentReused)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_BookRejectsExpiredSeatsWithoutWriting(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(bookRows(42, t0))
	mock.ExpectRollback()

	_, _, err := repo.Book(context.Background(), BookParams{ShowID: 1, Labels: []string{"C7", "C8"}, Holder: 42, AmountCents: 2000, Now: t0})
	assert.ErrorIs(t, err, ErrSeatsNotHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowSeatRepo_BookAmountMismatch(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(bookRows(42, t0.Add(time.Minute)))
	mock.ExpectRollback()

	_, _, err := repo.Book(context.Background(), BookParams{ShowID: 1, Labels: []string{"C7", "C8"}, Holder: 42, AmountCents: 1500, Now: t0})
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepo_GetByIDForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewBookingRepo(db)

	mock.ExpectQuery("SELECT id, user_id, show_id").
		WithArgs(int64(77), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "show_id", "amount_cents", "payment_order_id", "payment_id", "created_at"}).
			AddRow(int64(77), int64(42), int64(1), int64(2000), "o-1", "p-1", t0))
	mock.ExpectQuery("SELECT seat_label FROM booking_seats").
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"seat_label"}).AddRow("C7").AddRow("C8"))

	b, err := repo.GetByIDForUser(context.Background(), 77, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"C7", "C8"}, b.SeatLabels)
	assert.Equal(t, uint32(2000), b.AmountCents)

	mock.ExpectQuery("SELECT id, user_id, show_id").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByIDForUser(context.Background(), 78, 42)
	assert.ErrorIs(t, err, ErrBookingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
