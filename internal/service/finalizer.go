package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/repository"
)

// FinalizeRequest converts the holder's locks into a booking.
type FinalizeRequest struct {
	ShowID  uint64
	Labels  []string
	Holder  uint64
	Payment model.PaymentEvidence
}

// RollbackRequest releases the holder's locks after a failed payment.
type RollbackRequest struct {
	ShowID uint64
	Labels []string
	Holder uint64
}

// Finalizer turns held seats into bookings, or gives them back when the
// payment failed.
type Finalizer struct {
	store    SeatStore
	locks    *LockManager
	verifier PaymentVerifier
	bookings BookingNotifier
	log      logrus.FieldLogger
}

// NewFinalizer wires a finalizer.  bookings may be nil.
func NewFinalizer(store SeatStore, locks *LockManager, verifier PaymentVerifier, bookings BookingNotifier, log logrus.FieldLogger) *Finalizer {
	return &Finalizer{store: store, locks: locks, verifier: verifier, bookings: bookings, log: log}
}

// Finalize verifies the payment and books every requested seat in one
// store transaction.  If any seat is no longer validly held by the caller
// nothing changes and repository.ErrSeatsNotHeld is returned.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (*model.Booking, error) {
	labels := uniqueLabels(req.Labels)
	if len(labels) == 0 {
		return nil, ErrNoSeats
	}
	ok, err := f.verifier.Verify(ctx, req.Payment)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if !ok {
		f.log.WithFields(logrus.Fields{"show_id": req.ShowID, "holder_id": req.Holder, "order_id": req.Payment.OrderID}).
			Warn("payment evidence rejected")
		return nil, ErrPaymentNotVerified
	}

	booking, seats, err := f.store.Book(ctx, repository.BookParams{
		ShowID:         req.ShowID,
		Labels:         labels,
		Holder:         req.Holder,
		AmountCents:    req.Payment.AmountCents,
		PaymentOrderID: req.Payment.OrderID,
		PaymentID:      req.Payment.PaymentID,
		Now:            f.locks.Now(),
	})
	if err != nil {
		f.locks.logOutcome(err, "finalize", req.ShowID, fmt.Sprint(labels), req.Holder)
		return nil, err
	}
	f.locks.Settle(ctx, seats)
	f.log.WithFields(logrus.Fields{"booking_id": booking.ID, "show_id": booking.ShowID, "holder_id": booking.UserID, "seats": len(seats)}).
		Info("booking confirmed")

	if f.bookings != nil {
		go func(ctx context.Context, b model.Booking) {
			if err := f.bookings.BookingConfirmed(ctx, &b); err != nil {
				f.log.WithError(err).WithField("booking_id", b.ID).Warn("booking confirmation not published")
			}
		}(context.WithoutCancel(ctx), *booking)
	}
	return booking, nil
}

// RollbackOnFailedPayment releases every requested seat the holder still
// has locked.  Seats already expired or taken by someone else are skipped.
func (f *Finalizer) RollbackOnFailedPayment(ctx context.Context, req RollbackRequest) ([]model.Seat, error) {
	labels := uniqueLabels(req.Labels)
	if len(labels) == 0 {
		return nil, ErrNoSeats
	}
	seats, err := f.store.ReleaseHeld(ctx, req.ShowID, labels, req.Holder)
	if err != nil {
		f.locks.logOutcome(err, "rollback", req.ShowID, fmt.Sprint(labels), req.Holder)
		return nil, err
	}
	f.locks.Settle(ctx, seats)
	return seats, nil
}
