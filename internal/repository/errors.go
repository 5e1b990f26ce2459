// Package repository defines the seat store and booking ledger together with
// the sentinel errors they return.  The sentinel values allow higher layers
// such as the lock manager and the HTTP handlers to distinguish ordinary
// contention outcomes from infrastructure failures.  For example,
// ErrSeatHeld means somebody else won the race for a seat, while
// ErrStoreUnavailable means the conditional update could not be performed at
// all and the caller may retry.
package repository

import "errors"

// ErrSeatNotFound is returned when the show has no seat with the given
// label.  Handlers should translate this into an HTTP 404 response.
var ErrSeatNotFound = errors.New("seat not found")

// ErrSeatHeld is returned when a seat is locked by another party.
var ErrSeatHeld = errors.New("seat held by another party")

// ErrSeatBooked is returned when a seat has already been booked.
var ErrSeatBooked = errors.New("seat already booked")

// ErrNotHolder is returned when an unlock is attempted on a seat that is
// not currently locked by the caller.  Handlers should translate this into
// an HTTP 403 response.
var ErrNotHolder = errors.New("seat not locked by caller")

// ErrSeatsNotHeld is returned when a finalize request names at least one
// seat that is no longer locked by the caller.  Nothing is committed.
var ErrSeatsNotHeld = errors.New("some seats are no longer held")

// ErrAmountMismatch is returned when the paid amount does not match the
// sum of the seat prices.  Nothing is committed.
var ErrAmountMismatch = errors.New("paid amount does not match seat prices")

// ErrPaymentReused is returned when the payment evidence already backs
// another booking.  Nothing is committed and retrying cannot succeed.
var ErrPaymentReused = errors.New("payment already used for another booking")

// ErrStoreUnavailable wraps driver failures of the seat store.  It is the
// only retryable error of this package.
var ErrStoreUnavailable = errors.New("seat store unavailable")
