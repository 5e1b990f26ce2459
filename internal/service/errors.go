package service

import (
	"errors"

	"github.com/iliyamo/cinema-seat-locking/internal/repository"
)

var (
	// ErrPaymentNotVerified is returned by Finalize when the payment
	// evidence does not check out.  No seat is touched.
	ErrPaymentNotVerified = errors.New("payment not verified")
	// ErrNoSeats is returned when a request names no seat at all.
	ErrNoSeats = errors.New("no seats in request")
)

// IsDenial reports whether err is an expected refusal rather than a
// failure.  Denials are returned to the caller and logged at debug level.
func IsDenial(err error) bool {
	switch {
	case errors.Is(err, repository.ErrSeatHeld),
		errors.Is(err, repository.ErrSeatBooked),
		errors.Is(err, repository.ErrSeatNotFound),
		errors.Is(err, repository.ErrNotHolder),
		errors.Is(err, repository.ErrSeatsNotHeld),
		errors.Is(err, repository.ErrAmountMismatch),
		errors.Is(err, repository.ErrPaymentReused),
		errors.Is(err, ErrPaymentNotVerified),
		errors.Is(err, ErrNoSeats):
		return true
	}
	return false
}

// uniqueLabels drops empty and repeated labels, keeping first occurrence
// order.
func uniqueLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
