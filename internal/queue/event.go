// Package queue defines message payloads exchanged over the message brokers
// and the adapters that publish and consume them.
package queue

import (
	"time"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// BookingConfirmedEvent is published when held seats are converted into a
// booking.  It carries enough for downstream consumers to log, notify or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID      uint64   `json:"booking_id"`
	UserID         uint64   `json:"user_id"`
	ShowID         uint64   `json:"show_id"`
	SeatLabels     []string `json:"seats"`
	AmountCents    uint32   `json:"amount_cents"`
	PaymentOrderID string   `json:"payment_order_id"`
	PaymentID      string   `json:"payment_id"`
	ConfirmedAt    string   `json:"confirmed_at"`
}

// NewBookingConfirmedEvent builds the event for b.
func NewBookingConfirmedEvent(b *model.Booking) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:      b.ID,
		UserID:         b.UserID,
		ShowID:         b.ShowID,
		SeatLabels:     append([]string(nil), b.SeatLabels...),
		AmountCents:    b.AmountCents,
		PaymentOrderID: b.PaymentOrderID,
		PaymentID:      b.PaymentID,
		ConfirmedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
	}
}
