package model

import "time"

// Booking records the permanent purchase of one or more seats of a show.
// It is created only after every covered seat has been flipped to booked
// within the same transaction.
//
// Fields:
//  ID             – primary key identifier.
//  UserID         – user who owns the booking (the former lock holder).
//  ShowID         – show being booked.
//  AmountCents    – total paid amount in cents.
//  PaymentOrderID – payment provider order reference.
//  PaymentID      – payment provider payment reference.
//  SeatLabels     – seats covered by this booking (booking_seats junction).
//  CreatedAt      – creation timestamp.
type Booking struct {
	ID             uint64    // bookings.id
	UserID         uint64    // bookings.user_id
	ShowID         uint64    // bookings.show_id
	AmountCents    uint32    // bookings.amount_cents
	PaymentOrderID string    // bookings.payment_order_id
	PaymentID      string    // bookings.payment_id
	SeatLabels     []string  // booking_seats.seat_label
	CreatedAt      time.Time // bookings.created_at
}
