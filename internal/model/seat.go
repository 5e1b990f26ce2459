package model

import "time"

// SeatStatus is the availability state of a seat for one show.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatLocked    SeatStatus = "locked"
	SeatBooked    SeatStatus = "booked"
)

// Seat describes one seat of a show together with its lock metadata.
// Seats are uniquely identified by their show and label (e.g. "C7").
// HolderID, LockedAt and LockExpiresAt are populated if and only if
// Status is SeatLocked.
//
// Fields:
//  ShowID        – show to which this seat belongs.
//  Label         – seat label, unique per show.
//  Row, Col      – seating coordinates.
//  Status        – available, locked or booked.
//  HolderID      – user currently holding the lock.
//  LockedAt      – when the current holder acquired the lock.
//  LockExpiresAt – when the lock becomes eligible for reclamation.
//  PriceCents    – price of this seat for the show.
//  Version       – incremented by every committed transition.
type Seat struct {
	ShowID        uint64     // show_seats.show_id
	Label         string     // show_seats.seat_label
	Row           uint32     // show_seats.row_no
	Col           uint32     // show_seats.col_no
	Status        SeatStatus // show_seats.status
	HolderID      *uint64    // show_seats.holder_id (nullable)
	LockedAt      *time.Time // show_seats.locked_at (nullable)
	LockExpiresAt *time.Time // show_seats.lock_expires_at (nullable)
	PriceCents    uint32     // show_seats.price_cents
	Version       uint64     // show_seats.version
}

// HeldBy reports whether the seat is currently locked by holder.
func (s Seat) HeldBy(holder uint64) bool {
	return s.Status == SeatLocked && s.HolderID != nil && *s.HolderID == holder
}

// LockValidAt reports whether the seat is locked by holder and the lock
// has not expired at now.
func (s Seat) LockValidAt(holder uint64, now time.Time) bool {
	return s.HeldBy(holder) && s.LockExpiresAt != nil && s.LockExpiresAt.After(now)
}

// ClearLock resets the lock metadata and sets the given status.
func (s *Seat) ClearLock(status SeatStatus) {
	s.Status = status
	s.HolderID = nil
	s.LockedAt = nil
	s.LockExpiresAt = nil
}
