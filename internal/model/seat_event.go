package model

import "time"

// SeatEvent is the payload broadcast to every viewer of a show when a seat
// changes status.  HolderID and ExpiresAt are only set for locked seats.
// Version mirrors Seat.Version and lets receivers discard stale events.
type SeatEvent struct {
	ShowID    uint64     `json:"show_id"`
	SeatLabel string     `json:"seat_label"`
	Status    SeatStatus `json:"status"`
	HolderID  *uint64    `json:"holder_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Version   uint64     `json:"version"`
	At        time.Time  `json:"at"`
}

// NewSeatEvent builds the event describing the committed state of s.
func NewSeatEvent(s Seat, at time.Time) SeatEvent {
	ev := SeatEvent{
		ShowID:    s.ShowID,
		SeatLabel: s.Label,
		Status:    s.Status,
		Version:   s.Version,
		At:        at.UTC(),
	}
	if s.Status == SeatLocked {
		ev.HolderID = s.HolderID
		ev.ExpiresAt = s.LockExpiresAt
	}
	return ev
}
