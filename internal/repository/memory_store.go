package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// BookingLedger records bookings for the in-memory seat store.  Record is
// called while the store still holds its lock, after the seats have been
// flipped to booked; an error makes the store restore every seat.
type BookingLedger interface {
	Record(ctx context.Context, b *model.Booking) error
	GetByIDForUser(ctx context.Context, bookingID, userID uint64) (*model.Booking, error)
}

type seatKey struct {
	show  uint64
	label string
}

// MemoryStore is a single-process seat store.  Each method evaluates its
// precondition and applies the transition under one mutex, which gives the
// same all-or-nothing semantics as the conditional UPDATEs of ShowSeatRepo.
type MemoryStore struct {
	mu     sync.Mutex
	seats  map[seatKey]*model.Seat
	ledger BookingLedger
}

// NewMemoryStore returns an empty store.  A nil ledger selects a
// MemoryLedger.
func NewMemoryStore(ledger BookingLedger) *MemoryStore {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &MemoryStore{seats: make(map[seatKey]*model.Seat), ledger: ledger}
}

// CreateBulk adds available seats.  Existing seats with the same key are
// replaced.
func (m *MemoryStore) CreateBulk(_ context.Context, seats []model.Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range seats {
		s.ClearLock(model.SeatAvailable)
		cp := s
		m.seats[seatKey{s.ShowID, s.Label}] = &cp
	}
	return nil
}

// Lock implements the same contract as ShowSeatRepo.Lock.
func (m *MemoryStore) Lock(_ context.Context, p LockParams) (model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[seatKey{p.ShowID, p.Label}]
	if !ok {
		return model.Seat{}, ErrSeatNotFound
	}
	switch {
	case s.Status == model.SeatBooked:
		return model.Seat{}, ErrSeatBooked
	case s.Status == model.SeatAvailable:
		now := p.Now.UTC()
		s.LockedAt = &now
	case s.HeldBy(p.Holder):
		// refresh keeps the original acquisition time
	default:
		return model.Seat{}, ErrSeatHeld
	}
	holder := p.Holder
	expires := p.ExpiresAt.UTC()
	s.Status = model.SeatLocked
	s.HolderID = &holder
	s.LockExpiresAt = &expires
	s.Version++
	return *s, nil
}

// Unlock implements the same contract as ShowSeatRepo.Unlock.
func (m *MemoryStore) Unlock(_ context.Context, showID uint64, label string, holder uint64) (model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[seatKey{showID, label}]
	if !ok {
		return model.Seat{}, ErrSeatNotFound
	}
	if !s.HeldBy(holder) {
		return model.Seat{}, ErrNotHolder
	}
	s.ClearLock(model.SeatAvailable)
	s.Version++
	return *s, nil
}

// ReleaseExpired implements the same contract as ShowSeatRepo.ReleaseExpired.
func (m *MemoryStore) ReleaseExpired(_ context.Context, showID uint64, label string, holder uint64, now time.Time) (model.Seat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[seatKey{showID, label}]
	if !ok || !s.HeldBy(holder) || s.LockExpiresAt.After(now) {
		return model.Seat{}, false, nil
	}
	s.ClearLock(model.SeatAvailable)
	s.Version++
	return *s, true, nil
}

// SweepExpired implements the same contract as ShowSeatRepo.SweepExpired.
func (m *MemoryStore) SweepExpired(_ context.Context, now time.Time, limit int) ([]model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := make([]*model.Seat, 0)
	for _, s := range m.seats {
		if s.Status == model.SeatLocked && !s.LockExpiresAt.After(now) {
			expired = append(expired, s)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ShowID != expired[j].ShowID {
			return expired[i].ShowID < expired[j].ShowID
		}
		return expired[i].Label < expired[j].Label
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	released := make([]model.Seat, 0, len(expired))
	for _, s := range expired {
		s.ClearLock(model.SeatAvailable)
		s.Version++
		released = append(released, *s)
	}
	return released, nil
}

// ReleaseHeld implements the same contract as ShowSeatRepo.ReleaseHeld.
func (m *MemoryStore) ReleaseHeld(_ context.Context, showID uint64, labels []string, holder uint64) ([]model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := make([]model.Seat, 0, len(labels))
	for _, l := range labels {
		s, ok := m.seats[seatKey{showID, l}]
		if !ok || !s.HeldBy(holder) {
			continue
		}
		s.ClearLock(model.SeatAvailable)
		s.Version++
		released = append(released, *s)
	}
	return released, nil
}

// Book implements the same contract as ShowSeatRepo.Book.  When the ledger
// fails after the seats were flipped, every seat is restored.
func (m *MemoryStore) Book(ctx context.Context, p BookParams) (*model.Booking, []model.Seat, error) {
	if len(p.Labels) == 0 {
		return nil, nil, ErrSeatsNotHeld
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seats := make([]*model.Seat, 0, len(p.Labels))
	var total uint32
	for _, l := range p.Labels {
		s, ok := m.seats[seatKey{p.ShowID, l}]
		if !ok {
			return nil, nil, ErrSeatNotFound
		}
		if !s.LockValidAt(p.Holder, p.Now) {
			return nil, nil, ErrSeatsNotHeld
		}
		total += s.PriceCents
		seats = append(seats, s)
	}
	if total != p.AmountCents {
		return nil, nil, ErrAmountMismatch
	}
	before := make([]model.Seat, len(seats))
	for i, s := range seats {
		before[i] = *s
		s.ClearLock(model.SeatBooked)
		s.Version++
	}
	b := &model.Booking{
		UserID:         p.Holder,
		ShowID:         p.ShowID,
		AmountCents:    total,
		PaymentOrderID: p.PaymentOrderID,
		PaymentID:      p.PaymentID,
		SeatLabels:     append([]string(nil), p.Labels...),
		CreatedAt:      p.Now.UTC(),
	}
	if err := m.ledger.Record(ctx, b); err != nil {
		for i, s := range seats {
			*s = before[i]
		}
		if errors.Is(err, ErrPaymentReused) {
			return nil, nil, err
		}
		return nil, nil, storeErr(err)
	}
	booked := make([]model.Seat, 0, len(seats))
	for _, s := range seats {
		booked = append(booked, *s)
	}
	return b, booked, nil
}

// SeatMap returns every seat of a show ordered by row and column.
func (m *MemoryStore) SeatMap(_ context.Context, showID uint64) ([]model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seats := make([]model.Seat, 0)
	for k, s := range m.seats {
		if k.show == showID {
			seats = append(seats, *s)
		}
	}
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Row != seats[j].Row {
			return seats[i].Row < seats[j].Row
		}
		return seats[i].Col < seats[j].Col
	})
	return seats, nil
}

// GetByIDForUser reads a booking from the ledger.
func (m *MemoryStore) GetByIDForUser(ctx context.Context, bookingID, userID uint64) (*model.Booking, error) {
	return m.ledger.GetByIDForUser(ctx, bookingID, userID)
}

// MemoryLedger keeps bookings in memory and assigns sequential IDs.  Like
// the bookings table it allows one booking per (order id, payment id).
type MemoryLedger struct {
	mu       sync.Mutex
	nextID   uint64
	bookings map[uint64]model.Booking
	payments map[[2]string]uint64
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		bookings: make(map[uint64]model.Booking),
		payments: make(map[[2]string]uint64),
	}
}

// Record stores b and populates its ID.  It returns ErrPaymentReused when
// the payment ids already back a booking.
func (l *MemoryLedger) Record(_ context.Context, b *model.Booking) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]string{b.PaymentOrderID, b.PaymentID}
	if _, ok := l.payments[key]; ok {
		return ErrPaymentReused
	}
	l.nextID++
	b.ID = l.nextID
	l.bookings[b.ID] = *b
	l.payments[key] = b.ID
	return nil
}

// GetByIDForUser returns the booking when it belongs to userID.
func (l *MemoryLedger) GetByIDForUser(_ context.Context, bookingID, userID uint64) (*model.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[bookingID]
	if !ok || b.UserID != userID {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

// Len returns the number of recorded bookings.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bookings)
}
