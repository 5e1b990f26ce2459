// Package service holds the seat locking core: the lock manager with its
// expiry timers, the session tracker, the expiry sweeper and the booking
// finalizer.  All seat state lives in a SeatStore; this package only
// decides what to ask the store and whom to tell about the result.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/repository"
)

// SeatStore is implemented by repository.ShowSeatRepo and
// repository.MemoryStore.
type SeatStore interface {
	Lock(ctx context.Context, p repository.LockParams) (model.Seat, error)
	Unlock(ctx context.Context, showID uint64, label string, holder uint64) (model.Seat, error)
	ReleaseExpired(ctx context.Context, showID uint64, label string, holder uint64, now time.Time) (model.Seat, bool, error)
	SweepExpired(ctx context.Context, now time.Time, limit int) ([]model.Seat, error)
	ReleaseHeld(ctx context.Context, showID uint64, labels []string, holder uint64) ([]model.Seat, error)
	Book(ctx context.Context, p repository.BookParams) (*model.Booking, []model.Seat, error)
	SeatMap(ctx context.Context, showID uint64) ([]model.Seat, error)
}

// EventPublisher receives every committed seat transition.  Publish must
// not block on slow consumers.
type EventPublisher interface {
	Publish(ctx context.Context, showID uint64, ev model.SeatEvent)
}

// PaymentVerifier decides whether payment evidence is genuine.
type PaymentVerifier interface {
	Verify(ctx context.Context, ev model.PaymentEvidence) (bool, error)
}

// BookingNotifier is told about every committed booking.
type BookingNotifier interface {
	BookingConfirmed(ctx context.Context, b *model.Booking) error
}

type fanOut []EventPublisher

func (f fanOut) Publish(ctx context.Context, showID uint64, ev model.SeatEvent) {
	for _, p := range f {
		p.Publish(ctx, showID, ev)
	}
}

// FanOut returns a publisher forwarding every event to each non-nil pub in
// order.
func FanOut(pubs ...EventPublisher) EventPublisher {
	out := make(fanOut, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
