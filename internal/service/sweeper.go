package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSweepBatch caps how many seats one store call releases.
const DefaultSweepBatch = 500

// Sweeper periodically releases every lock whose expiry has passed.  It is
// the authoritative expiry path: timers may be lost on restart, the
// sweeper is not.
type Sweeper struct {
	store    SeatStore
	locks    *LockManager
	log      logrus.FieldLogger
	interval time.Duration
	batch    int
}

// NewSweeper builds a sweeper.  A non-positive batch selects
// DefaultSweepBatch.
func NewSweeper(store SeatStore, locks *LockManager, log logrus.FieldLogger, interval time.Duration, batch int) *Sweeper {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{store: store, locks: locks, log: log, interval: interval, batch: batch}
}

// Start runs Sweep every interval until ctx is done.  Errors are logged and
// the next tick tries again.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.log.WithError(err).WithField("released", n).Error("expiry sweep failed")
		return
	}
	if n > 0 {
		s.log.WithField("released", n).Info("expired locks released")
	}
}

// Sweep releases every lock expired at the current time and publishes one
// event per released seat.  Nothing is written or published when no lock
// has expired.  It returns the number of seats released, including those
// released before an error.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.locks.Now()
	total := 0
	for {
		seats, err := s.store.SweepExpired(ctx, now, s.batch)
		if err != nil {
			return total, err
		}
		s.locks.Settle(ctx, seats)
		total += len(seats)
		if len(seats) < s.batch {
			return total, nil
		}
	}
}
