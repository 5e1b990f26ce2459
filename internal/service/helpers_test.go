package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []model.SeatEvent
}

func (r *recorder) Publish(_ context.Context, _ uint64, ev model.SeatEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []model.SeatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SeatEvent(nil), r.events...)
}

func (r *recorder) Statuses() []model.SeatStatus {
	var out []model.SeatStatus
	for _, ev := range r.Events() {
		out = append(out, ev.Status)
	}
	return out
}

type fixture struct {
	store   *repository.MemoryStore
	ledger  *repository.MemoryLedger
	tracker *SessionTracker
	events  *recorder
	clock   *fakeClock
	locks   *LockManager
	log     logrus.FieldLogger
}

// newFixture builds a lock manager over a seeded memory store.  The fake
// clock drives every store comparison while timers still run on wall
// time, so with the default five minute TTL they never fire in a test.
func newFixture(t *testing.T, ttl time.Duration, ledger repository.BookingLedger) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	f := &fixture{
		tracker: NewSessionTracker(log),
		events:  &recorder{},
		clock:   newFakeClock(),
		log:     log,
	}
	if ledger == nil {
		f.ledger = repository.NewMemoryLedger()
		ledger = f.ledger
	}
	f.store = repository.NewMemoryStore(ledger)
	require.NoError(t, f.store.CreateBulk(context.Background(), repository.LayoutSeats(1, 3, 8, 1000)))
	f.locks = NewLockManager(f.store, f.tracker, f.events, log, ttl, WithClock(f.clock.Now))
	t.Cleanup(f.locks.Close)
	return f
}

func (f *fixture) seat(t *testing.T, label string) model.Seat {
	t.Helper()
	seats, err := f.store.SeatMap(context.Background(), 1)
	require.NoError(t, err)
	for _, s := range seats {
		if s.Label == label {
			return s
		}
	}
	t.Fatalf("seat %s not found", label)
	return model.Seat{}
}
