package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/repository"
)

// expiryReleaseTimeout bounds the store call made when a lock timer fires.
const expiryReleaseTimeout = 5 * time.Second

// LockRequest asks for a lock on one seat.  ConnectionID is optional; when
// set the seat is recorded in the session tracker so it is released if the
// connection drops.
type LockRequest struct {
	ShowID       uint64
	Label        string
	Holder       uint64
	ConnectionID string
}

// UnlockRequest asks to release one seat held by Holder.
type UnlockRequest struct {
	ShowID       uint64
	Label        string
	Holder       uint64
	ConnectionID string
}

type timerKey struct {
	show  uint64
	label string
}

type lockTimer struct {
	holder uint64
	t      *time.Timer
}

// LockManager grants, extends and releases seat locks.  Contention is
// decided by the store's conditional update alone: when two holders race
// for the same seat exactly one wins and there is no fairness guarantee
// between them.
//
// Every successful lock arms an expiry timer for the seat.  A seat has at
// most one live holder, so timers are keyed by seat and remember the
// holder they were armed for.  Timers only shorten the time an abandoned
// lock stays visible; the Sweeper reclaims anything they miss.
type LockManager struct {
	store   SeatStore
	tracker *SessionTracker
	events  EventPublisher
	log     logrus.FieldLogger
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	timers map[timerKey]*lockTimer
	closed bool
}

// LockManagerOption customises a LockManager.
type LockManagerOption func(*LockManager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LockManagerOption {
	return func(m *LockManager) { m.now = now }
}

// NewLockManager wires a lock manager.  tracker and events may be nil.
func NewLockManager(store SeatStore, tracker *SessionTracker, events EventPublisher, log logrus.FieldLogger, ttl time.Duration, opts ...LockManagerOption) *LockManager {
	if events == nil {
		events = FanOut()
	}
	m := &LockManager{
		store:   store,
		tracker: tracker,
		events:  events,
		log:     log,
		ttl:     ttl,
		now:     time.Now,
		timers:  make(map[timerKey]*lockTimer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager's current time in UTC.
func (m *LockManager) Now() time.Time { return m.now().UTC() }

// TTL returns the lock time budget.
func (m *LockManager) TTL() time.Duration { return m.ttl }

// Lock acquires the seat for req.Holder, or refreshes the expiry when the
// holder already has it.
func (m *LockManager) Lock(ctx context.Context, req LockRequest) (model.Seat, error) {
	now := m.Now()
	seat, err := m.store.Lock(ctx, repository.LockParams{
		ShowID:    req.ShowID,
		Label:     req.Label,
		Holder:    req.Holder,
		Now:       now,
		ExpiresAt: now.Add(m.ttl),
	})
	if err != nil {
		m.logOutcome(err, "lock", req.ShowID, req.Label, req.Holder)
		return model.Seat{}, err
	}
	// A release racing this call can leave a stale timer or tracker entry.
	// Both are harmless: the timer release is conditional on holder and
	// expiry, and the hub drops events older than the seat's last version.
	m.arm(seat, req.Holder, now)
	if m.tracker != nil && req.ConnectionID != "" {
		m.tracker.Register(req.ConnectionID, req.Holder, req.ShowID, req.Label)
	}
	m.publish(ctx, seat)
	return seat, nil
}

// Extend refreshes a lock the holder already owns.  It is Lock under
// another name: extending a seat the caller does not hold acquires it if
// it is free.
func (m *LockManager) Extend(ctx context.Context, req LockRequest) (model.Seat, error) {
	return m.Lock(ctx, req)
}

// Unlock releases a seat locked by req.Holder.  When req.ConnectionID is
// set the seat is also dropped from that connection's record, even if the
// store refuses because the lock already ended some other way.
func (m *LockManager) Unlock(ctx context.Context, req UnlockRequest) (model.Seat, error) {
	seat, err := m.store.Unlock(ctx, req.ShowID, req.Label, req.Holder)
	if m.tracker != nil && req.ConnectionID != "" && (err == nil || IsDenial(err)) {
		m.tracker.Forget(req.ConnectionID, req.ShowID, req.Label)
	}
	if err != nil {
		m.logOutcome(err, "unlock", req.ShowID, req.Label, req.Holder)
		return model.Seat{}, err
	}
	m.Settle(ctx, []model.Seat{seat})
	return seat, nil
}

// Disconnect releases every seat recorded for a connection that went away.
func (m *LockManager) Disconnect(ctx context.Context, connectionID string) int {
	if m.tracker == nil {
		return 0
	}
	n := m.tracker.OnDisconnect(ctx, connectionID, m)
	if n > 0 {
		m.log.WithFields(logrus.Fields{"conn_id": connectionID, "released": n}).Info("released seats of closed connection")
	}
	return n
}

// Settle is called with seats whose lock ended by any path other than the
// manager's own timer.  It drops their timers and tracker entries and
// publishes their new state.
func (m *LockManager) Settle(ctx context.Context, seats []model.Seat) {
	for _, s := range seats {
		m.disarm(s.ShowID, s.Label)
		if m.tracker != nil {
			m.tracker.Release(s.ShowID, s.Label)
		}
		m.publish(ctx, s)
	}
}

// Close stops every pending timer.  Locks stay in the store and are
// reclaimed by the sweeper.
func (m *LockManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for k, lt := range m.timers {
		lt.t.Stop()
		delete(m.timers, k)
	}
}

// Pending returns the number of armed timers.
func (m *LockManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *LockManager) arm(seat model.Seat, holder uint64, now time.Time) {
	d := m.ttl
	if seat.LockExpiresAt != nil {
		d = seat.LockExpiresAt.Sub(now)
	}
	if d < 0 {
		d = 0
	}
	key := timerKey{seat.ShowID, seat.Label}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if old, ok := m.timers[key]; ok {
		old.t.Stop()
	}
	lt := &lockTimer{holder: holder}
	lt.t = time.AfterFunc(d, func() { m.expire(key, lt) })
	m.timers[key] = lt
}

func (m *LockManager) disarm(showID uint64, label string) {
	key := timerKey{showID, label}
	m.mu.Lock()
	defer m.mu.Unlock()
	if lt, ok := m.timers[key]; ok {
		lt.t.Stop()
		delete(m.timers, key)
	}
}

// expire runs when a lock timer fires.  The release is conditional on the
// seat still being locked by the same holder with an elapsed expiry, so a
// refresh or a new holder makes it a no-op.
func (m *LockManager) expire(key timerKey, lt *lockTimer) {
	m.mu.Lock()
	if cur, ok := m.timers[key]; !ok || cur != lt {
		m.mu.Unlock()
		return
	}
	delete(m.timers, key)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expiryReleaseTimeout)
	defer cancel()
	seat, changed, err := m.store.ReleaseExpired(ctx, key.show, key.label, lt.holder, m.Now())
	if err != nil {
		m.log.WithFields(logrus.Fields{"show_id": key.show, "seat": key.label, "holder_id": lt.holder}).
			WithError(err).Warn("expiry release failed; leaving seat to the sweeper")
		return
	}
	if !changed {
		return
	}
	if m.tracker != nil {
		m.tracker.Release(key.show, key.label)
	}
	m.log.WithFields(logrus.Fields{"show_id": key.show, "seat": key.label, "holder_id": lt.holder}).Debug("lock expired")
	m.publish(ctx, seat)
}

func (m *LockManager) publish(ctx context.Context, seat model.Seat) {
	m.events.Publish(ctx, seat.ShowID, model.NewSeatEvent(seat, m.Now()))
}

func (m *LockManager) logOutcome(err error, op string, showID uint64, label string, holder uint64) {
	entry := m.log.WithFields(logrus.Fields{"op": op, "show_id": showID, "seat": label, "holder_id": holder}).WithError(err)
	if IsDenial(err) {
		entry.Debug("seat request denied")
		return
	}
	entry.Error("seat request failed")
}
