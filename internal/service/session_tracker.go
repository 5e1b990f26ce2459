package service

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// SeatRef names one seat of one show.
type SeatRef struct {
	ShowID uint64
	Label  string
}

// Releaser unlocks a seat on behalf of a connection.  LockManager
// implements it.
type Releaser interface {
	Unlock(ctx context.Context, req UnlockRequest) (model.Seat, error)
}

type session struct {
	holder uint64
	shows  map[uint64]map[string]struct{}
}

// SessionTracker remembers which seats each live connection has locked so
// they can be released when the connection goes away.  It holds no seat
// state of its own; the store stays authoritative.
type SessionTracker struct {
	mu     sync.Mutex
	conns  map[string]*session
	owners map[SeatRef]string
	log    logrus.FieldLogger
}

// NewSessionTracker returns an empty tracker.
func NewSessionTracker(log logrus.FieldLogger) *SessionTracker {
	return &SessionTracker{
		conns:  make(map[string]*session),
		owners: make(map[SeatRef]string),
		log:    log,
	}
}

// Register records that conn, acting for holder, locked the seat.  A seat
// recorded under another connection is moved to conn.
func (t *SessionTracker) Register(conn string, holder, showID uint64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref := SeatRef{showID, label}
	if prev, ok := t.owners[ref]; ok && prev != conn {
		t.removeLocked(prev, ref)
	}
	s, ok := t.conns[conn]
	if !ok {
		s = &session{holder: holder, shows: make(map[uint64]map[string]struct{})}
		t.conns[conn] = s
	}
	s.holder = holder
	labels, ok := s.shows[showID]
	if !ok {
		labels = make(map[string]struct{})
		s.shows[showID] = labels
	}
	labels[label] = struct{}{}
	t.owners[ref] = conn
}

// Forget drops the seat from conn's record.
func (t *SessionTracker) Forget(conn string, showID uint64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref := SeatRef{showID, label}
	if t.owners[ref] == conn {
		delete(t.owners, ref)
	}
	t.removeLocked(conn, ref)
}

// Release drops the seat from whichever connection recorded it.
func (t *SessionTracker) Release(showID uint64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref := SeatRef{showID, label}
	conn, ok := t.owners[ref]
	if !ok {
		return
	}
	delete(t.owners, ref)
	t.removeLocked(conn, ref)
}

// Seats returns the seats recorded for conn ordered by show and label.
func (t *SessionTracker) Seats(conn string) []SeatRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.conns[conn]
	if !ok {
		return nil
	}
	return s.refs()
}

// OnDisconnect unlocks every seat recorded for conn through r and discards
// the record.  Failures are logged and the remaining seats are still
// attempted; the sweeper reclaims whatever is left.  It returns the number
// of seats released.
func (t *SessionTracker) OnDisconnect(ctx context.Context, conn string, r Releaser) int {
	t.mu.Lock()
	s, ok := t.conns[conn]
	if ok {
		delete(t.conns, conn)
		for show, labels := range s.shows {
			for l := range labels {
				ref := SeatRef{show, l}
				if t.owners[ref] == conn {
					delete(t.owners, ref)
				}
			}
		}
	}
	t.mu.Unlock()
	if !ok {
		return 0
	}

	released := 0
	for _, ref := range s.refs() {
		_, err := r.Unlock(ctx, UnlockRequest{ShowID: ref.ShowID, Label: ref.Label, Holder: s.holder})
		if err != nil {
			entry := t.log.WithFields(logrus.Fields{"conn_id": conn, "show_id": ref.ShowID, "seat": ref.Label}).WithError(err)
			if IsDenial(err) {
				entry.Debug("disconnect release skipped")
			} else {
				entry.Warn("disconnect release failed")
			}
			continue
		}
		released++
	}
	return released
}

// removeLocked deletes ref from conn's set and drops empty containers.
// t.mu must be held.
func (t *SessionTracker) removeLocked(conn string, ref SeatRef) {
	s, ok := t.conns[conn]
	if !ok {
		return
	}
	labels, ok := s.shows[ref.ShowID]
	if !ok {
		return
	}
	delete(labels, ref.Label)
	if len(labels) == 0 {
		delete(s.shows, ref.ShowID)
	}
	if len(s.shows) == 0 {
		delete(t.conns, conn)
	}
}

func (s *session) refs() []SeatRef {
	refs := make([]SeatRef, 0)
	for show, labels := range s.shows {
		for l := range labels {
			refs = append(refs, SeatRef{show, l})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ShowID != refs[j].ShowID {
			return refs[i].ShowID < refs[j].ShowID
		}
		return refs[i].Label < refs[j].Label
	})
	return refs
}
