// Package realtime fans seat events out to the viewers of a show.
package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// DefaultBuffer is the per-connection queue length used when none is
// configured.
const DefaultBuffer = 64

// Client is one connection's view of the hub.  Events yields the seat
// events of every subscribed show and is closed when the client is
// unregistered or evicted.
type Client struct {
	id      string
	send    chan model.SeatEvent
	shows   map[uint64]struct{}
	evicted bool
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Events returns the client's queue.
func (c *Client) Events() <-chan model.SeatEvent { return c.send }

type seatKey struct {
	show  uint64
	label string
}

// Hub routes events to subscribed clients.  Publish never blocks: a client
// whose queue is full is evicted, its queue closed, and the transport is
// expected to drop the connection so the viewer reloads the seat map.
//
// The hub remembers the last version delivered for every seat and drops
// events that are not newer, so each seat's transitions reach every viewer
// in commit order even when publishers race.
type Hub struct {
	mu       sync.Mutex
	clients  map[string]*Client
	shows    map[uint64]map[string]*Client
	versions map[seatKey]uint64
	buffer   int
	log      logrus.FieldLogger
}

// NewHub returns an empty hub.
func NewHub(buffer int, log logrus.FieldLogger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		clients:  make(map[string]*Client),
		shows:    make(map[uint64]map[string]*Client),
		versions: make(map[seatKey]uint64),
		buffer:   buffer,
		log:      log,
	}
}

// Register creates the client for conn, replacing an earlier one.
func (h *Hub) Register(conn string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[conn]; ok {
		h.dropLocked(old)
	}
	c := &Client{id: conn, send: make(chan model.SeatEvent, h.buffer), shows: make(map[uint64]struct{})}
	h.clients[conn] = c
	return c
}

// Subscribe adds conn to the viewers of show.  It reports false when conn
// is not registered.
func (h *Hub) Subscribe(conn string, showID uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[conn]
	if !ok {
		return false
	}
	viewers, ok := h.shows[showID]
	if !ok {
		viewers = make(map[string]*Client)
		h.shows[showID] = viewers
	}
	viewers[conn] = c
	c.shows[showID] = struct{}{}
	return true
}

// Unsubscribe removes conn from the viewers of show.
func (h *Hub) Unsubscribe(conn string, showID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[conn]; ok {
		delete(c.shows, showID)
	}
	h.leaveLocked(conn, showID)
}

// Unregister removes conn and closes its queue.
func (h *Hub) Unregister(conn string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[conn]; ok {
		h.dropLocked(c)
	}
}

// Viewers returns the number of clients subscribed to show.
func (h *Hub) Viewers(showID uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.shows[showID])
}

// Publish delivers ev to every viewer of show.
func (h *Hub) Publish(_ context.Context, showID uint64, ev model.SeatEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := seatKey{showID, ev.SeatLabel}
	if last, ok := h.versions[key]; ok && ev.Version <= last {
		return
	}
	h.versions[key] = ev.Version

	for _, c := range h.shows[showID] {
		select {
		case c.send <- ev:
		default:
			h.log.WithFields(logrus.Fields{"conn_id": c.id, "show_id": showID}).Warn("subscriber queue full; evicting")
			h.dropLocked(c)
		}
	}
}

// dropLocked removes c from every index and closes its queue.  h.mu must
// be held.
func (h *Hub) dropLocked(c *Client) {
	if c.evicted {
		return
	}
	c.evicted = true
	for show := range c.shows {
		h.leaveLocked(c.id, show)
	}
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	close(c.send)
}

func (h *Hub) leaveLocked(conn string, showID uint64) {
	viewers, ok := h.shows[showID]
	if !ok {
		return
	}
	delete(viewers, conn)
	if len(viewers) == 0 {
		delete(h.shows, showID)
	}
}
