package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/realtime"
	"github.com/iliyamo/cinema-seat-locking/internal/service"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 4096
	wsReplyBuffer    = 16
)

// Client message types.
const (
	msgJoin   = "join"
	msgLeave  = "leave"
	msgLock   = "lock"
	msgExtend = "extend"
	msgUnlock = "unlock"
)

// Server message types.
const (
	msgSeat   = "seat"
	msgResult = "result"
)

type wsInbound struct {
	Type   string `json:"type"`
	Ref    string `json:"ref,omitempty"`
	ShowID uint64 `json:"show_id"`
	Seat   string `json:"seat,omitempty"`
}

type wsOutbound struct {
	Type  string           `json:"type"`
	Ref   string           `json:"ref,omitempty"`
	OK    bool             `json:"ok"`
	Error string           `json:"error,omitempty"`
	Seat  *seatView        `json:"seat,omitempty"`
	Seats []seatView       `json:"seats,omitempty"`
	Event *model.SeatEvent `json:"event,omitempty"`
}

// WSHandler serves GET /v1/ws.  Each socket is one connection identity for
// the hub and the session tracker; closing it releases every seat it
// locked.
type WSHandler struct {
	Hub      *realtime.Hub
	Locks    *service.LockManager
	Seats    SeatMapReader
	Log      logrus.FieldLogger
	Upgrader websocket.Upgrader
}

// NewWSHandler builds a WebSocket handler.  Origin checks are left to the
// reverse proxy.
func NewWSHandler(hub *realtime.Hub, locks *service.LockManager, seats SeatMapReader, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		Hub:   hub,
		Locks: locks,
		Seats: seats,
		Log:   log,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type wsSession struct {
	h       *WSHandler
	ws      *websocket.Conn
	connID  string
	holder  uint64
	log     logrus.FieldLogger
	replies chan wsOutbound
	done    chan struct{} // closed when the writer exits
}

// Serve upgrades the request and runs the socket until either side closes.
func (h *WSHandler) Serve(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ws, err := h.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // the upgrader already replied
	}

	connID := uuid.NewString()
	s := &wsSession{
		h:       h,
		ws:      ws,
		connID:  connID,
		holder:  userID,
		log:     h.Log.WithFields(logrus.Fields{"conn_id": connID, "holder_id": userID}),
		replies: make(chan wsOutbound, wsReplyBuffer),
		done:    make(chan struct{}),
	}
	client := h.Hub.Register(connID)
	s.log.Debug("websocket connected")

	stop := make(chan struct{})
	go s.writeLoop(client, stop)
	ctx := context.WithoutCancel(c.Request().Context())
	s.readLoop(ctx)

	close(stop)
	h.Hub.Unregister(connID)
	<-s.done
	released := h.Locks.Disconnect(ctx, connID)
	s.log.WithField("released", released).Debug("websocket closed")
	return nil
}

func (s *wsSession) readLoop(ctx context.Context) {
	s.ws.SetReadLimit(wsMaxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var in wsInbound
		if err := s.ws.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
		if !s.reply(s.handle(ctx, in)) {
			return
		}
	}
}

func (s *wsSession) handle(ctx context.Context, in wsInbound) wsOutbound {
	out := wsOutbound{Type: msgResult, Ref: in.Ref}
	if in.ShowID == 0 {
		out.Error = "show_id is required"
		return out
	}
	switch in.Type {
	case msgJoin:
		if !s.h.Hub.Subscribe(s.connID, in.ShowID) {
			out.Error = "connection closed"
			return out
		}
		seats, err := s.h.Seats.SeatMap(ctx, in.ShowID)
		if err != nil {
			_, out.Error = errorStatus(err)
			return out
		}
		out.OK, out.Seats = true, seatViews(seats, s.holder)
	case msgLeave:
		s.h.Hub.Unsubscribe(s.connID, in.ShowID)
		out.OK = true
	case msgLock, msgExtend, msgUnlock:
		if in.Seat == "" {
			out.Error = "seat is required"
			return out
		}
		var (
			seat model.Seat
			err  error
		)
		switch in.Type {
		case msgLock:
			seat, err = s.h.Locks.Lock(ctx, service.LockRequest{ShowID: in.ShowID, Label: in.Seat, Holder: s.holder, ConnectionID: s.connID})
		case msgExtend:
			seat, err = s.h.Locks.Extend(ctx, service.LockRequest{ShowID: in.ShowID, Label: in.Seat, Holder: s.holder, ConnectionID: s.connID})
		default:
			seat, err = s.h.Locks.Unlock(ctx, service.UnlockRequest{ShowID: in.ShowID, Label: in.Seat, Holder: s.holder, ConnectionID: s.connID})
		}
		if err != nil {
			_, out.Error = errorStatus(err)
			return out
		}
		v := newSeatView(seat, s.holder)
		out.OK, out.Seat = true, &v
	default:
		out.Error = "unknown message type"
	}
	return out
}

// reply hands out to the writer.  It reports false once the writer is gone.
func (s *wsSession) reply(out wsOutbound) bool {
	select {
	case s.replies <- out:
		return true
	case <-s.done:
		return false
	}
}

// writeLoop is the only goroutine writing to the socket.
func (s *wsSession) writeLoop(client *realtime.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
		close(s.done)
	}()
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				s.log.Info("websocket evicted by hub")
				s.closeWith(websocket.ClosePolicyViolation, "too slow, reload the seat map")
				return
			}
			if err := s.write(wsOutbound{Type: msgSeat, OK: true, Event: &ev}); err != nil {
				return
			}
		case out := <-s.replies:
			if err := s.write(out); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			s.closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (s *wsSession) write(out wsOutbound) error {
	_ = s.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.ws.WriteJSON(out)
}

func (s *wsSession) closeWith(code int, text string) {
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}
