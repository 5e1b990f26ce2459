package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-locking/internal/middleware"
	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/repository"
	"github.com/iliyamo/cinema-seat-locking/internal/service"
)

// seatView is the JSON form of a seat.  The holder id is only revealed to
// the holder.
type seatView struct {
	ShowID     uint64           `json:"show_id"`
	Label      string           `json:"label"`
	Row        uint32           `json:"row"`
	Col        uint32           `json:"col"`
	Status     model.SeatStatus `json:"status"`
	Mine       bool             `json:"mine,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	PriceCents uint32           `json:"price_cents"`
	Version    uint64           `json:"version"`
}

func newSeatView(s model.Seat, viewer uint64) seatView {
	v := seatView{
		ShowID:     s.ShowID,
		Label:      s.Label,
		Row:        s.Row,
		Col:        s.Col,
		Status:     s.Status,
		PriceCents: s.PriceCents,
		Version:    s.Version,
	}
	if s.Status == model.SeatLocked {
		v.ExpiresAt = s.LockExpiresAt
		v.Mine = viewer != 0 && s.HeldBy(viewer)
	}
	return v
}

func seatViews(seats []model.Seat, viewer uint64) []seatView {
	out := make([]seatView, 0, len(seats))
	for _, s := range seats {
		out = append(out, newSeatView(s, viewer))
	}
	return out
}

// errorStatus maps core errors to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrSeatHeld), errors.Is(err, repository.ErrSeatBooked):
		return http.StatusConflict, "seat unavailable, pick another"
	case errors.Is(err, repository.ErrSeatNotFound):
		return http.StatusNotFound, "seat not found"
	case errors.Is(err, repository.ErrNotHolder):
		return http.StatusForbidden, "seat is not locked by you"
	case errors.Is(err, repository.ErrSeatsNotHeld):
		return http.StatusConflict, "some of your seats expired, please reselect and retry"
	case errors.Is(err, repository.ErrAmountMismatch):
		return http.StatusConflict, "paid amount does not match the seat prices"
	case errors.Is(err, repository.ErrPaymentReused):
		return http.StatusConflict, "this payment was already used for another booking"
	case errors.Is(err, service.ErrPaymentNotVerified):
		return http.StatusPaymentRequired, "payment could not be verified"
	case errors.Is(err, service.ErrNoSeats):
		return http.StatusBadRequest, "no seats given"
	case errors.Is(err, repository.ErrBookingNotFound):
		return http.StatusNotFound, "booking not found"
	case errors.Is(err, repository.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable, please retry"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(c echo.Context, err error) error {
	status, msg := errorStatus(err)
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, echo.Map{"error": msg})
}

// getUserID extracts the authenticated holder id.
func getUserID(c echo.Context) (uint64, error) {
	if uid, ok := middleware.UserID(c); ok {
		return uid, nil
	}
	return 0, errors.New("invalid user_id in context")
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
