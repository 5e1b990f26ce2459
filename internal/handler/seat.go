package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-locking/internal/middleware"
	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/service"
)

// SeatMapReader reads the seats of a show.
type SeatMapReader interface {
	SeatMap(ctx context.Context, showID uint64) ([]model.Seat, error)
}

// BookingReader reads a booking owned by a user.
type BookingReader interface {
	GetByIDForUser(ctx context.Context, bookingID, userID uint64) (*model.Booking, error)
}

// SeatHandler exposes the seat locking core over REST.
type SeatHandler struct {
	Seats     SeatMapReader
	Locks     *service.LockManager
	Finalizer *service.Finalizer
	Bookings  BookingReader
}

// NewSeatHandler constructs a SeatHandler and panics if any dependency is
// nil.
func NewSeatHandler(seats SeatMapReader, locks *service.LockManager, finalizer *service.Finalizer, bookings BookingReader) *SeatHandler {
	if seats == nil || locks == nil || finalizer == nil || bookings == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	return &SeatHandler{Seats: seats, Locks: locks, Finalizer: finalizer, Bookings: bookings}
}

// SeatMap handles GET /v1/shows/:id/seats.  Authentication is optional;
// authenticated callers see which locked seats are theirs.
func (h *SeatHandler) SeatMap(c echo.Context) error {
	showID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	seats, err := h.Seats.SeatMap(c.Request().Context(), showID)
	if err != nil {
		return writeError(c, err)
	}
	if len(seats) == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
	}
	viewer, _ := middleware.UserID(c)
	return c.JSON(http.StatusOK, echo.Map{"show_id": showID, "seats": seatViews(seats, viewer)})
}

// Lock handles POST /v1/shows/:id/seats/:label/lock.
func (h *SeatHandler) Lock(c echo.Context) error {
	return h.lock(c, http.StatusCreated, h.Locks.Lock)
}

// Extend handles PUT /v1/shows/:id/seats/:label/lock.
func (h *SeatHandler) Extend(c echo.Context) error {
	return h.lock(c, http.StatusOK, h.Locks.Extend)
}

func (h *SeatHandler) lock(c echo.Context, okStatus int, op func(context.Context, service.LockRequest) (model.Seat, error)) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := parseID(c, "id")
	if !ok || c.Param("label") == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat"})
	}
	seat, err := op(c.Request().Context(), service.LockRequest{ShowID: showID, Label: c.Param("label"), Holder: userID})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(okStatus, newSeatView(seat, userID))
}

// Unlock handles DELETE /v1/shows/:id/seats/:label/lock.
func (h *SeatHandler) Unlock(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := parseID(c, "id")
	if !ok || c.Param("label") == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat"})
	}
	seat, err := h.Locks.Unlock(c.Request().Context(), service.UnlockRequest{ShowID: showID, Label: c.Param("label"), Holder: userID})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newSeatView(seat, userID))
}

type finalizeBody struct {
	Seats   []string              `json:"seats"`
	Payment model.PaymentEvidence `json:"payment"`
}

type bookingView struct {
	ID             uint64    `json:"id"`
	ShowID         uint64    `json:"show_id"`
	Seats          []string  `json:"seats"`
	AmountCents    uint32    `json:"amount_cents"`
	PaymentOrderID string    `json:"payment_order_id"`
	PaymentID      string    `json:"payment_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func newBookingView(b *model.Booking) bookingView {
	return bookingView{
		ID:             b.ID,
		ShowID:         b.ShowID,
		Seats:          b.SeatLabels,
		AmountCents:    b.AmountCents,
		PaymentOrderID: b.PaymentOrderID,
		PaymentID:      b.PaymentID,
		CreatedAt:      b.CreatedAt,
	}
}

// Finalize handles POST /v1/shows/:id/bookings.  The body names the held
// seats and carries the payment evidence.
func (h *SeatHandler) Finalize(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	var body finalizeBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	b, err := h.Finalizer.Finalize(c.Request().Context(), service.FinalizeRequest{
		ShowID:  showID,
		Labels:  body.Seats,
		Holder:  userID,
		Payment: body.Payment,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, newBookingView(b))
}

type rollbackBody struct {
	Seats []string `json:"seats"`
}

// Rollback handles POST /v1/shows/:id/rollback after a failed payment.
func (h *SeatHandler) Rollback(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	var body rollbackBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	seats, err := h.Finalizer.RollbackOnFailedPayment(c.Request().Context(), service.RollbackRequest{
		ShowID: showID,
		Labels: body.Seats,
		Holder: userID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": seatViews(seats, userID)})
}

// GetBooking handles GET /v1/bookings/:id.
func (h *SeatHandler) GetBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	b, err := h.Bookings.GetByIDForUser(c.Request().Context(), id, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newBookingView(b))
}
