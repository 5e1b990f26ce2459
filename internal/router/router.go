package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-locking/internal/handler"
	"github.com/iliyamo/cinema-seat-locking/internal/middleware"
)

// RegisterRoutes registers the health check.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterSeats registers the seat map, lock, booking and WebSocket
// endpoints.  The seat map is public; everything else requires a valid
// access token.  limiter guards the lock endpoints only.
func RegisterSeats(e *echo.Echo, h *handler.SeatHandler, ws *handler.WSHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	e.GET("/v1/shows/:id/seats", h.SeatMap, middleware.OptionalJWT(jwtSecret))

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	lock := auth.Group("/shows/:id/seats/:label/lock", limiter)
	lock.POST("", h.Lock)
	lock.PUT("", h.Extend)
	lock.DELETE("", h.Unlock)

	auth.POST("/shows/:id/bookings", h.Finalize)
	auth.POST("/shows/:id/rollback", h.Rollback)
	auth.GET("/bookings/:id", h.GetBooking)
	auth.GET("/ws", ws.Serve)
}
