package middleware // reusable HTTP middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-locking/internal/utils"
)

// UserIDKey is the echo context key holding the authenticated holder id as
// a uint64.
const UserIDKey = "user_id"

// JWTAuth returns an Echo middleware that validates an HS256 access token
// and stores its subject under UserIDKey.  The token is read from the
// Authorization header ("Bearer <jwt>") or, for WebSocket upgrades where
// browsers cannot set headers, from the "token" query parameter.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			uid, msg := parseSubject(raw, secret)
			if msg != "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
			}
			c.Set(UserIDKey, uid)
			return next(c)
		}
	}
}

// OptionalJWT identifies the caller when a valid token is present and lets
// every request through.  Public endpoints use it to personalise replies.
func OptionalJWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if raw := bearerToken(c); raw != "" {
				if uid, msg := parseSubject(raw, secret); msg == "" {
					c.Set(UserIDKey, uid)
				}
			}
			return next(c)
		}
	}
}

// parseSubject validates raw and returns its holder id, or a client
// message describing why it was rejected.
func parseSubject(raw, secret string) (uint64, string) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return 0, "invalid token"
	}
	uid, err := utils.SubjectID(claims)
	if err != nil {
		return 0, "invalid claims"
	}
	return uid, ""
}

func bearerToken(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return c.QueryParam("token")
}

// UserID returns the authenticated holder id.
func UserID(c echo.Context) (uint64, bool) {
	uid, ok := c.Get(UserIDKey).(uint64)
	return uid, ok
}
