package utils // package utils provides helpers for token creation and parsing

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// NewAccessToken builds and signs an HS256 JWT whose subject is the holder
// id.  Tokens are issued by the identity service in production; this is
// used by tests and the devtoken command.
func NewAccessToken(secret string, userID uint64, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(userID, 10),
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// SubjectID reads the sub claim as a positive holder id.  Both string and
// numeric subjects are accepted.
func SubjectID(claims jwt.MapClaims) (uint64, error) {
	var (
		id  uint64
		err error
	)
	switch v := claims["sub"].(type) {
	case string:
		id, err = strconv.ParseUint(v, 10, 64)
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			err = fmt.Errorf("non-integer subject %v", v)
		}
		id = uint64(v)
	default:
		err = errors.New("missing subject")
	}
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("zero subject")
	}
	return id, nil
}
