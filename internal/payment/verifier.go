// Package payment checks payment evidence returned by the provider.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// ErrNoSecret is returned when the verifier was built without a secret.
var ErrNoSecret = errors.New("payment webhook secret not configured")

// HMACVerifier accepts evidence whose signature is the HMAC-SHA256 of
// "order_id|payment_id|amount_cents" under the shared webhook secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier returns a verifier for secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify reports whether ev carries a valid signature.
func (v *HMACVerifier) Verify(_ context.Context, ev model.PaymentEvidence) (bool, error) {
	if len(v.secret) == 0 {
		return false, ErrNoSecret
	}
	if ev.OrderID == "" || ev.PaymentID == "" {
		return false, nil
	}
	got, err := hex.DecodeString(ev.Signature)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(got, mac(v.secret, ev)), nil
}

// Sign returns the hex signature the provider would attach to ev.
func Sign(secret string, ev model.PaymentEvidence) string {
	return hex.EncodeToString(mac([]byte(secret), ev))
}

func mac(secret []byte, ev model.PaymentEvidence) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ev.OrderID + "|" + ev.PaymentID + "|" + strconv.FormatUint(uint64(ev.AmountCents), 10)))
	return h.Sum(nil)
}
