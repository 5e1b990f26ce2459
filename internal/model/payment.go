package model

// PaymentEvidence is what the client forwards from the payment provider
// after checkout.  Signature is the provider's hex encoded HMAC over the
// order id, payment id and amount.
type PaymentEvidence struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	AmountCents uint32 `json:"amount_cents"`
	Signature   string `json:"signature"`
}
