package queue

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

func TestWriteBookingLine(t *testing.T) {
	b := &model.Booking{
		ID:             12,
		UserID:         42,
		ShowID:         1,
		SeatLabels:     []string{"C7", "C8"},
		AmountCents:    2400,
		PaymentOrderID: "ord_81",
		PaymentID:      "pay_19",
		CreatedAt:      time.Date(2026, 3, 1, 18, 4, 0, 0, time.FixedZone("CET", 3600)),
	}
	ev := NewBookingConfirmedEvent(b)
	assert.Equal(t, "2026-03-01T17:04:00Z", ev.ConfirmedAt)

	var buf bytes.Buffer
	require.NoError(t, WriteBookingLine(&buf, ev))
	assert.Equal(t,
		"[2026-03-01T17:04:00Z] Booking confirmed | booking_id=12 | user_id=42 | show_id=1 | total=2400 cents | order=ord_81 | seats=[C7,C8]\n",
		buf.String())

	// the event owns its label slice
	b.SeatLabels[0] = "Z9"
	assert.Equal(t, "C7", ev.SeatLabels[0])
}

func TestBookingConsumer_HandleAppendsLine(t *testing.T) {
	path := t.TempDir() + "/logs/booking.log"
	c := NewBookingConsumer("", path, nil)

	body := []byte(`{"booking_id":1,"user_id":2,"show_id":3,"seats":["A1"],"amount_cents":500,"payment_order_id":"o","payment_id":"p","confirmed_at":"2026-03-01T17:04:00Z"}`)
	require.NoError(t, c.handle(body))
	require.NoError(t, c.handle(body))
	assert.Error(t, c.handle([]byte("not json")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("Booking confirmed")))
}
