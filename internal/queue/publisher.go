package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// BookingQueue is the durable queue carrying BookingConfirmedEvent.
const BookingQueue = "booking.confirmed"

// BookingPublisher publishes booking confirmations to RabbitMQ.  Each call
// dials the broker, so a broker outage never blocks the seat path; the
// caller is expected to log and drop failures.
type BookingPublisher struct {
	url string
}

// NewBookingPublisher returns a publisher for the broker at url.
func NewBookingPublisher(url string) *BookingPublisher {
	return &BookingPublisher{url: url}
}

// BookingConfirmed publishes the confirmation for b.
func (p *BookingPublisher) BookingConfirmed(ctx context.Context, b *model.Booking) error {
	return p.Publish(ctx, NewBookingConfirmedEvent(b))
}

// Publish sends event to the booking.confirmed queue as a persistent
// message.
func (p *BookingPublisher) Publish(ctx context.Context, event BookingConfirmedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal booking event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(BookingQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", BookingQueue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
