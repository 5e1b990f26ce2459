package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// MessageWriter is the subset of *kafka.Writer used by SeatAudit.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SeatAudit appends every seat transition to a Kafka topic.  Messages are
// keyed by "show:seat" so one seat's history stays in one partition and
// therefore in order.
type SeatAudit struct {
	w   MessageWriter
	log logrus.FieldLogger
}

// NewSeatAudit returns an audit stream writing asynchronously to topic on
// the comma separated brokers.
func NewSeatAudit(brokers, topic string, log logrus.FieldLogger) *SeatAudit {
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.WithError(err).WithField("messages", len(msgs)).Warn("seat audit write failed")
			}
		},
	}
	return NewSeatAuditWithWriter(w, log)
}

// NewSeatAuditWithWriter wraps an existing writer.
func NewSeatAuditWithWriter(w MessageWriter, log logrus.FieldLogger) *SeatAudit {
	return &SeatAudit{w: w, log: log}
}

// Publish records ev.  Failures are logged and never reach the caller.
func (a *SeatAudit) Publish(ctx context.Context, showID uint64, ev model.SeatEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		a.log.WithError(err).Error("encode seat audit event")
		return
	}
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d:%s", showID, ev.SeatLabel)),
		Value: body,
		Time:  ev.At,
	}
	if err := a.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{"show_id": showID, "seat": ev.SeatLabel}).Warn("seat audit write failed")
	}
}

// Close flushes pending messages.
func (a *SeatAudit) Close() error { return a.w.Close() }
