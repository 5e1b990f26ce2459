package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

const channelPrefix = "seats:show:"

// ShowChannel returns the Pub/Sub channel carrying a show's seat events.
func ShowChannel(showID uint64) string {
	return channelPrefix + strconv.FormatUint(showID, 10)
}

// RedisRelay shares seat events between server processes.  Publish sends
// an event to Redis instead of the local hub; Run feeds everything
// received from Redis, including this process's own events, into the hub.
type RedisRelay struct {
	rdb   *redis.Client
	hub   *Hub
	log   logrus.FieldLogger
	ready chan struct{}
}

// NewRedisRelay binds a relay to a Redis client and the local hub.
func NewRedisRelay(rdb *redis.Client, hub *Hub, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{rdb: rdb, hub: hub, log: log, ready: make(chan struct{})}
}

// Ready is closed once Run holds its subscription.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Publish sends ev to every process.  When Redis refuses the event it is
// delivered to the local hub only.
func (r *RedisRelay) Publish(ctx context.Context, showID uint64, ev model.SeatEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		r.log.WithError(err).Error("encode seat event")
		return
	}
	if err := r.rdb.Publish(ctx, ShowChannel(showID), body).Err(); err != nil {
		r.log.WithError(err).WithField("show_id", showID).Warn("redis publish failed; delivering locally")
		r.hub.Publish(ctx, showID, ev)
	}
}

// Run subscribes to every show channel and forwards events to the hub
// until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	close(r.ready)
	r.log.Info("redis seat relay subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg)
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, msg *redis.Message) {
	showID, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, channelPrefix), 10, 64)
	if err != nil {
		r.log.WithField("channel", msg.Channel).Warn("ignoring message on unexpected channel")
		return
	}
	var ev model.SeatEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		r.log.WithError(err).WithField("channel", msg.Channel).Warn("ignoring malformed seat event")
		return
	}
	r.hub.Publish(ctx, showID, ev)
}
