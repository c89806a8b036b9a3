package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// NotificationQueue is the Redis list the delivery service consumes.
const NotificationQueue = "billing:notifications"

type envelope struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Event     `json:"payload"`
}

// RedisNotifier forwards events to the notification delivery queue.
type RedisNotifier struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, now: time.Now}
}

// Handle is a Bus handler.
func (n *RedisNotifier) Handle(ctx context.Context, e Event) error {
	data, err := json.Marshal(envelope{Event: e.EventName(), OccurredAt: n.now(), Payload: e})
	if err != nil {
		return err
	}
	if err := n.rdb.RPush(ctx, NotificationQueue, data).Err(); err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}
