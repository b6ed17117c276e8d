package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the part of a redis client the relay needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisRelay forwards dispatched events to a redis pub/sub channel.
type RedisRelay struct {
	client  Publisher
	channel string
}

// NewRedisRelay subscribes a relay to every event type on d.
func NewRedisRelay(d Dispatcher, client Publisher, channel string) *RedisRelay {
	relay := &RedisRelay{client: client, channel: channel}
	SubscribeAll(d, relay.Handle)
	return relay
}

// Handle publishes the JSON encoding of event.
func (r *RedisRelay) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay event to %s: %w", r.channel, err)
	}
	return nil
}
