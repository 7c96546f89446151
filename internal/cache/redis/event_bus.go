package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

// eventStreamMaxLen bounds the durable event stream via XADD MAXLEN ~.
const eventStreamMaxLen int64 = 10000

// EventBus implements domain.EventSink. Events go to a Pub/Sub channel for
// live consumers and to a capped stream for dashboards that catch up later.
type EventBus struct {
	rdb     *redis.Client
	channel string
	stream  string
}

// NewEventBus creates an EventBus publishing on the given channel and stream
// names.
func NewEventBus(c *Client, channel, stream string) *EventBus {
	return &EventBus{
		rdb:     c.Underlying(),
		channel: channel,
		stream:  stream,
	}
}

// Publish fans the event out to the channel and the stream.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", ev.Type, err)
	}

	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", ev.Type, err)
	}

	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":    string(ev.Type),
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append event %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe returns a channel of decoded events for live consumers. The
// subscription closes with the context.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Compile-time interface check.
var _ domain.EventSink = (*EventBus)(nil)
