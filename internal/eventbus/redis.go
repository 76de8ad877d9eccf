package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helixsec/studio-go/pkg/types"
)

const eventChannel = "studio:events"

// RedisBridge relays execution events between the local bus and a
// Redis pub/sub channel, so events from an external engine instance
// reach this console and locally produced events reach others.
type RedisBridge struct {
	client *redis.Client
	bus    *Bus
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(addr string, bus *Bus, logger *slog.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{client: client, bus: bus, logger: logger}, nil
}

// Start begins relaying inbound channel messages into the local bus.
func (rb *RedisBridge) Start(ctx context.Context) {
	ctx, rb.cancel = context.WithCancel(ctx)
	rb.done = make(chan struct{})

	pubsub := rb.client.Subscribe(ctx, eventChannel)

	go func() {
		defer close(rb.done)
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
				var e types.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					rb.logger.Warn("discarding malformed event from redis", "error", err)
					continue
				}
				rb.bus.Publish(e)
			}
		}
	}()
}

// Forward publishes a locally produced event to the shared channel.
func (rb *RedisBridge) Forward(ctx context.Context, e types.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := rb.client.Publish(ctx, eventChannel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close stops the relay and releases the Redis connection.
func (rb *RedisBridge) Close() error {
	if rb.cancel != nil {
		rb.cancel()
		<-rb.done
	}
	return rb.client.Close()
}
