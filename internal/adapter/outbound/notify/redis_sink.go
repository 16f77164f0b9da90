package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "aipolicy:notifications"

// Publisher is the subset of the go-redis client RedisSink uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes notifications as JSON on a pub/sub channel.
type RedisSink struct {
	client  Publisher
	channel string
	closer  func() error
}

// NewRedisSink connects to addr. The connection is lazy; the first publish
// reports an unreachable server.
func NewRedisSink(addr, password string, db int, channel string) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	s := NewRedisSinkWithClient(client, channel)
	s.closer = client.Close
	return s
}

// NewRedisSinkWithClient publishes through an existing client.
func NewRedisSinkWithClient(client Publisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Emit publishes n. Having no subscribers is not an error.
func (s *RedisSink) Emit(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

// Channel returns the pub/sub channel.
func (s *RedisSink) Channel() string {
	return s.channel
}

// Close closes a client created by NewRedisSink.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

var _ notify.Sink = (*RedisSink)(nil)
