package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
)

const publishTimeout = 2 * time.Second

// RedisSink publishes events to a Redis channel so external consumers
// (dashboards, audit pipelines) can subscribe to run lifecycles.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink creates a sink over the given Redis URL.
func NewRedisSink(url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channel = "loom.events"
	}
	return &RedisSink{
		client:  redis.NewClient(opts),
		channel: channel,
	}, nil
}

// Emit implements Sink. Publish failures are logged at warn and
// swallowed.
func (s *RedisSink) Emit(ctx context.Context, name string, payload map[string]any) {
	body, err := json.Marshal(map[string]any{
		"event":   name,
		"payload": payload,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.Warn(ctx, "failed to encode event", tag.Event(name), tag.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.client.Publish(pubCtx, s.channel, body).Err(); err != nil {
		logger.Warn(ctx, "failed to publish event", tag.Event(name), tag.Error(err))
	}
}

// Close releases the underlying Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
