package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 5 * time.Second

// NewRedisClient creates a Redis client from a URL and verifies it.
func NewRedisClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultRedisTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultRedisTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultRedisTimeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// RedisSubscriber publishes events to a Redis pub/sub channel.
type RedisSubscriber struct {
	client  goredis.UniversalClient
	channel string
}

// NewRedisSubscriber creates a subscriber publishing to channel.
func NewRedisSubscriber(client goredis.UniversalClient, channel string) *RedisSubscriber {
	return &RedisSubscriber{client: client, channel: channel}
}

// Name implements Subscriber.
func (r *RedisSubscriber) Name() string {
	return "redis"
}

// Deliver implements Subscriber.
func (r *RedisSubscriber) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
