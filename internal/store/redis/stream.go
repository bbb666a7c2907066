package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Stream owns the Redis connection the outbox writes through.
type Stream struct {
	client *redis.Client
}

func NewStream(ctx context.Context, url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Stream{client: client}, nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}
