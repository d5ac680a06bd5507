package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a counter-based limiter shared across agent instances. The
// counter expires after the window, so the limit is approximate at window
// boundaries, which is fine for reply throttling.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedis connects to Redis and returns a shared limiter.
func NewRedis(ctx context.Context, redisURL string, limit int, window time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client, limit: limit, window: window}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func replyCountKey(identity string) string {
	return fmt.Sprintf("replies:%s", identity)
}

// Allow reports whether the identity is under its reply budget.
func (r *Redis) Allow(ctx context.Context, identity string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	count, err := r.client.Get(ctx, replyCountKey(identity)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return count < r.limit, nil
}

// Record increments the identity's reply counter.
func (r *Redis) Record(ctx context.Context, identity string) error {
	if r.limit <= 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, replyCountKey(identity))
	pipe.Expire(ctx, replyCountKey(identity), r.window)
	_, err := pipe.Exec(ctx)
	return err
}
