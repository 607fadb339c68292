package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Cache on a Redis server. Values are stored under
// "<prefix><key>", generations under "<prefix>gen:<name>".
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed cache. Prefix may be empty.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "odm:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		// never store entries without expiry; generations only orphan them
		ttl = time.Minute
	}
	return r.client.Set(ctx, r.prefix+key, val, ttl).Err()
}

func (r *Redis) Generation(ctx context.Context, name string) (uint64, error) {
	n, err := r.client.Get(ctx, r.prefix+"gen:"+name).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (r *Redis) Bump(ctx context.Context, name string) error {
	return r.client.Incr(ctx, r.prefix+"gen:"+name).Err()
}
