package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "revoked:jti:"

// RedisDenylist shares revocations between service instances. Redis expires
// the keys, so no sweeping is needed.
type RedisDenylist struct {
	client redis.Cmdable
}

func NewRedisDenylist(client redis.Cmdable) *RedisDenylist {
	return &RedisDenylist{client: client}
}

func key(jti string) string {
	return keyPrefix + jti
}

func (r *RedisDenylist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisDenylist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n > 0, nil
}
