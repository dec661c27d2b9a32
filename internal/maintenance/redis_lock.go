package maintenance

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker with SET NX and an expiry.
type RedisLocker struct {
	client *redis.Client
	owner  string
}

// NewRedisLocker returns a locker identifying itself as owner.
func NewRedisLocker(client *redis.Client, owner string) *RedisLocker {
	return &RedisLocker{client: client, owner: owner}
}

// Acquire takes key for ttl if nobody holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.owner, ttl).Result()
}
