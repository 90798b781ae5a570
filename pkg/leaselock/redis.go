package leaselock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker keeps leases as expiring keys. Renewal and release only touch
// keys that still carry the caller's token.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "insight:lock:"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

func (r *RedisLocker) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	return withLease(ctx, r, key, opts, fn)
}

func (r *RedisLocker) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, r.prefix+key, token, ttl).Result()
}

func (r *RedisLocker) renew(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, r.rdb, []string{r.prefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (r *RedisLocker) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.rdb, []string{r.prefix + key}, token).Err()
}
