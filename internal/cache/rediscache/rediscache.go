package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// setIfNewer writes KEYS[1] and its version KEYS[2] unless the stored version is
// greater than ARGV[2].
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

type RedisCache struct {
	c      *redis.Client
	prefix string
}

func New(addr string) *RedisCache {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr: addr,
	}), "")
}

// NewFromClient shares one client between the cache, the limiter and the realtime bus.
// Every key is stored under prefix.
func NewFromClient(c *redis.Client, prefix string) *RedisCache {
	return &RedisCache{c: c, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// SetIfNewer keeps the version next to the value so a slow writer holding an older
// copy cannot overwrite a newer one. Delete leaves the version behind.
func (r *RedisCache) SetIfNewer(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("redis set if newer: ttl must be positive")
	}
	k := r.prefix + key
	n, err := setIfNewer.Run(ctx, r.c, []string{k, k + ":version"}, value, version, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis set if newer")
	}
	return n == 1, nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.c.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}
