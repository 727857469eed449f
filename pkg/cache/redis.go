package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnemos/mnemos/pkg/errs"
)

// RedisCache implements Cache on a go-redis client.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// DialRedis connects to a single Redis instance.
func DialRedis(addr, password string, db int) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func wrap(op string, err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return errs.Wrap(errs.KindTransient, op, err)
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("cache.get", err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("cache.set", c.client.Set(ctx, key, value, ttl).Err())
}

func (c *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap("cache.setnx", err)
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("cache.del", c.client.Del(ctx, keys...).Err())
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("cache.expire", c.client.Expire(ctx, key, ttl).Err())
}

func (c *RedisCache) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	pipe.HSet(ctx, key, args...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return wrap("cache.hset", err)
}

func (c *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, bool, error) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, wrap("cache.hgetall", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return fields, true, nil
}

func (c *RedisCache) ZIncrBy(ctx context.Context, key, member string, delta float64) error {
	return wrap("cache.zincrby", c.client.ZIncrBy(ctx, key, delta, member).Err())
}

func (c *RedisCache) ZScores(ctx context.Context, key string) (map[string]float64, error) {
	zs, err := c.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrap("cache.zscores", err)
	}
	out := make(map[string]float64, len(zs))
	for _, z := range zs {
		if m, ok := z.Member.(string); ok {
			out[m] = z.Score
		}
	}
	return out, nil
}

func (c *RedisCache) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap("cache.zrem", c.client.ZRem(ctx, key, args...).Err())
}

func (c *RedisCache) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("cache.scan", err)
	}
	return keys, nil
}

// DelPrefix deletes matching keys in pipelined batches.
func (c *RedisCache) DelPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.ScanPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	const batch = 128
	pipe := c.client.Pipeline()
	for i := 0; i < len(keys); i += batch {
		end := i + batch
		if end > len(keys) {
			end = len(keys)
		}
		pipe.Del(ctx, keys[i:end]...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrap("cache.delprefix", err)
	}
	return len(keys), nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
