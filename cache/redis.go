package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarters-hq/quarters/errors"
)

// RedisConfig holds connection settings for the Redis cache backend.
type RedisConfig struct {
	Addr string
	DB   int
}

// RedisBackend implements Backend over a Redis server.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection with a ping.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrServiceUnavailable, "redis connection failed: %v", err)
	}

	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get key %s", key)
	}
	return val, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisBackend) SAdd(ctx context.Context, key string, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return r.client.SAdd(ctx, key, vals...).Err()
}

func (r *RedisBackend) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return r.client.SRem(ctx, key, vals...).Result()
}

func (r *RedisBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read set %s", key)
	}
	return members, nil
}

func (r *RedisBackend) SCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, key).Result()
}

func (r *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
