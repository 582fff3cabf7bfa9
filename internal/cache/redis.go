package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Redis is a Cache backed by a Redis instance. PutIfAbsent uses SET NX so
// the first writer wins across processes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects using a redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: get %s", key)
	}
	return v, true, nil
}

func (r *Redis) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	stored, err := r.client.SetNX(ctx, key, value, r.ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "cache: setnx %s", key)
	}
	return stored, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
