package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is an optional durable Backend, adapted from the teacher's
// store.RedisStore. Unlike the teacher, which also used Redis for
// cross-process leader-election leases, this backend is used strictly as a
// swappable key/value persistence layer for the command-id dedupe guard —
// the hub never treats it as a coordination
// primitive, consistent with spec's Non-goal ruling out cross-host
// distribution.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to addr and verifies reachability with a short
// ping, mirroring the teacher's NewRedisStore.
func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis backend: ping failed: %w", err)
	}

	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis backend: get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis backend: set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis backend: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisBackend) Scan(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := r.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		out[key] = val
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("redis backend: scan %s: %w", prefix, err)
	}
	return out, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
