package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each namespace in one Redis hash named "<prefix>:<namespace>".
// It lets several devices on a shared field laptop or kiosk reuse one cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis dials addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return NewRedisStore(client, prefix), nil
}

func (r *RedisStore) hashKey(namespace string) string {
	if r.prefix == "" {
		return namespace
	}
	return r.prefix + ":" + namespace
}

func (r *RedisStore) Get(ctx context.Context, namespace, key string) (string, error) {
	val, err := r.client.HGet(ctx, r.hashKey(namespace), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, namespace, key, value string) error {
	if err := r.client.HSet(ctx, r.hashKey(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", namespace, key, err)
	}
	return nil
}

// SetMulti issues a single HSET, which Redis applies atomically.
func (r *RedisStore) SetMulti(ctx context.Context, namespace string, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(entries)*2)
	for key, value := range entries {
		values = append(values, key, value)
	}
	if err := r.client.HSet(ctx, r.hashKey(namespace), values...).Err(); err != nil {
		return fmt.Errorf("failed to write %d entries to %s: %w", len(entries), namespace, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.HDel(ctx, r.hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (r *RedisStore) ClearAll(ctx context.Context, namespace string) error {
	if err := r.client.Del(ctx, r.hashKey(namespace)).Err(); err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
