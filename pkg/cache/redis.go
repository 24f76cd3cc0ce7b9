package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fpt/kanoa/pkg/domain"
)

// DefaultRedisPrefix namespaces registry keys.
const DefaultRedisPrefix = "kanoa:cache:"

// RedisRegistry shares entries between processes. Keys expire with the
// entry so Redis never holds stale handles.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

// DialRedisRegistry connects to addr and checks the connection.
func DialRedisRegistry(ctx context.Context, addr string) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisRegistry(client, ""), nil
}

func (r *RedisRegistry) key(k domain.CacheKey) string {
	return r.prefix + k.String()
}

func (r *RedisRegistry) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e domain.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, nil
}

func (r *RedisRegistry) Put(ctx context.Context, e *domain.CacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	ttl := time.Until(e.ExpiresAt())
	if ttl <= 0 {
		return r.Delete(ctx, e.Key())
	}
	if err := r.client.Set(ctx, r.key(e.Key()), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, key domain.CacheKey) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]*domain.CacheEntry, error) {
	var out []*domain.CacheEntry
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}
		var e domain.CacheEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode cache entry: %w", err)
		}
		out = append(out, &e)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sortEntries(out)
	return out, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
