package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisStore is a KeyStore backed by Redis. All entries share a namespace
// prefix so Clear removes only this session's keys.
type redisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis-backed key store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces all cache entries, e.g. "reckeys:alice:".
	KeyPrefix string
}

// NewRedisStore connects to Redis and returns a namespaced key store.
func NewRedisStore(ctx context.Context, opts RedisOptions) (KeyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "reckeys:"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return value, true, nil
}

func (r *redisStore) Set(ctx context.Context, key string, value []byte) error {
	// No TTL: entries live until an explicit Clear.
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *redisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the underlying Redis connection.
func (r *redisStore) Close() error {
	return r.client.Close()
}
