package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Tyrowin/gochat/internal/config"
)

// Redis is a Cache backed by a Redis server, so verification results are
// shared across server processes. Values are stored as JSON.
//
// Redis faults never fail a lookup: a read error is logged and treated as a
// miss, and a write error is logged and the fetched value still returned.
type Redis[T any] struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
	log    zerolog.Logger
}

// NewRedis wraps client. Every key is prefixed with prefix.
func NewRedis[T any](client *redis.Client, prefix string, log zerolog.Logger) *Redis[T] {
	return &Redis[T]{
		client: client,
		prefix: prefix,
		log:    log,
	}
}

// NewRedisClient connects to the configured Redis server and checks it with
// a PING.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// GetOrFetch implements Cache.
func (r *Redis[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	var zero T
	fullKey := r.prefix + key

	if v, ok := r.lookup(ctx, fullKey); ok {
		return v, nil
	}

	val, err, _ := r.group.Do(fullKey, func() (any, error) {
		fetched, err := fetch(ctx)
		if err != nil {
			return zero, err
		}

		data, err := json.Marshal(fetched)
		if err != nil {
			r.log.Warn().Err(err).Msg("encode cache value")
			return fetched, nil
		}
		if err := r.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
			r.log.Warn().Err(err).Msg("redis set failed")
		}
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected type in cache for key %s", key)
	}
	return typed, nil
}

// Delete implements Cache.
func (r *Redis[T]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (r *Redis[T]) lookup(ctx context.Context, key string) (T, bool) {
	var zero T

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Msg("redis get failed, treating as miss")
		}
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		r.log.Warn().Err(err).Msg("decode cached value, treating as miss")
		return zero, false
	}
	return v, true
}
