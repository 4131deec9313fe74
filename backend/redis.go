package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentuity/go-cacher/config"
)

type redisBackend struct {
	scope
	client     *redis.Client
	opts       options
	ownsClient bool
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a Backend over an existing Redis client. The caller
// owns the client lifecycle; Close is a no-op on it.
func NewRedis(client *redis.Client, appSpace string, opts ...Option) Backend {
	return &redisBackend{
		scope:  scope{appSpace: appSpace},
		client: client,
		opts:   applyOptions(opts),
	}
}

// newOwnedRedis builds the client from config; Close tears it down.
func newOwnedRedis(cfg config.Config, opts ...Option) (Backend, error) {
	var ropts *redis.Options
	if cfg.Redis.URL != "" {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("backend: parse redis url: %w", err)
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}
	b := NewRedis(redis.NewClient(ropts), cfg.AppSpace, opts...).(*redisBackend)
	b.ownsClient = true
	return b, nil
}

func (r *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.opts.queryTimeout)
}

func (r *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	data, err := r.client.Get(qctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("backend: redis get: %w", err)
	}
	return data, true, nil
}

func (r *redisBackend) GetWithTTL(ctx context.Context, key string) (time.Duration, []byte, bool, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	pipe := r.client.Pipeline()
	ttlCmd := pipe.TTL(qctx, key)
	getCmd := pipe.Get(qctx, key)
	if _, err := pipe.Exec(qctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, nil, false, fmt.Errorf("backend: redis get with ttl: %w", err)
	}
	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("backend: redis get with ttl: %w", err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		// -1 means the key has no associated expiry.
		return NoExpiry, data, true, nil
	}
	return ttl, data, true, nil
}

func (r *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	// A zero expiration stores durably on the Redis side as well.
	if err := r.client.Set(qctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("backend: redis set: %w", err)
	}
	return nil
}

func (r *redisBackend) RefreshTTL(ctx context.Context, key string, ttl time.Duration) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	var err error
	if ttl > 0 {
		err = r.client.Expire(qctx, key, ttl).Err()
	} else {
		err = r.client.Persist(qctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("backend: redis refresh ttl: %w", err)
	}
	return nil
}

func (r *redisBackend) Delete(ctx context.Context, namespace, key string) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if err := r.client.Del(qctx, r.fullKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("backend: redis delete: %w", err)
	}
	return nil
}

func (r *redisBackend) Clear(ctx context.Context, namespace string) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	iter := r.client.Scan(qctx, 0, r.prefix(namespace)+"*", 100).Iterator()
	var batch []string
	for iter.Next(qctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := r.client.Del(qctx, batch...).Err(); err != nil {
				return fmt.Errorf("backend: redis clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("backend: redis clear: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(qctx, batch...).Err(); err != nil {
			return fmt.Errorf("backend: redis clear: %w", err)
		}
	}
	return nil
}

func (r *redisBackend) Close(_ context.Context) error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}
