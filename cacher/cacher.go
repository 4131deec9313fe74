package cacher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentuity/go-cacher/backend"
	"github.com/agentuity/go-cacher/coder"
	"github.com/agentuity/go-cacher/config"
	"github.com/agentuity/go-cacher/keys"
)

// ErrAuthRequired is returned by a memoized handler when the call has no
// authorization value and the options require one. The wrapped handler
// is never invoked and no backend access happens.
var ErrAuthRequired = errors.New("cacher: authorization required")

// UseDefault tells Set to apply the configured default timeout instead
// of an explicit TTL.
const UseDefault time.Duration = -1

// Cache orchestrates the key builder, coder and backend behind one
// handle. Construct it once with New and share it across calls; all
// methods are safe for concurrent use.
type Cache struct {
	cfg      config.Config
	backend  backend.Backend
	coder    coder.Coder
	builder  keys.Builder
	group    *singleflight.Group
	fallback bool
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithBackend injects a pre-built backend instead of constructing one
// from the config's connection block.
func WithBackend(b backend.Backend) Option {
	return func(c *Cache) { c.backend = b }
}

// WithCoder overrides the coder named in the config.
func WithCoder(cd coder.Coder) Option {
	return func(c *Cache) { c.coder = cd }
}

// WithSingleflight coalesces concurrent misses on the same key so the
// handler runs once per key at a time. Off by default.
func WithSingleflight() Option {
	return func(c *Cache) { c.group = new(singleflight.Group) }
}

// WithFallbackOnError makes memoized handlers run uncached when the
// backend is unavailable instead of failing the call. Off by default:
// timeout semantics depend on the store, so its unavailability is a real
// failure unless the caller opts out.
func WithFallbackOnError() Option {
	return func(c *Cache) { c.fallback = true }
}

// New validates cfg and constructs the cache with its backend. The
// returned Cache owns the backend it built; Close tears it down.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		cfg:     cfg,
		builder: keys.Builder{AppSpace: cfg.AppSpace},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.coder == nil {
		cd, err := coder.ForName(cfg.Coder)
		if err != nil {
			return nil, err
		}
		c.coder = cd
	}
	if c.backend == nil {
		b, err := backend.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.backend = b
	}
	return c, nil
}

// Get looks up key under the app space and decodes the stored value
// into v. A miss returns (false, nil).
func (c *Cache) Get(ctx context.Context, key string, v any) (bool, error) {
	data, found, err := c.backend.Get(ctx, c.storageKey(key))
	if err != nil || !found {
		return false, err
	}
	if err := c.coder.Decode(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// GetWithTTL is Get plus the entry's remaining TTL (backend.NoExpiry
// for durable entries).
func (c *Cache) GetWithTTL(ctx context.Context, key string, v any) (time.Duration, bool, error) {
	ttl, data, found, err := c.backend.GetWithTTL(ctx, c.storageKey(key))
	if err != nil || !found {
		return 0, false, err
	}
	if err := c.coder.Decode(data, v); err != nil {
		return 0, false, err
	}
	return ttl, true, nil
}

// Set encodes v and stores it under key in the app space. Pass
// UseDefault to apply the configured default timeout; zero stores
// durably.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	if ttl == UseDefault {
		ttl = c.cfg.DefaultTimeout.Std()
	}
	if ttl < 0 {
		return fmt.Errorf("cacher: negative ttl %s", ttl)
	}
	data, err := c.coder.Encode(v)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, c.storageKey(key), data, ttl)
}

// Delete removes the single entry addressed by namespace and key.
// Removing a missing entry is a no-op.
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	return c.backend.Delete(ctx, namespace, key)
}

// Clear removes entries in bulk: with both arguments empty everything
// under the app space goes; with only a namespace, that namespace; with
// both, exactly one entry. Always idempotent.
func (c *Cache) Clear(ctx context.Context, namespace, key string) error {
	if key != "" {
		return c.backend.Delete(ctx, namespace, key)
	}
	return c.backend.Clear(ctx, namespace)
}

// Close releases the backend's resources (network connections, sweep
// goroutines).
func (c *Cache) Close(ctx context.Context) error {
	return c.backend.Close(ctx)
}

// Config returns the construction-time configuration.
func (c *Cache) Config() config.Config { return c.cfg }

func (c *Cache) storageKey(key string) string {
	return keys.Join(c.cfg.AppSpace, key)
}
