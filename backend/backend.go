// Package backend defines the uniform storage contract the cache facade
// runs against, plus four implementations: an in-process bounded map,
// Redis, a Mongo document-TTL collection, and memcached.
//
// All backends store opaque encoded bytes. A missing key is a first-class
// outcome (found == false), never an error. Every operation is safe for
// concurrent use.
package backend

import (
	"context"
	"time"

	"github.com/agentuity/go-cacher/config"
	"github.com/agentuity/go-cacher/keys"
)

// NoExpiry is the TTL sentinel returned by GetWithTTL for entries that
// never expire.
const NoExpiry time.Duration = -1

// Backend is the uniform storage contract. Get, GetWithTTL, Set and
// RefreshTTL address entries by their full storage key; Delete and Clear
// address them by namespace parts, which the backend scopes under its
// configured app space.
type Backend interface {
	// Get returns the stored bytes for key, or found == false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// GetWithTTL returns the remaining TTL alongside the value. The TTL
	// is NoExpiry for durable entries and floored at zero for entries on
	// the edge of expiry.
	GetWithTTL(ctx context.Context, key string) (time.Duration, []byte, bool, error)

	// Set stores value under key with the given TTL, replacing any
	// existing entry and its TTL. A zero TTL stores durably.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// RefreshTTL resets the entry's expiration to now + ttl without
	// touching the stored value. Refreshing a missing key is a no-op.
	RefreshTTL(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the single entry addressed by namespace and key
	// under the backend's app space. Deleting a missing key is a no-op.
	Delete(ctx context.Context, namespace, key string) error

	// Clear removes every entry under the given namespace, or every
	// entry under the app space when namespace is empty. Clearing an
	// empty namespace is a no-op.
	Clear(ctx context.Context, namespace string) error

	// Close releases any resources held by the backend.
	Close(ctx context.Context) error
}

// DefaultQueryTimeout bounds each operation against a network-backed
// store so a slow or unresponsive server cannot hang a call.
const DefaultQueryTimeout = 5 * time.Second

// DefaultSweepInterval is how often the memory backend prunes expired
// entries in the background. Reads never depend on the sweep.
const DefaultSweepInterval = time.Minute

type options struct {
	queryTimeout  time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// Option configures a backend implementation.
type Option func(*options)

func applyOptions(opts []Option) options {
	o := options{
		queryTimeout:  DefaultQueryTimeout,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithQueryTimeout sets the per-operation timeout for network-backed
// stores. Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *options) { o.queryTimeout = d }
}

// WithSweepInterval sets the background cleanup interval for the memory
// backend. Defaults to DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// scope carries the app-space prefix every backend composes keys under.
type scope struct {
	appSpace string
}

func (s scope) fullKey(namespace, key string) string {
	if namespace == "" {
		return keys.Join(s.appSpace, key)
	}
	return keys.Join(s.appSpace, namespace, key)
}

func (s scope) prefix(namespace string) string {
	return keys.Prefix(s.appSpace, namespace)
}

// New constructs the backend variant selected by the validated config.
// The returned backend owns its underlying connections; Close releases
// them.
func New(ctx context.Context, cfg config.Config, opts ...Option) (Backend, error) {
	switch cfg.CacheType {
	case config.TypeMemory:
		return NewMemory(ctx, cfg.AppSpace, cfg.Memory.Threshold, opts...), nil
	case config.TypeRedis:
		return newOwnedRedis(cfg, opts...)
	case config.TypeMongo:
		return NewMongo(ctx, cfg.Mongo, cfg.AppSpace, opts...)
	case config.TypeMemcache:
		return NewMemcache(cfg.Memcache, cfg.AppSpace, opts...), nil
	default:
		return nil, &config.FieldError{Field: "cache_type", Reason: "unsupported type"}
	}
}
