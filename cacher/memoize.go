package cacher

import (
	"context"
	"time"

	"github.com/agentuity/go-cacher/keys"
)

// Handler is the callable shape Memoize wraps: it receives the ambient
// call context and produces the value to cache.
type Handler[T any] func(ctx context.Context, call *CallContext) (T, error)

// MemoizeOptions controls one memoized handler. Nil pointer fields fall
// back to the cache-wide config defaults.
type MemoizeOptions struct {
	// Timeout overrides the configured default TTL for this handler.
	// Zero means never expire.
	Timeout *time.Duration
	// Sliding overrides the configured sliding-expiration default.
	Sliding *bool
	// Namespace groups this handler's entries for bulk clearing.
	Namespace string
	// QueryParams folds the call's query parameters into the key.
	// Defaults to true.
	QueryParams *bool
	// JSONBody folds the raw request body into the key. Defaults to
	// false.
	JSONBody bool
	// RequireAuthHeader gates the call on an Authorization value and
	// folds it into the key, so each caller gets their own entry.
	// Defaults to false.
	RequireAuthHeader bool
}

// Duration returns a pointer for MemoizeOptions.Timeout.
func Duration(d time.Duration) *time.Duration { return &d }

// Bool returns a pointer for MemoizeOptions.Sliding and QueryParams.
func Bool(v bool) *bool { return &v }

func (o MemoizeOptions) facets() keys.Facets {
	queryParams := true
	if o.QueryParams != nil {
		queryParams = *o.QueryParams
	}
	return keys.Facets{
		QueryParams: queryParams,
		JSONBody:    o.JSONBody,
		AuthHeader:  o.RequireAuthHeader,
	}
}

// Memoize wraps handler so its result is cached under a key derived
// from the call context. On a hit the handler body never runs; on a
// miss it runs exactly once for this call, and its result is stored
// with the resolved timeout. Side effects per call are bounded to one
// backend read, at most one TTL refresh, at most one write.
func Memoize[T any](c *Cache, handler Handler[T], opts MemoizeOptions) Handler[T] {
	facets := opts.facets()
	return func(ctx context.Context, call *CallContext) (T, error) {
		var zero T
		if opts.RequireAuthHeader && call.AuthHeader == "" {
			return zero, ErrAuthRequired
		}
		key := c.builder.Build(opts.Namespace, call.Route, facets, call.Query, call.Body, call.AuthHeader)
		ttl, sliding := resolvePolicy(c.cfg.DefaultTimeout.Std(), c.cfg.SlidingExpiration, opts.Timeout, opts.Sliding)

		call.FromCache = false
		if c.group == nil {
			value, hit, err := memoizeOnce(ctx, c, handler, call, key, ttl, sliding)
			if err != nil {
				return zero, err
			}
			call.FromCache = hit
			return value, nil
		}
		result, err, _ := c.group.Do(key, func() (any, error) {
			value, hit, err := memoizeOnce(ctx, c, handler, call, key, ttl, sliding)
			if err != nil {
				return nil, err
			}
			return flight[T]{value: value, fromCache: hit}, nil
		})
		if err != nil {
			return zero, err
		}
		f := result.(flight[T])
		// A coalesced caller inherits the winning call's outcome: a value
		// the winner computed was not in the cache for anyone.
		call.FromCache = f.fromCache
		return f.value, nil
	}
}

// flight carries a memoized value through the singleflight group along
// with whether it was read from the backend.
type flight[T any] struct {
	value     T
	fromCache bool
}

func memoizeOnce[T any](ctx context.Context, c *Cache, handler Handler[T], call *CallContext, key string, ttl time.Duration, sliding bool) (T, bool, error) {
	var zero T
	data, found, err := c.backend.Get(ctx, key)
	if err != nil {
		if c.fallback {
			result, err := handler(ctx, call)
			return result, false, err
		}
		return zero, false, err
	}
	if found {
		if sliding && ttl > 0 {
			if err := c.backend.RefreshTTL(ctx, key, ttl); err != nil && !c.fallback {
				return zero, false, err
			}
		}
		var out T
		if err := c.coder.Decode(data, &out); err != nil {
			return zero, false, err
		}
		return out, true, nil
	}

	result, err := handler(ctx, call)
	if err != nil {
		return zero, false, err
	}
	encoded, err := c.coder.Encode(result)
	if err != nil {
		return zero, false, err
	}
	if err := c.backend.Set(ctx, key, encoded, ttl); err != nil {
		if c.fallback {
			return result, false, nil
		}
		return zero, false, err
	}
	return result, false, nil
}
