// Package cacher memoizes expensive handler computations behind a
// pluggable storage backend, keyed by a deterministic fingerprint of the
// request and evicted by absolute or sliding time-to-live policies.
//
// # Construction
//
// A [Cache] is built once from a validated [config.Config] and shared
// across calls:
//
//	cfg := config.Default()
//	cfg.AppSpace = "myapp"
//	c, err := cacher.New(ctx, cfg)
//	defer c.Close(ctx)
//
// The config selects one backend variant (in-process bounded map, Redis,
// Mongo with a TTL index, or memcached); the concrete backend is
// constructed once and held behind the [backend.Backend] interface, so
// no per-call type switching happens.
//
// # Memoization
//
// [Memoize] wraps a handler so its result is computed once per distinct
// key and replayed from the store afterwards:
//
//	lookup := cacher.Memoize(c, fetchUser, cacher.MemoizeOptions{
//	    Namespace: "users",
//	    Timeout:   cacher.Duration(10 * time.Minute),
//	})
//
// The cache key folds in the handler's route identity plus the facets
// the options enable: query parameters (canonically ordered), the raw
// JSON body, and the Authorization header. Facet data is hashed, never
// embedded, so bearer tokens do not leak into storage keys.
//
// When RequireAuthHeader is set and the call carries no authorization
// value, the wrapped handler fails with [ErrAuthRequired] before any
// backend access — the handler body never runs.
//
// # Expiration
//
// Each handler resolves its own timeout and sliding flag from the
// per-call options, falling back to the config defaults. A timeout of
// zero stores durably. With sliding expiration every read hit resets
// the entry's deadline; with absolute expiration only the original
// write sets it.
//
// # Concurrency
//
// Two concurrent misses on the same key may both invoke the handler and
// both write — last write wins, which is sound because Set is
// idempotent per key. Callers who want per-key coalescing opt in with
// [WithSingleflight].
//
// # Failure policy
//
// Backend errors fail the memoized call by default: the correctness of
// timeout semantics depends on the store, so its unavailability is a
// real failure. [WithFallbackOnError] makes running the handler uncached
// an explicit configuration choice instead.
package cacher
