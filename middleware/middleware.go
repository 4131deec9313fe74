// Package middleware wires the cache facade into net/http handler
// chains. Responses are cached whole (status, headers, body) under keys
// derived from the request's route, query, body and authorization
// facets; a hit is served without running the downstream handler.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentuity/go-cacher/cacher"
)

// requestIDHeader is set on every response passing through RequestID.
const requestIDHeader = "X-Request-ID"

// cacheStatusHeader reports HIT or MISS on memoized responses.
const cacheStatusHeader = "X-Cache"

// cachedResponse is the stored shape of a memoized HTTP response.
type cachedResponse struct {
	Status int                 `json:"status" msgpack:"status"`
	Header map[string][]string `json:"header" msgpack:"header"`
	Body   []byte              `json:"body" msgpack:"body"`
}

// errSkipCache marks responses that must not be stored (non-2xx).
var errSkipCache = errors.New("middleware: response not cacheable")

// RequestID assigns each request a UUID, exposed on the response and on
// the request context's logger.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(requestIDHeader, id)
		logger := zerolog.Ctx(r.Context()).With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

// Memoize returns a middleware that serves the downstream handler's
// response from the cache. Only 2xx responses are stored; everything
// else passes through uncached. When the options require an
// authorization header and none is present, the request is rejected
// with 401 before any cache access and the handler never runs.
func Memoize(c *cacher.Cache, logger zerolog.Logger, opts cacher.MemoizeOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			call, err := cacher.NewCallContext(r, opts.JSONBody)
			if err != nil {
				logger.Error().Err(err).Msg("failed to extract call context")
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			// The key stays on the concrete path: a route pattern like
			// /items/{id} would collapse every id into one entry. The
			// pattern is still useful log context.
			log := logger.With().Str("route", routePattern(r)).Str("path", call.Route).Logger()

			var rec *responseRecorder
			wrapped := cacher.Memoize(c, func(ctx context.Context, _ *cacher.CallContext) (cachedResponse, error) {
				rec = newResponseRecorder()
				next.ServeHTTP(rec, r.WithContext(ctx))
				if rec.status < 200 || rec.status >= 300 {
					return cachedResponse{}, errSkipCache
				}
				return rec.response(), nil
			}, opts)

			resp, err := wrapped(r.Context(), call)
			switch {
			case errors.Is(err, cacher.ErrAuthRequired):
				log.Warn().Msg("request without authorization header")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			case errors.Is(err, errSkipCache):
				if rec == nil {
					// Coalesced onto another in-flight call whose response
					// was not cacheable; this request never ran the handler,
					// so run it now, uncached.
					w.Header().Set(cacheStatusHeader, "MISS")
					next.ServeHTTP(w, r)
					return
				}
				// Replay the handler's own non-cacheable response.
				writeResponse(w, rec.response(), "MISS")
				return
			case err != nil:
				log.Error().Err(err).Msg("cache lookup failed")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			// FromCache, not the recorder: a request coalesced onto a
			// concurrent computation never runs its own handler but did not
			// hit the store either.
			status := "MISS"
			if call.FromCache {
				status = "HIT"
			}
			log.Debug().Str("cache", status).Msg("memoized response")
			writeResponse(w, resp, status)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func writeResponse(w http.ResponseWriter, resp cachedResponse, cacheStatus string) {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(cacheStatusHeader, cacheStatus)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// responseRecorder captures the downstream handler's response so it can
// be encoded for storage.
type responseRecorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *responseRecorder) response() cachedResponse {
	return cachedResponse{
		Status: r.status,
		Header: r.header,
		Body:   r.body.Bytes(),
	}
}
