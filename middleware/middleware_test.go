package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/go-cacher/backend"
	"github.com/agentuity/go-cacher/cacher"
	"github.com/agentuity/go-cacher/config"
)

func newTestCache(t *testing.T, opts ...cacher.Option) *cacher.Cache {
	t.Helper()
	cfg := config.Default()
	cfg.AppSpace = "app"
	b := backend.NewMemory(context.Background(), cfg.AppSpace, cfg.Memory.Threshold,
		backend.WithSweepInterval(time.Hour))
	c, err := cacher.New(context.Background(), cfg, append([]cacher.Option{cacher.WithBackend(b)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestMemoizeMissThenHit(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32

	r := chi.NewRouter()
	r.With(Memoize(c, zerolog.Nop(), cacher.MemoizeOptions{Namespace: "items"})).
		Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"` + chi.URLParam(r, "id") + `"}`))
		})

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest("GET", "/items/42", nil))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"id":"42"}`, first.Body.String())

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest("GET", "/items/42", nil))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"id":"42"}`, second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))

	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoizeDistinctQueryMisses(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32

	r := chi.NewRouter()
	r.With(Memoize(c, zerolog.Nop(), cacher.MemoizeOptions{Namespace: "items"})).
		Get("/items", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte("page " + r.URL.Query().Get("page")))
		})

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest("GET", "/items?page=1", nil))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/items?page=2", nil))

	assert.Equal(t, "page 1", w1.Body.String())
	assert.Equal(t, "page 2", w2.Body.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoizeAuthRequired(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32

	r := chi.NewRouter()
	r.With(Memoize(c, zerolog.Nop(), cacher.MemoizeOptions{Namespace: "me", RequireAuthHeader: true})).
		Get("/me", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte("private"))
		})

	unauthed := httptest.NewRecorder()
	r.ServeHTTP(unauthed, httptest.NewRequest("GET", "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, unauthed.Code)
	assert.Equal(t, int32(0), calls.Load())

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	authed := httptest.NewRecorder()
	r.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)
	assert.Equal(t, "private", authed.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoizeDoesNotCacheErrors(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32

	r := chi.NewRouter()
	r.With(Memoize(c, zerolog.Nop(), cacher.MemoizeOptions{Namespace: "flaky"})).
		Get("/flaky", func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			if n == 1 {
				http.Error(w, "upstream down", http.StatusBadGateway)
				return
			}
			w.Write([]byte("recovered"))
		})

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest("GET", "/flaky", nil))
	assert.Equal(t, http.StatusBadGateway, w1.Code)

	// The failure was not stored; the next call reaches the handler.
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/flaky", nil))
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "recovered", w2.Body.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoizePathParamsKeyedSeparately(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32

	r := chi.NewRouter()
	r.With(Memoize(c, zerolog.Nop(), cacher.MemoizeOptions{Namespace: "items"})).
		Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte(chi.URLParam(r, "id")))
		})

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest("GET", "/items/1", nil))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest("GET", "/items/2", nil))

	// Both requests share the chi pattern /items/{id}; the concrete
	// path keeps their entries distinct.
	assert.Equal(t, "1", w1.Body.String())
	assert.Equal(t, "2", w2.Body.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoizeCoalescedRequestsReportMiss(t *testing.T) {
	c := newTestCache(t, cacher.WithSingleflight())
	var calls atomic.Int32
	release := make(chan struct{})

	r := chi.NewRouter()
	r.With(Memoize(c, zerolog.Nop(), cacher.MemoizeOptions{Namespace: "slow"})).
		Get("/slow", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			<-release
			w.Write([]byte("done"))
		})

	var wg sync.WaitGroup
	recorders := make([]*httptest.ResponseRecorder, 2)
	for i := range recorders {
		recorders[i] = httptest.NewRecorder()
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.ServeHTTP(recorders[n], httptest.NewRequest("GET", "/slow", nil))
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// One computation served both; neither found it in the cache.
	assert.Equal(t, int32(1), calls.Load())
	for _, w := range recorders {
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "done", w.Body.String())
		assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	}

	after := httptest.NewRecorder()
	r.ServeHTTP(after, httptest.NewRequest("GET", "/slow", nil))
	assert.Equal(t, "HIT", after.Header().Get("X-Cache"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoizeCoalescedNonCacheable(t *testing.T) {
	c := newTestCache(t, cacher.WithSingleflight())
	var calls atomic.Int32
	release := make(chan struct{})

	r := chi.NewRouter()
	r.With(Memoize(c, zerolog.Nop(), cacher.MemoizeOptions{Namespace: "flaky"})).
		Get("/flaky", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			<-release
			http.Error(w, "upstream down", http.StatusBadGateway)
		})

	var wg sync.WaitGroup
	recorders := make([]*httptest.ResponseRecorder, 2)
	for i := range recorders {
		recorders[i] = httptest.NewRecorder()
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.ServeHTTP(recorders[n], httptest.NewRequest("GET", "/flaky", nil))
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// The coalesced request has no recorded response of its own and runs
	// the handler directly; both callers see the upstream failure.
	for _, w := range recorders {
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	}
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
