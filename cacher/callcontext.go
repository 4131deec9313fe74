package cacher

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// CallContext carries the request facets a memoized handler may be
// keyed on. It is owned by the single in-flight call and never persists
// beyond key construction.
type CallContext struct {
	// Method is the HTTP method (or an equivalent verb for non-HTTP
	// callers).
	Method string
	// Route identifies the handler: typically the method plus the route
	// pattern, so two handlers sharing a namespace stay distinct.
	Route string
	// Query holds the call's query parameters. Arrival order is
	// irrelevant; the key builder canonicalizes.
	Query url.Values
	// Body is the raw JSON body, populated only when the body facet is
	// in play.
	Body []byte
	// AuthHeader is the Authorization header value, verbatim.
	AuthHeader string

	// FromCache reports whether the most recent memoized invocation with
	// this context was answered from the backend rather than computed.
	// Memoize sets it on return; callers only read it.
	FromCache bool
}

// NewCallContext extracts the facets from an HTTP request. When
// readBody is true the request body is consumed and restored so the
// downstream handler can still read it.
func NewCallContext(r *http.Request, readBody bool) (*CallContext, error) {
	call := &CallContext{
		Method:     r.Method,
		Route:      r.Method + " " + r.URL.Path,
		Query:      r.URL.Query(),
		AuthHeader: r.Header.Get("Authorization"),
	}
	if readBody && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("cacher: read request body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		call.Body = body
	}
	return call, nil
}
