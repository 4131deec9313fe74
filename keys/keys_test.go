package keys

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildDeterministic(t *testing.T) {
	b := Builder{AppSpace: "app"}
	facets := Facets{QueryParams: true, JSONBody: true, AuthHeader: true}

	q1 := url.Values{"b": {"2"}, "a": {"1"}}
	q2 := url.Values{"a": {"1"}, "b": {"2"}}

	k1 := b.Build("ns", "GET /items", facets, q1, []byte(`{"x":1}`), "Bearer tok")
	k2 := b.Build("ns", "GET /items", facets, q2, []byte(`{"x":1}`), "Bearer tok")
	assert.Equal(t, k1, k2)
}

func TestBuildQueryValueOrder(t *testing.T) {
	b := Builder{AppSpace: "app"}
	facets := Facets{QueryParams: true}

	k1 := b.Build("ns", "GET /items", facets, url.Values{"tag": {"x", "y"}}, nil, "")
	k2 := b.Build("ns", "GET /items", facets, url.Values{"tag": {"y", "x"}}, nil, "")
	assert.Equal(t, k1, k2)
}

func TestBuildDiscriminates(t *testing.T) {
	b := Builder{AppSpace: "app"}
	facets := Facets{QueryParams: true, JSONBody: true, AuthHeader: true}
	base := b.Build("ns", "GET /items", facets, url.Values{"a": {"1"}}, []byte("{}"), "tok")

	assert.NotEqual(t, base, b.Build("ns", "GET /items", facets, url.Values{"a": {"2"}}, []byte("{}"), "tok"))
	assert.NotEqual(t, base, b.Build("ns", "GET /items", facets, url.Values{"a": {"1"}}, []byte(`{"x":1}`), "tok"))
	assert.NotEqual(t, base, b.Build("ns", "GET /items", facets, url.Values{"a": {"1"}}, []byte("{}"), "other"))
	assert.NotEqual(t, base, b.Build("ns", "POST /items", facets, url.Values{"a": {"1"}}, []byte("{}"), "tok"))
	assert.NotEqual(t, base, b.Build("other", "GET /items", facets, url.Values{"a": {"1"}}, []byte("{}"), "tok"))
}

func TestBuildDisabledFacetIrrelevant(t *testing.T) {
	b := Builder{AppSpace: "app"}
	facets := Facets{QueryParams: false}

	k1 := b.Build("ns", "GET /items", facets, url.Values{"a": {"1"}}, nil, "")
	k2 := b.Build("ns", "GET /items", facets, url.Values{"a": {"2"}}, nil, "")
	assert.Equal(t, k1, k2)
}

func TestBuildNeverEmbedsRawFacets(t *testing.T) {
	b := Builder{AppSpace: "app"}
	facets := Facets{AuthHeader: true}
	key := b.Build("ns", "GET /items", facets, nil, nil, "Bearer secret-token")
	assert.NotContains(t, key, "secret-token")
}

func TestBuildShape(t *testing.T) {
	b := Builder{AppSpace: "app"}
	key := b.Build("ns", "GET /items", Facets{}, nil, nil, "")
	parts := strings.Split(key, Separator)
	assert.Equal(t, "app", parts[0])
	assert.Equal(t, "ns", parts[1])
	assert.True(t, strings.HasPrefix(key, Prefix("app", "ns")))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "app:", Prefix("app", ""))
	assert.Equal(t, "app:ns:", Prefix("app", "ns"))
}
