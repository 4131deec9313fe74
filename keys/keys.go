// Package keys builds deterministic cache keys from request attributes.
//
// A key has the shape appSpace:namespace:routeIdentity:digest where the
// digest folds in only the facets the caller enabled. Sensitive raw data
// (bearer tokens, request bodies) never appears in the key itself, only
// its fixed-length hash.
package keys

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Separator joins the segments of a cache key.
const Separator = ":"

// Facets selects which call attributes are folded into the key digest.
// Disabled facets are irrelevant to the resulting key.
type Facets struct {
	QueryParams bool
	JSONBody    bool
	AuthHeader  bool
}

// Builder produces cache keys scoped under a single application space.
type Builder struct {
	AppSpace string
}

// Build returns the cache key for one call. Identical inputs always
// produce a byte-identical key: query parameters are canonicalized by
// sorting names (and values within a name) so arrival order does not
// matter.
func (b Builder) Build(namespace, routeIdentity string, facets Facets, query url.Values, body []byte, authHeader string) string {
	d := xxhash.New()
	d.WriteString(routeIdentity)
	if facets.QueryParams {
		d.WriteString("|q|")
		d.WriteString(canonicalQuery(query))
	}
	if facets.JSONBody {
		d.WriteString("|b|")
		d.Write(body)
	}
	if facets.AuthHeader {
		d.WriteString("|a|")
		d.WriteString(authHeader)
	}
	digest := strconv.FormatUint(d.Sum64(), 16)
	return Join(b.AppSpace, namespace, routeIdentity, digest)
}

// Join composes key segments with the standard separator. Empty segments
// are kept so that prefix scans line up with built keys.
func Join(parts ...string) string {
	return strings.Join(parts, Separator)
}

// Prefix returns the scan prefix covering every key under the given
// namespace, or the whole app space when namespace is empty.
func Prefix(appSpace, namespace string) string {
	if namespace == "" {
		return appSpace + Separator
	}
	return appSpace + Separator + namespace + Separator
}

func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		for _, v := range values {
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(v)
			sb.WriteByte('&')
		}
	}
	return sb.String()
}
