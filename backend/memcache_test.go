package backend

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/go-cacher/config"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data := encodeEnvelope([]byte("payload"), 1767225600)
	value, expiresAt, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), value)
	assert.Equal(t, int64(1767225600), expiresAt)
}

func TestEnvelopeDurable(t *testing.T) {
	data := encodeEnvelope([]byte("x"), 0)
	value, expiresAt, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), value)
	assert.Zero(t, expiresAt)
}

func TestEnvelopeShort(t *testing.T) {
	_, _, err := decodeEnvelope([]byte("tiny"))
	assert.Error(t, err)
}

func TestSafeKeyPassthrough(t *testing.T) {
	assert.Equal(t, "app:ns:abc123", safeKey("app:ns:abc123"))
}

func TestSafeKeyHashesSpaces(t *testing.T) {
	key := "app:ns:GET /items:abc"
	safe := safeKey(key)
	assert.NotEqual(t, key, safe)
	assert.NotContains(t, safe, " ")
	// Deterministic.
	assert.Equal(t, safe, safeKey(key))
}

func TestSafeKeyHashesLongKeys(t *testing.T) {
	key := "app:" + strings.Repeat("x", 300)
	safe := safeKey(key)
	assert.LessOrEqual(t, len(safe), 250)
}

func TestMemcacheIndexFIFO(t *testing.T) {
	b := NewMemcache(config.MemcacheConfig{Host: "localhost", Port: 11211, Threshold: 2}, "app").(*memcacheBackend)

	evicted, added := b.track("app:ns:a")
	assert.Empty(t, evicted)
	assert.True(t, added)
	evicted, added = b.track("app:ns:b")
	assert.Empty(t, evicted)
	assert.True(t, added)
	evicted, added = b.track("app:ns:c")
	assert.Equal(t, []string{"app:ns:a"}, evicted)
	assert.True(t, added)

	// Re-tracking an existing key neither evicts nor reorders, and is
	// not an addition: a failed overwrite must leave it indexed.
	evicted, added = b.track("app:ns:b")
	assert.Empty(t, evicted)
	assert.False(t, added)

	b.untrack("app:ns:b")
	evicted, added = b.track("app:ns:d")
	assert.Empty(t, evicted)
	assert.True(t, added)
}

func TestExpirationValue(t *testing.T) {
	now := time.Unix(1767225600, 0)

	assert.Equal(t, int32(10), expirationValue(now, 10*time.Second))
	assert.Equal(t, int32(1), expirationValue(now, 500*time.Millisecond))
	// The protocol's 30 day relative cap, inclusive.
	assert.Equal(t, int32(maxRelativeExpiration), expirationValue(now, maxRelativeExpiration*time.Second))
	// Past the cap the field carries the absolute unix deadline, not a
	// relative count memcached would misread as one.
	sixtyDays := 60 * 24 * time.Hour
	assert.Equal(t, int32(now.Add(sixtyDays).Unix()), expirationValue(now, sixtyDays))
}
