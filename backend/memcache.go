package backend

import (
	"container/list"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cespare/xxhash/v2"

	"github.com/agentuity/go-cacher/config"
	"github.com/agentuity/go-cacher/keys"
)

// memcacheBackend adapts a memcached client to the Backend contract.
//
// Memcached cannot report a key's remaining TTL and has no key scan, so
// two pieces of state ride along: every value carries an eight byte
// absolute-expiry header, and a threshold-bounded client-side index
// tracks which keys exist per namespace so Clear can address them. Keys
// beyond the index bound have their oldest tracked entry dropped first,
// FIFO, same rule as the in-process store.
type memcacheBackend struct {
	scope
	client    *memcache.Client
	threshold int
	now       func() time.Time

	mutex sync.Mutex
	index map[string]*list.Element // full key -> element in indexOrder
	order *list.List               // of string full keys, front = oldest
}

var _ Backend = (*memcacheBackend)(nil)

// NewMemcache returns a Backend over memcached at the configured
// host and port.
func NewMemcache(cfg config.MemcacheConfig, appSpace string, opts ...Option) Backend {
	o := applyOptions(opts)
	client := memcache.New(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	client.Timeout = o.queryTimeout
	return &memcacheBackend{
		scope:     scope{appSpace: appSpace},
		client:    client,
		threshold: cfg.Threshold,
		now:       o.now,
		index:     make(map[string]*list.Element),
		order:     list.New(),
	}
}

const expiryHeaderLen = 8

// maxRelativeExpiration is the largest Expiration value memcached reads
// as a relative TTL (30 days, in seconds); anything larger it treats as
// an absolute unix timestamp.
const maxRelativeExpiration = 60 * 60 * 24 * 30

// expirationValue maps a TTL onto the wire Expiration field: seconds
// from now up to the protocol's 30 day relative cap, the absolute unix
// deadline beyond it. Sub-second TTLs round up to one second.
func expirationValue(now time.Time, ttl time.Duration) int32 {
	secs := int64(ttl / time.Second)
	if secs > maxRelativeExpiration {
		return int32(now.Add(ttl).Unix())
	}
	if secs < 1 {
		return 1
	}
	return int32(secs)
}

// encodeEnvelope prepends the absolute expiry (unix seconds, 0 = never)
// so GetWithTTL can compute the remaining TTL client-side.
func encodeEnvelope(value []byte, expiresAt int64) []byte {
	buf := make([]byte, expiryHeaderLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt))
	copy(buf[expiryHeaderLen:], value)
	return buf
}

func decodeEnvelope(data []byte) (value []byte, expiresAt int64, err error) {
	if len(data) < expiryHeaderLen {
		return nil, 0, errors.New("backend: memcache: short envelope")
	}
	return data[expiryHeaderLen:], int64(binary.BigEndian.Uint64(data)), nil
}

// safeKey maps a full cache key onto memcached's key alphabet (max 250
// bytes, no spaces or control characters) by hashing when necessary.
func safeKey(key string) string {
	if len(key) <= 250 && !strings.ContainsFunc(key, func(r rune) bool { return r <= ' ' || r == 0x7f }) {
		return key
	}
	return "h" + keys.Separator + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

func (m *memcacheBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, found, err := m.fetch(ctx, key)
	return value, found, err
}

func (m *memcacheBackend) GetWithTTL(ctx context.Context, key string) (time.Duration, []byte, bool, error) {
	value, expiresAt, found, err := m.fetch(ctx, key)
	if err != nil || !found {
		return 0, nil, false, err
	}
	if expiresAt == 0 {
		return NoExpiry, value, true, nil
	}
	remaining := time.Unix(expiresAt, 0).Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, value, true, nil
}

func (m *memcacheBackend) fetch(_ context.Context, key string) ([]byte, int64, bool, error) {
	item, err := m.client.Get(safeKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("backend: memcache get: %w", err)
	}
	value, expiresAt, err := decodeEnvelope(item.Value)
	if err != nil {
		return nil, 0, false, err
	}
	if expiresAt != 0 && time.Unix(expiresAt, 0).Before(m.now()) {
		// Memcached enforces its own TTL; this covers clock skew between
		// the envelope and the server.
		_ = m.client.Delete(safeKey(key))
		m.untrack(key)
		return nil, 0, false, nil
	}
	return value, expiresAt, true, nil
}

func (m *memcacheBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	var expiration int32
	if ttl > 0 {
		now := m.now()
		expiresAt = now.Add(ttl).Unix()
		expiration = expirationValue(now, ttl)
	}
	evicted, added := m.track(key)
	for _, old := range evicted {
		_ = m.client.Delete(safeKey(old))
	}
	item := &memcache.Item{
		Key:        safeKey(key),
		Value:      encodeEnvelope(value, expiresAt),
		Expiration: expiration,
	}
	if err := m.client.Set(item); err != nil {
		if added {
			// Only roll back keys this call introduced; a failed overwrite
			// leaves the previous value server-side, still worth tracking.
			m.untrack(key)
		}
		return fmt.Errorf("backend: memcache set: %w", err)
	}
	return nil
}

func (m *memcacheBackend) RefreshTTL(ctx context.Context, key string, ttl time.Duration) error {
	value, _, found, err := m.fetch(ctx, key)
	if err != nil || !found {
		return err
	}
	// No touch-with-header primitive: rewrite the envelope with the new
	// deadline. The value bytes are carried over untouched.
	return m.Set(ctx, key, value, ttl)
}

func (m *memcacheBackend) Delete(_ context.Context, namespace, key string) error {
	full := m.fullKey(namespace, key)
	err := m.client.Delete(safeKey(full))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("backend: memcache delete: %w", err)
	}
	m.untrack(full)
	return nil
}

func (m *memcacheBackend) Clear(_ context.Context, namespace string) error {
	prefix := m.prefix(namespace)
	m.mutex.Lock()
	var matched []string
	for key := range m.index {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	m.mutex.Unlock()
	for _, key := range matched {
		err := m.client.Delete(safeKey(key))
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return fmt.Errorf("backend: memcache clear: %w", err)
		}
		m.untrack(key)
	}
	return nil
}

// Close is a no-op: the memcached client keeps a connection pool with no
// teardown surface.
func (m *memcacheBackend) Close(_ context.Context) error {
	return nil
}

// track records key in the namespace index, returning any keys evicted
// to keep the index within threshold and whether key is new to the
// index.
func (m *memcacheBackend) track(key string) (evicted []string, added bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.index[key]; ok {
		return nil, false
	}
	for len(m.index) >= m.threshold {
		front := m.order.Front()
		if front == nil {
			break
		}
		old := front.Value.(string)
		m.order.Remove(front)
		delete(m.index, old)
		evicted = append(evicted, old)
	}
	m.index[key] = m.order.PushBack(key)
	return evicted, true
}

func (m *memcacheBackend) untrack(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if elem, ok := m.index[key]; ok {
		m.order.Remove(elem)
		delete(m.index, key)
	}
}
