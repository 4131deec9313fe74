package backend

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means never expire
	elem      *list.Element
}

// memoryBackend is an insertion-ordered bounded map. When a new key
// arrives at capacity, the oldest-inserted entry is evicted (strict FIFO
// by insertion, not by access). Overwriting an existing key neither
// reorders it nor triggers eviction.
type memoryBackend struct {
	scope
	threshold int

	mutex   sync.Mutex
	entries map[string]*memoryEntry
	order   *list.List // front = oldest insertion

	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	sweep     time.Duration
}

var _ Backend = (*memoryBackend)(nil)

// NewMemory returns the in-process bounded store. Expired entries are
// treated as missing on read regardless of the background sweep, which
// only reclaims memory early.
func NewMemory(parent context.Context, appSpace string, threshold int, opts ...Option) Backend {
	o := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	m := &memoryBackend{
		scope:     scope{appSpace: appSpace},
		threshold: threshold,
		entries:   make(map[string]*memoryEntry),
		order:     list.New(),
		now:       o.now,
		ctx:       ctx,
		cancel:    cancel,
		sweep:     o.sweepInterval,
	}
	m.waitGroup.Add(1)
	go m.run()
	return m
}

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *memoryBackend) GetWithTTL(_ context.Context, key string) (time.Duration, []byte, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return 0, nil, false, nil
	}
	if e.expiresAt.IsZero() {
		return NoExpiry, e.value, true, nil
	}
	remaining := e.expiresAt.Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, e.value, true, nil
}

// lookup returns the live entry for key, removing it if expired.
// Callers must hold the mutex.
func (m *memoryBackend) lookup(key string) (*memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && e.expiresAt.Before(m.now()) {
		m.remove(e)
		return nil, false
	}
	return e, true
}

func (m *memoryBackend) remove(e *memoryEntry) {
	delete(m.entries, e.key)
	m.order.Remove(e.elem)
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, ok := m.entries[key]; ok {
		// Overwrite in place: insertion order and capacity are untouched.
		e.value = value
		e.expiresAt = expiresAt
		return nil
	}
	if len(m.entries) >= m.threshold {
		if front := m.order.Front(); front != nil {
			m.remove(front.Value.(*memoryEntry))
		}
	}
	e := &memoryEntry{key: key, value: value, expiresAt: expiresAt}
	e.elem = m.order.PushBack(e)
	m.entries[key] = e
	return nil
}

func (m *memoryBackend) RefreshTTL(_ context.Context, key string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil
	}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, namespace, key string) error {
	full := m.fullKey(namespace, key)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, ok := m.entries[full]; ok {
		m.remove(e)
	}
	return nil
}

// Clear walks every entry looking for the namespace prefix. Linear, but
// the store is bounded by threshold.
func (m *memoryBackend) Clear(_ context.Context, namespace string) error {
	prefix := m.prefix(namespace)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key, e := range m.entries {
		if strings.HasPrefix(key, prefix) {
			m.remove(e)
		}
	}
	return nil
}

func (m *memoryBackend) Close(_ context.Context) error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
	})
	return nil
}

func (m *memoryBackend) run() {
	defer m.waitGroup.Done()
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			now := m.now()
			m.mutex.Lock()
			for _, e := range m.entries {
				if !e.expiresAt.IsZero() && e.expiresAt.Before(now) {
					m.remove(e)
				}
			}
			m.mutex.Unlock()
		}
	}
}

// size reports the current entry count. Used by tests to check the
// capacity bound.
func (m *memoryBackend) size() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.entries)
}
