package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
)

// MemoryBackend implements Backend using an in-process map.
// All data is lost when the process exits.
//
// MemoryBackend is thread-safe using sync.RWMutex. Swap serializes on the
// write lock, which is what gives compare-and-swap its atomicity here.
type MemoryBackend struct {
	// entries maps composite key (namespace:key) to entry.
	entries map[string]*Entry

	mu sync.RWMutex

	// maxEntries caps the map size; the stalest entry is evicted on overflow.
	maxEntries int

	cleanupInterval time.Duration
	clk             clock.Clock

	done      chan struct{}
	closeOnce sync.Once
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of entries to hold.
	// Default: 100,000
	MaxEntries int

	// CleanupInterval is how often expired entries are removed.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Clock supplies time for expiry checks. Default: system clock.
	Clock clock.Clock
}

// NewMemoryBackend creates an in-memory backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates an in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	backend := &MemoryBackend{
		entries:         make(map[string]*Entry),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		clk:             cfg.Clock,
		done:            make(chan struct{}),
	}

	go backend.cleanupLoop()

	return backend
}

// Get retrieves an entry. Expired entries read as absent.
func (m *MemoryBackend) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[makeKey(namespace, key)]
	if !ok || m.expired(e) {
		return nil, nil
	}

	cp := *e
	return &cp, nil
}

// Swap writes value if the stored version matches expect.
func (m *MemoryBackend) Swap(ctx context.Context, namespace, key string, expect int64, value []byte, ttl time.Duration) (*Entry, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}

	k := makeKey(namespace, key)
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[k]
	if ok && m.expired(cur) {
		delete(m.entries, k)
		cur, ok = nil, false
	}

	if expect == 0 {
		if ok {
			return nil, ErrConflict
		}
		if len(m.entries) >= m.maxEntries {
			m.evictStalestLocked()
		}
		e := &Entry{
			Namespace: namespace,
			Key:       key,
			Value:     value,
			Version:   1,
			ExpiresAt: expiry(now, ttl),
			UpdatedAt: now,
			CreatedAt: now,
		}
		m.entries[k] = e
		cp := *e
		return &cp, nil
	}

	if !ok || cur.Version != expect {
		return nil, ErrConflict
	}

	e := &Entry{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		Version:   cur.Version + 1,
		ExpiresAt: expiry(now, ttl),
		UpdatedAt: now,
		CreatedAt: cur.CreatedAt,
	}
	m.entries[k] = e
	cp := *e
	return &cp, nil
}

// Put unconditionally upserts an entry.
func (m *MemoryBackend) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (*Entry, error) {
	if err := validateKey(namespace, key); err != nil {
		return nil, err
	}

	k := makeKey(namespace, key)
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[k]
	if ok && m.expired(cur) {
		cur, ok = nil, false
	}

	var e *Entry
	if ok {
		e = &Entry{
			Namespace: namespace,
			Key:       key,
			Value:     value,
			Version:   cur.Version + 1,
			ExpiresAt: expiry(now, ttl),
			UpdatedAt: now,
			CreatedAt: cur.CreatedAt,
		}
	} else {
		if len(m.entries) >= m.maxEntries {
			m.evictStalestLocked()
		}
		e = &Entry{
			Namespace: namespace,
			Key:       key,
			Value:     value,
			Version:   1,
			ExpiresAt: expiry(now, ttl),
			UpdatedAt: now,
			CreatedAt: now,
		}
	}
	m.entries[k] = e
	cp := *e
	return &cp, nil
}

// Delete removes an entry.
func (m *MemoryBackend) Delete(ctx context.Context, namespace, key string) error {
	if err := validateKey(namespace, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, makeKey(namespace, key))
	return nil
}

// List returns all live entries in a namespace.
func (m *MemoryBackend) List(ctx context.Context, namespace string) ([]*Entry, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*Entry
	for _, e := range m.entries {
		if e.Namespace == namespace && !m.expired(e) {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

// Cleanup removes entries that expired before the given time.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for k, e := range m.entries {
		if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(olderThan) {
			delete(m.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

// Close stops the cleanup goroutine.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Size returns the current number of stored entries, including expired ones
// not yet cleaned up. Useful for monitoring and tests.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryBackend) expired(e *Entry) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(m.clk.Now())
}

// evictStalestLocked evicts the least recently updated entry.
// Caller must hold the write lock.
func (m *MemoryBackend) evictStalestLocked() {
	var (
		stalestKey  string
		stalestTime time.Time
		found       bool
	)
	for k, e := range m.entries {
		if !found || e.UpdatedAt.Before(stalestTime) {
			stalestKey = k
			stalestTime = e.UpdatedAt
			found = true
		}
	}
	if found {
		delete(m.entries, stalestKey)
	}
}

func (m *MemoryBackend) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background(), m.clk.Now())
		case <-m.done:
			return
		}
	}
}

func makeKey(namespace, key string) string {
	return namespace + ":" + key
}

func validateKey(namespace, key string) error {
	if namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	return nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
