package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBackend keeps entries in process memory
type MemoryBackend struct {
	mu         sync.RWMutex
	items      map[string]memoryItem
	generation atomic.Int64
	config     Config
	now        func() time.Time
	cancel     context.CancelFunc
}

type memoryItem struct {
	value      []byte
	expiration time.Time
}

// NewMemoryBackend creates an in-memory backend and starts its expiry sweep
func NewMemoryBackend(config Config) *MemoryBackend {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MemoryBackend{
		items:  make(map[string]memoryItem),
		config: config,
		now:    time.Now,
		cancel: cancel,
	}
	go m.sweep(ctx, time.Minute)
	return m
}

// Get returns the value stored under key
func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	item, ok := m.items[m.config.Prefix+key]
	m.mu.RUnlock()

	if !ok || m.expired(item, m.now()) {
		return nil, ErrMiss
	}
	return item.value, nil
}

// Set stores value under key
func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[m.config.Prefix+key] = item
	m.mu.Unlock()
	return nil
}

// Generation returns the current generation
func (m *MemoryBackend) Generation(context.Context) (int64, error) {
	return m.generation.Load(), nil
}

// Advance starts a new generation and drops every entry, since none of
// them can be reached anymore
func (m *MemoryBackend) Advance(context.Context) (int64, error) {
	gen := m.generation.Add(1)
	m.mu.Lock()
	m.items = make(map[string]memoryItem)
	m.mu.Unlock()
	return gen, nil
}

// Close stops the expiry sweep
func (m *MemoryBackend) Close() error {
	m.cancel()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryBackend) expired(item memoryItem, now time.Time) bool {
	return !item.expiration.IsZero() && now.After(item.expiration)
}

func (m *MemoryBackend) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.removeExpired()
		}
	}
}

func (m *MemoryBackend) removeExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, item := range m.items {
		if m.expired(item, now) {
			delete(m.items, key)
		}
	}
}
