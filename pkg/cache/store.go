package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store persists collections. Save replaces any previous collection for key.
type Store interface {
	Load(ctx context.Context, key CacheKey) (*Entry, error)
	Save(ctx context.Context, key CacheKey, entry *Entry) error
	Delete(ctx context.Context, key CacheKey) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates a memory store. A ttl of zero keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]*Entry),
	}
}

// Load returns a copy of the stored entry or ErrCacheMiss.
func (s *MemoryStore) Load(_ context.Context, key CacheKey) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key.String()]
	s.mu.RUnlock()

	if !ok || entry.IsExpired() {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("memory").Inc()
	return entry.clone(), nil
}

// Save stores a copy of entry.
func (s *MemoryStore) Save(_ context.Context, key CacheKey, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}

	stored := entry.clone()
	if stored.Expires.IsZero() && s.ttl > 0 {
		stored.Expires = stored.CachedAt.Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[key.String()] = stored
	s.mu.Unlock()
	return nil
}

// Delete removes a cache entry.
func (s *MemoryStore) Delete(_ context.Context, key CacheKey) error {
	s.mu.Lock()
	delete(s.entries, key.String())
	s.mu.Unlock()
	return nil
}
