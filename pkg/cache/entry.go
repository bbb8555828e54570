package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached collection.
type Entry struct {
	// Records are the raw records in stored order.
	Records []json.RawMessage `json:"records"`

	// CachedAt is when the collection was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale. Zero means it never expires.
	Expires time.Time `json:"expires,omitempty"`
}

// NewEntry creates an entry for records stamped with the current time.
func NewEntry(records []json.RawMessage) *Entry {
	return &Entry{
		Records:  records,
		CachedAt: time.Now(),
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if the entry never expires or already expired.
func (e *Entry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// clone copies the record slice so callers cannot mutate stored state.
func (e *Entry) clone() *Entry {
	out := *e
	out.Records = make([]json.RawMessage, len(e.Records))
	copy(out.Records, e.Records)
	return &out
}
