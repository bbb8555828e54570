package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached collection.
type CacheKey struct {
	// Resource is the collection name (e.g., "chats", "paid_content")
	Resource string

	// AccountID is the authenticated account the collection belongs to
	AccountID int64

	// Params distinguish variants of a resource (e.g., {"list": "7"})
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: content:resource:param1=val1:acct=123456
//
// Example:
//
//	content:list_users:list=7:acct=42
func (k CacheKey) String() string {
	parts := []string{"content"}

	resource := strings.Trim(k.Resource, ":/ ")
	if resource != "" {
		parts = append(parts, resource)
	}

	// Add params (sorted for determinism)
	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params.Get(key)))
		}
	}

	parts = append(parts, fmt.Sprintf("acct=%d", k.AccountID))

	return strings.Join(parts, ":")
}
