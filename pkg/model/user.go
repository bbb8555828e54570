// Package model defines the records exchanged with the content API.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SubscribedByData describes the account's subscription to a user.
type SubscribedByData struct {
	ExpiredAt       string  `json:"expiredAt,omitempty"`
	SubscribeAt     string  `json:"subscribeAt,omitempty"`
	Status          string  `json:"status,omitempty"`
	Price           float64 `json:"price,omitempty"`
	RenewedAt       string  `json:"renewedAt,omitempty"`
	IsMuted         bool    `json:"isMuted,omitempty"`
	RegularPrice    float64 `json:"regularPrice,omitempty"`
	SubscribePrice  float64 `json:"subscribePrice,omitempty"`
	DiscountPercent int     `json:"discountPercent,omitempty"`
}

// Expiry parses ExpiredAt. It reports false when unset or unparsable.
func (d *SubscribedByData) Expiry() (time.Time, bool) {
	if d == nil || d.ExpiredAt == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, d.ExpiredAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// User is a profile as returned by the users endpoints.
type User struct {
	ID                int64             `json:"id"`
	Username          string            `json:"username,omitempty"`
	Name              string            `json:"name,omitempty"`
	Email             string            `json:"email,omitempty"`
	Avatar            string            `json:"avatar,omitempty"`
	Header            string            `json:"header,omitempty"`
	About             string            `json:"about,omitempty"`
	IsPerformer       bool              `json:"isPerformer,omitempty"`
	IsVerified        bool              `json:"isVerified,omitempty"`
	ChatMessagesCount int               `json:"chatMessagesCount,omitempty"`
	SubscribesCount   int               `json:"subscribesCount,omitempty"`
	PostsCount        int               `json:"postsCount,omitempty"`
	PhotosCount       int               `json:"photosCount,omitempty"`
	VideosCount       int               `json:"videosCount,omitempty"`
	SubscribePrice    float64           `json:"subscribePrice,omitempty"`
	JoinDate          string            `json:"joinDate,omitempty"`
	SubscribedBy      bool              `json:"subscribedBy,omitempty"`
	SubscribedByData  *SubscribedByData `json:"subscribedByData,omitempty"`
}

// userFields is the set of keys Merge accepts.
var userFields = map[string]struct{}{
	"id":                {},
	"username":          {},
	"name":              {},
	"email":             {},
	"avatar":            {},
	"header":            {},
	"about":             {},
	"isPerformer":       {},
	"isVerified":        {},
	"chatMessagesCount": {},
	"subscribesCount":   {},
	"postsCount":        {},
	"photosCount":       {},
	"videosCount":       {},
	"subscribePrice":    {},
	"joinDate":          {},
	"subscribedBy":      {},
	"subscribedByData":  {},
}

// Merge overwrites the declared fields present in data. Unknown keys are
// ignored and returned. A field that fails to decode leaves u unchanged.
func (u *User) Merge(data map[string]json.RawMessage) (ignored []string, err error) {
	allowed := make(map[string]json.RawMessage, len(data))
	for key, value := range data {
		if _, ok := userFields[key]; !ok {
			ignored = append(ignored, key)
			continue
		}
		allowed[key] = value
	}
	if len(allowed) == 0 {
		return ignored, nil
	}

	filtered, err := json.Marshal(allowed)
	if err != nil {
		return ignored, fmt.Errorf("encode user fields: %w", err)
	}

	next := u.Snapshot()
	if err := json.Unmarshal(filtered, &next); err != nil {
		return ignored, fmt.Errorf("decode user fields: %w", err)
	}
	*u = next
	return ignored, nil
}

// MergeJSON merges a JSON object body into u. See Merge.
func (u *User) MergeJSON(body []byte) error {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("decode user object: %w", err)
	}
	_, err := u.Merge(data)
	return err
}

// Snapshot returns a deep copy of the declared data fields.
func (u User) Snapshot() User {
	out := u
	if u.SubscribedByData != nil {
		data := *u.SubscribedByData
		out.SubscribedByData = &data
	}
	return out
}

// Handle returns the username, falling back to "u<id>" for accounts
// without one.
func (u User) Handle() string {
	if u.Username != "" {
		return u.Username
	}
	return "u" + strconv.FormatInt(u.ID, 10)
}

// Matches reports whether identifier names u by username or numeric id.
func (u User) Matches(identifier string) bool {
	if identifier == "" {
		return false
	}
	if identifier == u.Username {
		return true
	}
	id, err := strconv.ParseInt(identifier, 10, 64)
	return err == nil && id == u.ID
}

// ParseUser decodes a user object.
func ParseUser(body []byte) (User, error) {
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}
