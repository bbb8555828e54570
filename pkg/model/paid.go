package model

import (
	"encoding/json"
)

// ContentKind classifies paid content records.
type ContentKind string

const (
	// KindMessage is content bought through a chat message.
	KindMessage ContentKind = "message"
	// KindPost is content bought through a post.
	KindPost ContentKind = "post"
)

// ClassifyPaid returns the kind of a paid-content record. Records with any
// other responseType are reported as not kept.
func ClassifyPaid(raw json.RawMessage) (ContentKind, bool) {
	var head struct {
		ResponseType string `json:"responseType"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", false
	}
	switch kind := ContentKind(head.ResponseType); kind {
	case KindMessage, KindPost:
		return kind, true
	default:
		return "", false
	}
}
