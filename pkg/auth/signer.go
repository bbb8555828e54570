package auth

import (
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer derives per-request headers from the link being requested.
type Signer interface {
	Sign(link, identityID string, now time.Time) http.Header
}

// NopSigner adds no headers.
type NopSigner struct{}

// Sign implements Signer.
func (NopSigner) Sign(string, string, time.Time) http.Header {
	return nil
}

// HashSigner signs requests with a SHA-1 digest over a shared secret, the
// timestamp, the request path and the identity.
type HashSigner struct {
	Secret   string
	AppToken string
}

// Sign implements Signer.
func (s HashSigner) Sign(link, identityID string, now time.Time) http.Header {
	path := link
	if u, err := url.Parse(link); err == nil {
		path = u.RequestURI()
	}
	ts := strconv.FormatInt(now.UnixMilli(), 10)

	sum := sha1.Sum([]byte(strings.Join([]string{s.Secret, ts, path, identityID}, "\n")))

	h := http.Header{}
	h.Set("Sign", hex.EncodeToString(sum[:]))
	h.Set("Time", ts)
	if s.AppToken != "" {
		h.Set("App-Token", s.AppToken)
	}
	return h
}
