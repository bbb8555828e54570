// Package auth drives the authenticated session: login with second-factor
// recovery, session probing, guest mode, and the headers and cookies every
// request carries.
package auth

import (
	"net/http"
	"strings"
)

// Credentials identify an account session.
type Credentials struct {
	// IdentityID is the numeric account id sent as auth_id and user-id.
	IdentityID string
	// SessionToken is the sess cookie.
	SessionToken string
	AuthHash     string
	AuthUniq     string
	UserAgent    string
	// XBC is the browser fingerprint header.
	XBC string
	// Supports2FA allows the machine to answer second-factor challenges.
	Supports2FA bool
}

// Validate checks that a session can be attempted.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.IdentityID) == "" || strings.TrimSpace(c.SessionToken) == "" {
		return ErrNoCredentials
	}
	return nil
}

// Cookies returns the session cookies.
func (c Credentials) Cookies() []*http.Cookie {
	cookies := []*http.Cookie{
		{Name: "auth_id", Value: c.IdentityID},
		{Name: "sess", Value: c.SessionToken},
	}
	if c.AuthHash != "" {
		cookies = append(cookies, &http.Cookie{Name: "auth_hash", Value: c.AuthHash})
	}
	if c.AuthUniq != "" {
		cookies = append(cookies, &http.Cookie{Name: "auth_uniq_" + c.IdentityID, Value: c.AuthUniq})
	}
	return cookies
}

// Headers returns the static headers derived from the credentials.
func (c Credentials) Headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("User-Agent", c.UserAgent)
	h.Set("User-Id", c.IdentityID)
	if c.XBC != "" {
		h.Set("X-Bc", c.XBC)
	}
	return h
}
