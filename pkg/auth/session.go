package auth

import (
	"net/http"

	"github.com/Sternrassler/creator-api-client/pkg/model"
)

// SessionState is an immutable snapshot of the session. The machine swaps
// in a new snapshot on every change, so readers never see a partial update.
type SessionState struct {
	Credentials Credentials
	Header      http.Header
	Cookies     []*http.Cookie
	Active      bool
	Guest       bool
	Profile     model.User
}

func newSessionState(creds Credentials, guest bool) *SessionState {
	s := &SessionState{
		Credentials: creds,
		Header:      creds.Headers(),
		Guest:       guest,
	}
	if !guest {
		s.Cookies = creds.Cookies()
	}
	if id, ok := parseIdentity(creds.IdentityID); ok {
		s.Profile.ID = id
	}
	return s
}

// clone returns a deep copy suitable for modification.
func (s *SessionState) clone() *SessionState {
	out := *s
	out.Header = s.Header.Clone()
	out.Cookies = make([]*http.Cookie, len(s.Cookies))
	for i, c := range s.Cookies {
		cookie := *c
		out.Cookies[i] = &cookie
	}
	out.Profile = s.Profile.Snapshot()
	return &out
}
