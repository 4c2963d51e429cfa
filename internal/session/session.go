// Package session persists and restores authentication state per publisher
// identity so scrape runs can reuse cookies instead of logging in every time.
package session

import (
	"net/http"
	"time"
)

// Cookie is one captured cookie with the attributes needed to rebuild a jar.
type Cookie struct {
	Name     string    `json:"name"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Value    string    `json:"value"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
	Expiry   time.Time `json:"expiry,omitempty"`
}

// State is the authentication state for one publisher identity.
type State struct {
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
}

// ValidUntil returns the minimum non-zero cookie expiry. ok is false when no
// cookie carries an expiry, in which case the session age is unknown.
func (s State) ValidUntil() (until time.Time, ok bool) {
	for _, c := range s.Cookies {
		if c.Expiry.IsZero() {
			continue
		}
		if !ok || c.Expiry.Before(until) {
			until = c.Expiry
			ok = true
		}
	}
	return until, ok
}

// IsValid reports whether the session can plausibly still authenticate
// requests at the given time. Unknown expiry is treated as valid but
// advisory: a health-check failure downstream still forces re-auth.
func (s State) IsValid(now time.Time) bool {
	if len(s.Cookies) == 0 {
		return false
	}
	until, ok := s.ValidUntil()
	if !ok {
		return true
	}
	return now.Before(until)
}

// HTTPCookies converts the captured state into cookies suitable for seeding
// an http.CookieJar.
func (s State) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
			Expires:  c.Expiry,
		})
	}
	return out
}

// FromHTTPCookies captures the given cookies as session state.
func FromHTTPCookies(cookies []*http.Cookie, capturedAt time.Time) State {
	s := State{CapturedAt: capturedAt}
	for _, c := range cookies {
		s.Cookies = append(s.Cookies, Cookie{
			Name:     c.Name,
			Domain:   c.Domain,
			Path:     c.Path,
			Value:    c.Value,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
			Expiry:   c.Expires,
		})
	}
	return s
}
