package models

import (
	"time"
)

// SessionCredential holds the imported browser cookies that authenticate a
// user against the upstream service. The cookie map is the single source of
// truth for the user's upstream identity; updates are applied as merges so
// concurrently-arrived cookie rotations are never lost.
type SessionCredential struct {
	UserID    string            `badgerhold:"key" json:"user_id"`
	Cookies   map[string]string `json:"cookies"`
	AuthUser  string            `json:"auth_user"` // X-Goog-AuthUser account index
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsAuthenticated reports whether the cookie map carries the identity cookie
// required for requests to be considered authenticated.
func (c *SessionCredential) IsAuthenticated() bool {
	if c == nil {
		return false
	}
	_, ok := c.Cookies["SAPISID"]
	return ok
}

// CookieHeader renders the cookie map as a Cookie request header value.
func (c *SessionCredential) CookieHeader() string {
	header := ""
	for name, value := range c.Cookies {
		if header != "" {
			header += "; "
		}
		header += name + "=" + value
	}
	return header
}
