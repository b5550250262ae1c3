package models

import (
	"time"
)

// User is a local account that owns imported upstream credentials,
// webhook subscriptions and websocket connections.
type User struct {
	ID           string    `badgerhold:"key" json:"id"`
	Email        string    `badgerhold:"index" json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// APISession is a bearer token issued at login and presented on every
// request, including the websocket upgrade.
type APISession struct {
	Token     string    `badgerhold:"key" json:"token"`
	UserID    string    `badgerhold:"index" json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry.
func (s *APISession) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
