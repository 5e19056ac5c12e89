package session

import (
	"errors"
	"time"
)

// Session is the identity carried by a signed session cookie. The server
// keeps no record of it.
type Session struct {
	ID        string
	SubjectID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Active reports whether the session is still inside its lifetime.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

var (
	ErrMalformed        = errors.New("session malformed")
	ErrExpired          = errors.New("session expired")
	ErrInvalidSignature = errors.New("session signature invalid")
	ErrNoKeys           = errors.New("session key ring is empty")
)
