package session

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/pkg/utilities"
)

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies stateless session cookies as HS256 JWTs.
type Codec struct {
	ring   atomic.Pointer[KeyRing]
	maxAge time.Duration
	now    func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(ring *KeyRing, maxAge time.Duration, opts ...Option) (*Codec, error) {
	if ring == nil || ring.Len() == 0 {
		return nil, ErrNoKeys
	}
	if maxAge <= 0 {
		return nil, errors.New("session max age must be positive")
	}
	c := &Codec{maxAge: maxAge, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.ring.Store(ring)
	return c, nil
}

// MaxAge is the lifetime given to newly issued sessions.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// Rotate swaps the key ring. Sessions signed by a key that is still in the
// new ring stay valid; sessions signed only by removed keys stop verifying.
func (c *Codec) Rotate(ring *KeyRing) error {
	if ring == nil || ring.Len() == 0 {
		return ErrNoKeys
	}
	c.ring.Store(ring)
	return nil
}

// Issue creates a cookie value for subjectID signed with the primary key.
func (c *Codec) Issue(subjectID string) (string, error) {
	return c.IssueFor(subjectID, "")
}

// IssueFor is Issue with the subject's email embedded in the session.
func (c *Codec) IssueFor(subjectID, email string) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", fmt.Errorf("%w: empty subject", ErrMalformed)
	}
	now := c.now()
	key := c.ring.Load().Primary()
	cl := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        utilities.NewKSUID(),
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	tok.Header["kid"] = key.ID
	signed, err := tok.SignedString(key.Secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Verify decodes value, checks its signature against every key in the ring
// and then its expiry. Errors wrap ErrMalformed, ErrInvalidSignature or
// ErrExpired, in that order of checking.
func (c *Codec) Verify(value string) (*Session, error) {
	parser := c.parser()

	var unverified claims
	if _, _, err := parser.ParseUnverified(value, &unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if unverified.Subject == "" || unverified.ExpiresAt == nil || unverified.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing sub, iat or exp", ErrMalformed)
	}
	if !unverified.ExpiresAt.After(unverified.IssuedAt.Time) {
		return nil, fmt.Errorf("%w: exp not after iat", ErrMalformed)
	}

	var lastErr error
	for _, key := range c.ring.Load().Keys() {
		var cl claims
		_, err := parser.ParseWithClaims(value, &cl, func(*jwt.Token) (any, error) {
			return key.Secret, nil
		})
		switch {
		case err == nil:
			return toSession(&cl), nil
		case errors.Is(err, jwt.ErrTokenExpired):
			// signature already matched; expiry is checked after it
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenMalformed):
			// header and claims decoded above, so a malformed error here
			// means the signature segment itself was tampered with
			lastErr = err
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (c *Codec) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
}

func toSession(cl *claims) *Session {
	return &Session{
		ID:        cl.ID,
		SubjectID: cl.Subject,
		Email:     cl.Email,
		IssuedAt:  cl.IssuedAt.Time,
		ExpiresAt: cl.ExpiresAt.Time,
	}
}
