package entity

import "time"

// StateToken is an in-flight login attempt, identified by the nonce sent to
// the provider as the OAuth2 state parameter.
type StateToken struct {
	Nonce     string    `db:"nonce"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired reports whether the token is at or past its TTL.
func (t StateToken) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.CreatedAt) >= ttl
}
