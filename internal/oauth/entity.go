package oauth

import (
	"errors"
	"time"
)

// CredentialBundle holds what the token endpoint returned. It is only used
// to fetch the profile and is never stored or logged.
type CredentialBundle struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	IDToken      string
}

// Profile is the subset of the provider's user info the service relies on.
type Profile struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	Name          string
}

var (
	// ErrProviderRejectedCode means the code was bad, expired or already
	// redeemed. Retrying cannot help.
	ErrProviderRejectedCode = errors.New("provider rejected authorization code")
	ErrNetwork              = errors.New("provider unreachable")
	ErrProvider             = errors.New("provider error")
	ErrInvalidToken         = errors.New("provider rejected access token")
)

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrProvider)
}
