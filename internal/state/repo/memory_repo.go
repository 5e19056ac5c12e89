package repo

import (
	"context"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state/entity"
)

// MemoryRepo keeps state tokens in process memory. Tokens are lost on
// restart, which only fails logins that were in flight at the time.
type MemoryRepo struct {
	mu     sync.Mutex
	tokens map[string]entity.StateToken
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tokens: make(map[string]entity.StateToken)}
}

func (r *MemoryRepo) Save(_ context.Context, tok entity.StateToken, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tok.Nonce] = tok
	return nil
}

// Take removes and returns the token under a single lock, so two concurrent
// callers can never both receive it.
func (r *MemoryRepo) Take(_ context.Context, nonce string) (entity.StateToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[nonce]
	if !ok {
		return entity.StateToken{}, ErrNotFound
	}
	delete(r.tokens, nonce)
	return tok, nil
}

// PurgeExpired drops tokens created before cutoff and returns how many.
func (r *MemoryRepo) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, tok := range r.tokens {
		if tok.CreatedAt.Before(cutoff) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
