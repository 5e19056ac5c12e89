package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state/repo"
)

const nonceBytes = 32

// Store is what the login flow needs from the state token store.
type Store interface {
	Create(ctx context.Context) (string, error)
	Consume(ctx context.Context, nonce string) (bool, error)
}

// Repo persists state tokens. Take must be atomic: a nonce is returned to
// at most one caller.
type Repo interface {
	Save(ctx context.Context, tok entity.StateToken, ttl time.Duration) error
	Take(ctx context.Context, nonce string) (entity.StateToken, error)
}

// Purger is implemented by backends whose entries do not expire on their own.
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service issues single-use state nonces and consumes them exactly once.
type Service struct {
	repo   Repo
	ttl    time.Duration
	logger *zap.SugaredLogger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(r Repo, ttl time.Duration, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{repo: r, ttl: ttl, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create generates a fresh nonce and records it with the current time.
func (s *Service) Create(ctx context.Context) (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(buf)
	tok := entity.StateToken{Nonce: nonce, CreatedAt: s.now()}
	if err := s.repo.Save(ctx, tok, s.ttl); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}
	return nonce, nil
}

// Consume reports whether nonce was issued, is within its TTL, and has not
// been consumed before. A nonce is removed on first presentation whatever
// the outcome, so it can never succeed twice.
func (s *Service) Consume(ctx context.Context, nonce string) (bool, error) {
	if nonce == "" {
		return false, nil
	}
	tok, err := s.repo.Take(ctx, nonce)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume state: %w", err)
	}
	if tok.Expired(s.now(), s.ttl) {
		s.logger.Debugw("state token expired", "age", s.now().Sub(tok.CreatedAt))
		return false, nil
	}
	return true, nil
}

// RunJanitor periodically purges expired tokens until ctx is done. It
// returns immediately for backends that expire entries themselves.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	p, ok := s.repo.(Purger)
	if !ok {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeExpired(ctx, s.now().Add(-s.ttl))
			if err != nil {
				s.logger.Warnw("purge expired state tokens", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debugw("purged expired state tokens", "count", n)
			}
		}
	}
}
