package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state/entity"
)

const defaultRedisPrefix = "oauth_state"

// RedisRepo stores state tokens as keys that expire on their own.
// Consumption uses GETDEL so only one caller observes the value.
type RedisRepo struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRepo(client redis.UniversalClient, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRepo{client: client, prefix: prefix}
}

func (r *RedisRepo) key(nonce string) string {
	return r.prefix + ":" + nonce
}

func (r *RedisRepo) Save(ctx context.Context, tok entity.StateToken, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(tok.Nonce), tok.CreatedAt.UnixNano(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}

func (r *RedisRepo) Take(ctx context.Context, nonce string) (entity.StateToken, error) {
	created, err := r.client.GetDel(ctx, r.key(nonce)).Int64()
	if errors.Is(err, redis.Nil) {
		return entity.StateToken{}, ErrNotFound
	}
	if err != nil {
		return entity.StateToken{}, fmt.Errorf("redis getdel state: %w", err)
	}
	return entity.StateToken{Nonce: nonce, CreatedAt: time.Unix(0, created)}, nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}
