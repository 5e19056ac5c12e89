package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/pkg/database"
)

var ErrUnknownBackend = errors.New("unknown state store backend")

// OpenRepo builds the repo named by kind. The returned close func releases
// any connection the backend holds.
func OpenRepo(ctx context.Context, kind, redisAddr string, dbCfg database.Config) (Repo, func() error, error) {
	switch kind {
	case "", "memory":
		return repo.NewMemoryRepo(), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		r := repo.NewRedisRepo(client, "")
		return r, r.Close, nil
	case "postgres":
		db, err := database.Connect(ctx, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		r := repo.NewStateRepo(db)
		if err := r.EnsureTable(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}
