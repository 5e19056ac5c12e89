package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/state/entity"
)

// schema for the Postgres backend:
// CREATE TABLE oauth_states (
//   nonce TEXT PRIMARY KEY,
//   created_at TIMESTAMP WITH TIME ZONE NOT NULL
// );
const createTable = `CREATE TABLE IF NOT EXISTS oauth_states (
	nonce TEXT PRIMARY KEY,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL
)`

// StateRepo is the Postgres backend, for deployments running more than one
// instance without Redis.
type StateRepo struct {
	db *sqlx.DB
}

func NewStateRepo(db *sqlx.DB) *StateRepo {
	return &StateRepo{db: db}
}

// EnsureTable creates the oauth_states table if missing.
func (r *StateRepo) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create oauth_states: %w", err)
	}
	return nil
}

func (r *StateRepo) Save(ctx context.Context, tok entity.StateToken, _ time.Duration) error {
	query := `INSERT INTO oauth_states (nonce, created_at) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, tok.Nonce, tok.CreatedAt); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

// Take deletes the row and returns it in one statement; under concurrent
// calls only one DELETE finds the row.
func (r *StateRepo) Take(ctx context.Context, nonce string) (entity.StateToken, error) {
	var tok entity.StateToken
	query := `DELETE FROM oauth_states WHERE nonce = $1 RETURNING nonce, created_at`
	if err := r.db.GetContext(ctx, &tok, query, nonce); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.StateToken{}, ErrNotFound
		}
		return entity.StateToken{}, fmt.Errorf("take state: %w", err)
	}
	return tok, nil
}

func (r *StateRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge states: %w", err)
	}
	return res.RowsAffected()
}

func (r *StateRepo) Close() error {
	return r.db.Close()
}
