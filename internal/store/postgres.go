package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	_createEntries = `CREATE TABLE IF NOT EXISTS kv_entries (
							key TEXT PRIMARY KEY,
							value BYTEA NOT NULL,
							updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
						)`
	_queryEntry  = "SELECT value FROM kv_entries WHERE key = $1"
	_upsertEntry = `INSERT INTO kv_entries (key, value, updated_at)
							VALUES ($1, $2, now())
							ON CONFLICT (key)
							DO UPDATE SET
								value = EXCLUDED.value,
								updated_at = EXCLUDED.updated_at;`
)

type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(ctx context.Context, db *sqlx.DB) (*Postgres, error) {
	if _, err := db.ExecContext(ctx, _createEntries); err != nil {
		return nil, fmt.Errorf("%w: can't create kv_entries", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := p.db.GetContext(ctx, &value, _queryEntry, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: can't query entry", err)
	}
	return value, nil
}

func (p *Postgres) Save(ctx context.Context, key string, blob []byte) error {
	if _, err := p.db.ExecContext(ctx, _upsertEntry, key, blob); err != nil {
		return fmt.Errorf("%w: can't upsert entry", err)
	}
	return nil
}
