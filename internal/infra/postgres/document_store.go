package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"noob2root-bot/internal/domain"
)

// DocumentStore keeps documents as JSONB rows keyed by (collection, key).
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

func (s *DocumentStore) Load(ctx context.Context, collection, key string, dst any) error {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE collection=$1 AND key=$2`, collection, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("load document %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal document %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *DocumentStore) Save(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", collection, key, err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO documents (collection, key, data, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, key, raw)
	if err != nil {
		return fmt.Errorf("save document %s/%s: %w", collection, key, err)
	}
	return nil
}
