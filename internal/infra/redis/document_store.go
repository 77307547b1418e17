package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"noob2root-bot/internal/domain"
)

// DocumentStore keeps each document as a JSON string at doc:{collection}:{key}.
type DocumentStore struct {
	client *redis.Client
}

func NewDocumentStore(client *redis.Client) *DocumentStore {
	return &DocumentStore{client: client}
}

func (s *DocumentStore) Load(ctx context.Context, collection, key string, dst any) error {
	raw, err := s.client.Get(ctx, docKey(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *DocumentStore) Save(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	if err := s.client.Set(ctx, docKey(collection, key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, key, err)
	}
	return nil
}

func docKey(collection, key string) string {
	return "doc:" + collection + ":" + key
}
