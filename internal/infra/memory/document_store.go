package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"noob2root-bot/internal/domain"
)

// DocumentStore keeps JSON documents in a map. It is the default backend
// for tests and single-process demos.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string][]byte)}
}

func (s *DocumentStore) Load(_ context.Context, collection, key string, dst any) error {
	s.mu.RLock()
	raw, ok := s.docs[collection+"/"+key]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *DocumentStore) Save(_ context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	s.mu.Lock()
	s.docs[collection+"/"+key] = raw
	s.mu.Unlock()
	return nil
}
