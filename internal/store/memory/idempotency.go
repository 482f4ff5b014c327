package memory

import (
	"context"
	"sync"

	"github.com/hadijannat/titan-aas/internal/store"
)

type idempotencyKey struct {
	entityType string
	key        string
}

type idempotencyRecord struct {
	bodySHA256 string
	entityID   string
}

// IdempotencyStore is an in-memory implementation of
// store.IdempotencyStore, used in tests and for local development.
type IdempotencyStore struct {
	mu      sync.RWMutex
	records map[idempotencyKey]idempotencyRecord
}

// NewIdempotencyStore creates an empty IdempotencyStore.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[idempotencyKey]idempotencyRecord)}
}

var _ store.IdempotencyStore = (*IdempotencyStore)(nil)

func (s *IdempotencyStore) Lookup(ctx context.Context, entityType, key string) (string, string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[idempotencyKey{entityType, key}]
	if !ok {
		return "", "", false, nil
	}
	return rec.bodySHA256, rec.entityID, true, nil
}

func (s *IdempotencyStore) Record(ctx context.Context, entityType, key, bodySHA256, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[idempotencyKey{entityType, key}] = idempotencyRecord{bodySHA256: bodySHA256, entityID: entityID}
	return nil
}
