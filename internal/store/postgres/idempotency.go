package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/store"
	pgbase "github.com/hadijannat/titan-aas/pkg/storage/postgres"
)

// IdempotencyStore persists SPEC_FULL.md §12's idempotency-key-on-create
// mapping into the idempotency_keys table created by migration 0007.
type IdempotencyStore struct {
	base *pgbase.BaseStore
}

// NewIdempotencyStore wraps db for the idempotency_keys table.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{base: pgbase.NewBaseStore(db, "idempotency_keys")}
}

var _ store.IdempotencyStore = (*IdempotencyStore)(nil)

func (s *IdempotencyStore) Lookup(ctx context.Context, entityType, key string) (string, string, bool, error) {
	var bodySHA256, entityID string
	row := s.base.QueryRowContext(ctx, `
		SELECT body_sha256, entity_id FROM idempotency_keys WHERE entity_type = $1 AND key = $2
	`, entityType, key)
	err := row.Scan(&bodySHA256, &entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, apierr.StoreUnavailable(err)
	}
	return bodySHA256, entityID, true, nil
}

func (s *IdempotencyStore) Record(ctx context.Context, entityType, key, bodySHA256, entityID string) error {
	_, err := s.base.ExecContext(ctx, `
		INSERT INTO idempotency_keys (entity_type, key, body_sha256, entity_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, key) DO NOTHING
	`, entityType, key, bodySHA256, entityID)
	if err != nil {
		return fmt.Errorf("postgres: record idempotency key: %w", err)
	}
	return nil
}
