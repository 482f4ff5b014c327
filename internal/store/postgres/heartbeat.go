package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/store"
	pgbase "github.com/hadijannat/titan-aas/pkg/storage/postgres"
)

// HeartbeatStore persists SPEC_FULL.md §12's descriptor heartbeat/TTL
// tracking into the descriptor_heartbeats table created by migration 0007,
// kept separate from the shared shell_descriptors/submodel_descriptors
// rows so the generic Store's select list does not need a column only two
// of its four tables carry.
type HeartbeatStore struct {
	base *pgbase.BaseStore
}

// NewHeartbeatStore wraps db for the descriptor_heartbeats table.
func NewHeartbeatStore(db *sql.DB) *HeartbeatStore {
	return &HeartbeatStore{base: pgbase.NewBaseStore(db, "descriptor_heartbeats")}
}

var _ store.HeartbeatStore = (*HeartbeatStore)(nil)

func (s *HeartbeatStore) Touch(ctx context.Context, entityType, id string) error {
	_, err := s.base.ExecContext(ctx, `
		INSERT INTO descriptor_heartbeats (entity_type, id, last_seen_at)
		VALUES ($1, $2, now())
		ON CONFLICT (entity_type, id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
	`, entityType, id)
	if err != nil {
		return fmt.Errorf("postgres: touch descriptor heartbeat: %w", err)
	}
	return nil
}

func (s *HeartbeatStore) LastSeen(ctx context.Context, entityType, id string) (time.Time, bool, error) {
	var lastSeen time.Time
	row := s.base.QueryRowContext(ctx, `
		SELECT last_seen_at FROM descriptor_heartbeats WHERE entity_type = $1 AND id = $2
	`, entityType, id)
	err := row.Scan(&lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apierr.StoreUnavailable(err)
	}
	return lastSeen, true, nil
}

func (s *HeartbeatStore) Stale(ctx context.Context, entityType string, horizon time.Duration, now time.Time) ([]string, error) {
	rows, err := s.base.QueryContext(ctx, `
		SELECT id FROM descriptor_heartbeats WHERE entity_type = $1 AND last_seen_at < $2
	`, entityType, now.Add(-horizon))
	if err != nil {
		return nil, apierr.StoreUnavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierr.StoreUnavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.StoreUnavailable(err)
	}
	return ids, nil
}
