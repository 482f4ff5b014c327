package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hadijannat/titan-aas/internal/store"
	pgbase "github.com/hadijannat/titan-aas/pkg/storage/postgres"
)

// AuditStore persists the append-only audit trail (SPEC_FULL.md §12) into
// the audit_log table created by migration 0005.
type AuditStore struct {
	base *pgbase.BaseStore
}

// NewAuditStore wraps db for the audit_log table.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{base: pgbase.NewBaseStore(db, "audit_log")}
}

var _ store.AuditStore = (*AuditStore)(nil)

func (a *AuditStore) Append(ctx context.Context, rec store.AuditRecord) error {
	_, err := a.base.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, operation, etag, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.EntityType, rec.ID, rec.Operation, nullable(rec.ETag), rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("postgres: append audit record: %w", err)
	}
	return nil
}
