package memory

import (
	"context"
	"sync"

	"github.com/hadijannat/titan-aas/internal/store"
)

// AuditStore is an in-memory append-only log, used in tests and for local
// development in place of internal/store/postgres's AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	records []store.AuditRecord
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

var _ store.AuditStore = (*AuditStore)(nil)

func (a *AuditStore) Append(ctx context.Context, rec store.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

// Records returns a snapshot of every appended record, oldest first.
func (a *AuditStore) Records() []store.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]store.AuditRecord, len(a.records))
	copy(out, a.records)
	return out
}
