// Package store defines the authoritative persistence layer contract from
// spec.md §4.3: dual-representation CRUD (parsed document + canonical
// bytes + ETag), cursor pagination, and entity-specific secondary-index
// finders. Concrete implementations live in internal/store/memory (a
// reference implementation used for tests and local development) and
// internal/store/postgres (the production implementation).
package store

import (
	"context"
	"time"

	"github.com/hadijannat/titan-aas/internal/model"
)

// Record is the dual representation spec.md §3 requires: every stored
// entity exposes both its canonical byte image and its content-addressed
// ETag alongside the identifier metadata needed for routing and caching.
type Record struct {
	ID            string
	IdentifierB64 string
	DocBytes      []byte
	ETag          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListOptions drives list_page and the entity-specific finders.
type ListOptions struct {
	Limit  int
	Cursor string
}

// ListPage is the result of a cursor-paginated query.
type ListPage struct {
	Items      []*Record
	NextCursor string
}

// EntityStore is the operation set spec.md §4.3 defines for every entity
// class. found=false with err=nil means "absent", matching the source's
// `| None` returns; errors are reserved for store-level failures
// (constraint violations, connectivity) the caller must map to a status.
type EntityStore interface {
	// GetByID is the fast-path lookup: bytes + etag only, no parse.
	GetByID(ctx context.Context, id string) (rec *Record, found bool, err error)

	// GetModelByID is the slow-path lookup: the parsed document, for
	// projection and element operations.
	GetModelByID(ctx context.Context, id string) (doc *model.Document, rec *Record, found bool, err error)

	// GetMany is the bulk "get by ids" read from SPEC_FULL.md §12: it
	// preserves the order of ids and reports per-id not-found rather than
	// failing the whole batch (a nil element at position i means ids[i]
	// was absent).
	GetMany(ctx context.Context, ids []string) ([]*Record, error)

	// Create stores a new entity. Fails with apierr.AlreadyExists if id is
	// already present.
	Create(ctx context.Context, doc *model.Document) (*Record, error)

	// Update replaces an entity's document wholesale. found=false means
	// absent (caller maps to 404); it recomputes extracted attributes and
	// the ETag.
	Update(ctx context.Context, id string, doc *model.Document) (rec *Record, found bool, err error)

	// Delete removes an entity. found=false means it was already absent.
	Delete(ctx context.Context, id string) (found bool, err error)

	// Exists reports whether id is present without fetching its body.
	Exists(ctx context.Context, id string) (bool, error)

	// ListPage returns a cursor-paginated page ordered by (created_at, id).
	ListPage(ctx context.Context, opts ListOptions) (*ListPage, error)
}

// ShellStore adds the AAS-specific secondary-index finders to EntityStore.
type ShellStore interface {
	EntityStore
	FindByGlobalAssetID(ctx context.Context, globalAssetID string, opts ListOptions) (*ListPage, error)
	FindBySpecificAssetID(ctx context.Context, name, value string, opts ListOptions) (*ListPage, error)
}

// SubmodelStore adds the Submodel-specific semanticId finder.
type SubmodelStore interface {
	EntityStore
	FindBySemanticID(ctx context.Context, semanticID string, opts ListOptions) (*ListPage, error)
}

// ConceptDescriptionStore adds the ConceptDescription-specific finders.
type ConceptDescriptionStore interface {
	EntityStore
	FindByIDShort(ctx context.Context, idShort string, opts ListOptions) (*ListPage, error)
	FindByIsCaseOf(ctx context.Context, value string, opts ListOptions) (*ListPage, error)
	FindByDataSpecification(ctx context.Context, value string, opts ListOptions) (*ListPage, error)
}

// DescriptorStore serves the Registry's shell/submodel descriptor
// namespaces; same shape and invariants as EntityStore, distinguished only
// by which namespace (table) it is bound to.
type DescriptorStore interface {
	EntityStore
}

// AuditStore persists the append-only audit trail from SPEC_FULL.md §12,
// one record per mutating operation.
type AuditStore interface {
	Append(ctx context.Context, rec AuditRecord) error
}

// AuditRecord is one audit-log entry.
type AuditRecord struct {
	EntityType string
	ID         string
	Operation  string // create|update|delete
	ETag       string // empty for delete
	OccurredAt time.Time
}

// BlobAssetStore tracks externalized Blob/File element payloads per
// spec.md §3's "Blob externalization" rule.
type BlobAssetStore interface {
	Put(ctx context.Context, asset BlobAsset) error
	Get(ctx context.Context, submodelID, idShortPath string) (*BlobAsset, bool, error)
	FindBySHA256(ctx context.Context, sum string) (*BlobAsset, bool, error)
	Delete(ctx context.Context, submodelID, idShortPath string) error
}

// BlobAsset is one externalized Blob/File payload record.
type BlobAsset struct {
	SubmodelID  string
	IDShortPath string
	StorageURI  string
	ContentType string
	Size        int64
	SHA256      string
}

// BlobExternalizationThreshold is the default size (in bytes) past which a
// Blob/File element's value is externalized rather than stored inline.
const BlobExternalizationThreshold = 256 * 1024

// IdempotencyStore backs SPEC_FULL.md §12's idempotency-key-on-create
// extension: a retried create with the same key and the same
// canonicalized body is a no-op success, while the same key with a
// different body is a conflict the handler maps to PreconditionFailed.
type IdempotencyStore interface {
	// Lookup returns the body hash and resulting entity id recorded for
	// (entityType, key), or found=false if the key has never been used.
	Lookup(ctx context.Context, entityType, key string) (bodySHA256, entityID string, found bool, err error)

	// Record persists the mapping after a successful create. Called at
	// most once per (entityType, key) by the handler.
	Record(ctx context.Context, entityType, key, bodySHA256, entityID string) error
}

// HeartbeatStore backs SPEC_FULL.md §12's descriptor heartbeat/TTL
// extension: every descriptor create/update refreshes a last-seen
// timestamp keyed by (entityType, id), and Stale lists the ids that have
// not been refreshed within horizon so the leader-only sweep can report
// them; nothing is deleted.
type HeartbeatStore interface {
	// Touch records that (entityType, id) is alive as of now.
	Touch(ctx context.Context, entityType, id string) error

	// LastSeen returns the most recent Touch time for (entityType, id), or
	// found=false if it has never been touched.
	LastSeen(ctx context.Context, entityType, id string) (lastSeen time.Time, found bool, err error)

	// Stale returns the ids of entityType not touched within horizon of
	// now, for the leader-only sweep to log.
	Stale(ctx context.Context, entityType string, horizon time.Duration, now time.Time) ([]string, error)
}

// BlobDataStore persists the actual externalized payload bytes, content-
// addressed by sha256 so identical payloads under different idShortPaths
// are stored once. Write is idempotent: writing a digest already present
// is a no-op, and both implementations return the same URI either way.
type BlobDataStore interface {
	Write(ctx context.Context, sha256Hex, contentType string, data []byte) (uri string, err error)
	Read(ctx context.Context, uri string) ([]byte, error)
}
