// Package postgres is the production implementation of internal/store's
// contracts, grounded on pkg/storage/postgres.BaseStore's transaction and
// query-builder helpers. One generic Store[T] backs every entity class
// (Shell, Submodel, ConceptDescription, Descriptor); every table shares one
// column set, and only the table name and entity label passed at
// construction differ, not four hand-written implementations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/identifier"
	"github.com/hadijannat/titan-aas/internal/model"
	"github.com/hadijannat/titan-aas/internal/store"
	pgbase "github.com/hadijannat/titan-aas/pkg/storage/postgres"
)

// row is the sqlx scan target for every table this package manages; the
// four entity tables share this exact column set (see SPEC_FULL.md §13's
// persisted-layout note), with unused secondary columns left NULL.
type row struct {
	ID            string         `db:"id"`
	IdentifierB64 string         `db:"identifier_b64"`
	DocBytes      []byte         `db:"doc_bytes"`
	ETag          string         `db:"etag"`
	GlobalAssetID sql.NullString `db:"global_asset_id"`
	SemanticID    sql.NullString `db:"semantic_id"`
	IDShort       sql.NullString `db:"id_short"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r row) toRecord() *store.Record {
	return &store.Record{
		ID:            r.ID,
		IdentifierB64: r.IdentifierB64,
		DocBytes:      r.DocBytes,
		ETag:          r.ETag,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// Store is a Postgres-backed EntityStore parameterized over one table.
type Store struct {
	base       *pgbase.BaseStore
	db         *sqlx.DB
	table      string
	entityType string
}

// New wraps db (already open and pinged) as a Store over table, labeling
// errors with entityType.
func New(db *sql.DB, table, entityType string) *Store {
	return &Store{
		base:       pgbase.NewBaseStore(db, table),
		db:         sqlx.NewDb(db, "postgres"),
		table:      table,
		entityType: entityType,
	}
}

var _ store.ShellStore = (*Store)(nil)
var _ store.SubmodelStore = (*Store)(nil)
var _ store.ConceptDescriptionStore = (*Store)(nil)
var _ store.DescriptorStore = (*Store)(nil)

const selectColumns = "id, identifier_b64, doc_bytes, etag, global_asset_id, semantic_id, id_short, created_at, updated_at"

func (s *Store) GetByID(ctx context.Context, id string) (*store.Record, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", selectColumns, s.table)
	var r row
	err := s.db.GetContext(ctx, &r, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierr.StoreUnavailable(err)
	}
	return r.toRecord(), true, nil
}

func (s *Store) GetModelByID(ctx context.Context, id string) (*model.Document, *store.Record, bool, error) {
	rec, found, err := s.GetByID(ctx, id)
	if err != nil || !found {
		return nil, nil, found, err
	}
	obj, err := canon.Parse(rec.DocBytes)
	if err != nil {
		return nil, nil, false, apierr.Internal("corrupt stored document", err)
	}
	return model.WrapDocument(obj), rec, true, nil
}

// GetMany is the bulk "get by ids" read from SPEC_FULL.md §12: one query
// via = ANY($1), with results re-ordered in Go to match the input order
// (and produce a nil entry for an absent id) since Postgres does not
// guarantee ANY() result ordering.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*store.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ANY($1)", selectColumns, s.table)
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, apierr.StoreUnavailable(err)
	}
	byID := make(map[string]*store.Record, len(rows))
	for _, r := range rows {
		byID[r.ID] = r.toRecord()
	}
	out := make([]*store.Record, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, doc *model.Document) (*store.Record, error) {
	id := doc.ID()
	docBytes, err := canon.Encode(doc.Raw)
	if err != nil {
		return nil, apierr.InvalidDocument(err.Error())
	}
	etag := canon.ETag(docBytes)
	now := time.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %s
		(id, identifier_b64, doc, doc_bytes, etag, global_asset_id, semantic_id, id_short, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $3, $4, $5, $6, $7, $8, $8)`, s.table)

	_, err = s.base.ExecContext(ctx, query,
		id, identifier.Encode(id), docBytes, etag,
		nullable(doc.GlobalAssetID()), nullable(doc.SemanticID()), nullable(doc.IDShort()), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.AlreadyExists(s.entityType, id)
		}
		return nil, apierr.StoreUnavailable(err)
	}

	return &store.Record{
		ID: id, IdentifierB64: identifier.Encode(id), DocBytes: docBytes, ETag: etag,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *Store) Update(ctx context.Context, id string, doc *model.Document) (*store.Record, bool, error) {
	docBytes, err := canon.Encode(doc.Raw)
	if err != nil {
		return nil, false, apierr.InvalidDocument(err.Error())
	}
	etag := canon.ETag(docBytes)
	now := time.Now().UTC()

	query := fmt.Sprintf(`UPDATE %s SET doc = $1::jsonb, doc_bytes = $1, etag = $2,
		global_asset_id = $3, semantic_id = $4, id_short = $5, updated_at = $6
		WHERE id = $7`, s.table)

	result, err := s.base.ExecContext(ctx, query,
		docBytes, etag, nullable(doc.GlobalAssetID()), nullable(doc.SemanticID()), nullable(doc.IDShort()), now, id)
	if err != nil {
		return nil, false, apierr.StoreUnavailable(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, apierr.StoreUnavailable(err)
	}
	if rows == 0 {
		return nil, false, nil
	}

	existing, found, err := s.GetByID(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	return &store.Record{
		ID: id, IdentifierB64: existing.IdentifierB64, DocBytes: docBytes, ETag: etag,
		CreatedAt: existing.CreatedAt, UpdatedAt: now,
	}, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	err := s.base.DeleteByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apierr.StoreUnavailable(err)
	}
	return true, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := s.base.Exists(ctx, id)
	if err != nil {
		return false, apierr.StoreUnavailable(err)
	}
	return ok, nil
}

func (s *Store) ListPage(ctx context.Context, opts store.ListOptions) (*store.ListPage, error) {
	return s.listMatching(ctx, opts, nil)
}

func (s *Store) FindByGlobalAssetID(ctx context.Context, globalAssetID string, opts store.ListOptions) (*store.ListPage, error) {
	return s.listMatching(ctx, opts, &filter{column: "global_asset_id", value: globalAssetID})
}

func (s *Store) FindBySpecificAssetID(ctx context.Context, name, value string, opts store.ListOptions) (*store.ListPage, error) {
	// specific_asset_id pairs are stored only in doc_bytes (spec.md §3 does
	// not require a dedicated secondary column for the (name, value) pair);
	// queried via a JSONB containment predicate over the parsed document.
	return s.listMatching(ctx, opts, &filter{
		raw: "doc->'assetInformation'->'specificAssetIds' @> ?::jsonb",
		arg: fmt.Sprintf(`[{"name":%q,"value":%q}]`, name, value),
	})
}

func (s *Store) FindBySemanticID(ctx context.Context, semanticID string, opts store.ListOptions) (*store.ListPage, error) {
	return s.listMatching(ctx, opts, &filter{column: "semantic_id", value: semanticID})
}

func (s *Store) FindByIDShort(ctx context.Context, idShort string, opts store.ListOptions) (*store.ListPage, error) {
	return s.listMatching(ctx, opts, &filter{column: "id_short", value: idShort})
}

func (s *Store) FindByIsCaseOf(ctx context.Context, value string, opts store.ListOptions) (*store.ListPage, error) {
	return s.listMatching(ctx, opts, &filter{
		raw: "doc->'isCaseOf' @> ?::jsonb",
		arg: fmt.Sprintf(`[{"keys":[{"value":%q}]}]`, value),
	})
}

func (s *Store) FindByDataSpecification(ctx context.Context, value string, opts store.ListOptions) (*store.ListPage, error) {
	return s.listMatching(ctx, opts, &filter{
		raw: "doc->'embeddedDataSpecifications' @> ?::jsonb",
		arg: fmt.Sprintf(`[{"dataSpecification":{"keys":[{"value":%q}]}}]`, value),
	})
}

// filter is one equality or raw-predicate WHERE clause added to a list
// query beyond the baseline cursor bound.
type filter struct {
	column string
	value  string
	raw    string
	arg    string
}

func (s *Store) listMatching(ctx context.Context, opts store.ListOptions, f *filter) (*store.ListPage, error) {
	afterCreated, afterID, err := store.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	builder := pgbase.NewSelectBuilder(s.table).Columns(
		"id", "identifier_b64", "doc_bytes", "etag", "global_asset_id", "semantic_id", "id_short", "created_at", "updated_at",
	)

	if f != nil {
		if f.raw != "" {
			builder = builder.Where(f.raw, f.arg)
		} else {
			builder = builder.WhereEq(f.column, f.value)
		}
	}
	if opts.Cursor != "" {
		builder = builder.Where("(created_at, id) > (?, ?)", afterCreated, afterID)
	}
	builder = builder.OrderBy("created_at", false).OrderBy("id", false).Limit(limit + 1)

	query, args := builder.Build()
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apierr.StoreUnavailable(err)
	}

	page := &store.ListPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1].toRecord()
		page.NextCursor = store.EncodeCursor(last)
	}
	for _, r := range rows {
		page.Items = append(page.Items, r.toRecord())
	}
	return page, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
