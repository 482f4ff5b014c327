// Package memory is the in-memory reference implementation of the
// internal/store contracts: a single process-local map protected by a
// mutex, used in tests and for local/offline development where a
// Postgres instance isn't available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/identifier"
	"github.com/hadijannat/titan-aas/internal/model"
	"github.com/hadijannat/titan-aas/internal/store"
)

// entry is the store's internal bookkeeping for one stored document, kept
// separate from store.Record so Store can hold the parsed *model.Document
// alongside the canonical bytes without re-parsing on every read.
type entry struct {
	doc *model.Document
	rec store.Record
}

// Store is a generic in-memory EntityStore. entityType is used only to
// annotate apierr.NotFound/AlreadyExists with a human-readable label.
type Store struct {
	mu         sync.RWMutex
	entityType string
	byID       map[string]*entry
	order      []string // insertion order, for deterministic pagination
}

// New creates an empty Store labeled entityType (e.g. "shell", "submodel").
func New(entityType string) *Store {
	return &Store{
		entityType: entityType,
		byID:       make(map[string]*entry),
	}
}

var _ store.ShellStore = (*Store)(nil)
var _ store.SubmodelStore = (*Store)(nil)
var _ store.ConceptDescriptionStore = (*Store)(nil)
var _ store.DescriptorStore = (*Store)(nil)

func (s *Store) GetByID(ctx context.Context, id string) (*store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	rec := e.rec
	return &rec, true, nil
}

func (s *Store) GetModelByID(ctx context.Context, id string) (*model.Document, *store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, nil, false, nil
	}
	rec := e.rec
	return e.doc.Clone(), &rec, true, nil
}

// GetMany looks up ids one at a time under a single read lock, preserving
// input order; an absent id yields a nil entry rather than aborting the
// batch.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Record, len(ids))
	for i, id := range ids {
		e, ok := s.byID[id]
		if !ok {
			continue
		}
		rec := e.rec
		out[i] = &rec
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, doc *model.Document) (*store.Record, error) {
	id := doc.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[id]; exists {
		return nil, apierr.AlreadyExists(s.entityType, id)
	}
	rec, snapshot, err := buildRecord(doc, time.Now(), time.Now())
	if err != nil {
		return nil, err
	}
	s.byID[id] = &entry{doc: snapshot, rec: *rec}
	s.order = append(s.order, id)
	out := *rec
	return &out, nil
}

func (s *Store) Update(ctx context.Context, id string, doc *model.Document) (*store.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	rec, snapshot, err := buildRecord(doc, existing.rec.CreatedAt, time.Now())
	if err != nil {
		return nil, false, err
	}
	s.byID[id] = &entry{doc: snapshot, rec: *rec}
	out := *rec
	return &out, true, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	delete(s.byID, id)
	for i, existingID := range s.order {
		if existingID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *Store) ListPage(ctx context.Context, opts store.ListOptions) (*store.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMatching(opts, func(*entry) bool { return true })
}

func (s *Store) FindByGlobalAssetID(ctx context.Context, globalAssetID string, opts store.ListOptions) (*store.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMatching(opts, func(e *entry) bool { return e.doc.GlobalAssetID() == globalAssetID })
}

func (s *Store) FindBySpecificAssetID(ctx context.Context, name, value string, opts store.ListOptions) (*store.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMatching(opts, func(e *entry) bool { return hasSpecificAssetID(e.doc, name, value) })
}

func (s *Store) FindBySemanticID(ctx context.Context, semanticID string, opts store.ListOptions) (*store.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMatching(opts, func(e *entry) bool { return e.doc.SemanticID() == semanticID })
}

func (s *Store) FindByIDShort(ctx context.Context, idShort string, opts store.ListOptions) (*store.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMatching(opts, func(e *entry) bool { return e.doc.IDShort() == idShort })
}

func (s *Store) FindByIsCaseOf(ctx context.Context, value string, opts store.ListOptions) (*store.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMatching(opts, func(e *entry) bool { return contains(e.doc.IsCaseOfValues(), value) })
}

func (s *Store) FindByDataSpecification(ctx context.Context, value string, opts store.ListOptions) (*store.ListPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMatching(opts, func(e *entry) bool {
		return contains(e.doc.EmbeddedDataSpecificationValues(), value)
	})
}

// listMatching applies pred over entries in (created_at, id) order,
// honoring opts.Cursor/opts.Limit. Caller must hold at least s.mu.RLock.
func (s *Store) listMatching(opts store.ListOptions, pred func(*entry) bool) (*store.ListPage, error) {
	afterCreated, afterID, err := store.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.byID[ids[i]], s.byID[ids[j]]
		if a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.ID < b.rec.ID
		}
		return a.rec.CreatedAt.Before(b.rec.CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var items []*store.Record
	for _, id := range ids {
		e := s.byID[id]
		if !pred(e) {
			continue
		}
		if opts.Cursor != "" && !afterPosition(e.rec.CreatedAt, e.rec.ID, afterCreated, afterID) {
			continue
		}
		rec := e.rec
		items = append(items, &rec)
		if len(items) >= limit+1 {
			break
		}
	}

	page := &store.ListPage{}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = store.EncodeCursor(page.Items[len(page.Items)-1])
	} else {
		page.Items = items
	}
	return page, nil
}

func afterPosition(created time.Time, id string, afterCreated time.Time, afterID string) bool {
	if created.After(afterCreated) {
		return true
	}
	if created.Equal(afterCreated) {
		return id > afterID
	}
	return false
}

func buildRecord(doc *model.Document, createdAt, updatedAt time.Time) (*store.Record, *model.Document, error) {
	snapshot := doc.Clone()
	docBytes, err := canon.Encode(snapshot.Raw)
	if err != nil {
		return nil, nil, apierr.InvalidDocument(err.Error())
	}
	return &store.Record{
		ID:            snapshot.ID(),
		IdentifierB64: identifier.Encode(snapshot.ID()),
		DocBytes:      docBytes,
		ETag:          canon.ETag(docBytes),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, snapshot, nil
}

func hasSpecificAssetID(doc *model.Document, name, value string) bool {
	v, ok := doc.Raw.Get("assetInformation")
	if !ok {
		return false
	}
	assetInfo, ok := v.(*canon.Object)
	if !ok {
		return false
	}
	saList, ok := assetInfo.Get("specificAssetIds")
	if !ok {
		return false
	}
	arr, ok := saList.(*canon.Array)
	if !ok {
		return false
	}
	for _, item := range arr.Items {
		obj, ok := item.(*canon.Object)
		if !ok {
			continue
		}
		n, _ := obj.Get("name")
		val, _ := obj.Get("value")
		if n == name && val == value {
			return true
		}
	}
	return false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
