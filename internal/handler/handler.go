// Package handler implements spec.md §4.12's read/write request
// orchestration: the fast/slow path read split, the strict
// persist-then-commit-then-cache-then-event write order, and conditional
// request handling (If-Match / If-None-Match), wired over gorilla/mux.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/core/service"
	"github.com/hadijannat/titan-aas/internal/element"
	"github.com/hadijannat/titan-aas/internal/eventbus"
	"github.com/hadijannat/titan-aas/internal/hotcache"
	"github.com/hadijannat/titan-aas/internal/identifier"
	"github.com/hadijannat/titan-aas/internal/invalidation"
	"github.com/hadijannat/titan-aas/internal/model"
	"github.com/hadijannat/titan-aas/internal/projection"
	"github.com/hadijannat/titan-aas/internal/store"
)

// Cache is the subset of *hotcache.Cache the handler depends on, narrowed
// so tests can substitute a fake without a miniredis instance.
type Cache interface {
	Get(ctx context.Context, entityType, id string) (*hotcache.Entry, bool, error)
	Set(ctx context.Context, entityType, id string, entry hotcache.Entry) error
	Invalidate(ctx context.Context, entityType, id string) error
	GetElement(ctx context.Context, submodelID, idShortPath string) (*hotcache.Entry, bool, error)
	SetElement(ctx context.Context, submodelID, idShortPath string, entry hotcache.Entry) error
	InvalidateSubmodelElements(ctx context.Context, submodelID string) error
}

// EventPublisher is the subset of *eventbus.Bus the handler depends on.
type EventPublisher interface {
	Publish(event eventbus.Event) error
}

// AuditSink records one audit entry per mutating operation. Handlers call
// it fire-and-forget; *batchwriter.Writer[store.AuditRecord] satisfies it.
type AuditSink interface {
	Add(rec store.AuditRecord)
}

// InvalidationPublisher is the subset of *invalidation.Bus the handler
// depends on: announcing a write so every other replica's hot cache drops
// its copy (spec.md §4.9).
type InvalidationPublisher interface {
	Publish(ctx context.Context, scope invalidation.Scope, identifierB64, idShortPath string) error
	PublishAll(ctx context.Context) error
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// EntityHandler serves the CRUD surface spec.md §4.12 describes for one
// top-level entity namespace (shells, submodels, concept-descriptions, or
// a registry descriptor namespace). The same handler shape is reused for
// all of them; entityType and basePath are the only things that vary.
type EntityHandler struct {
	Store        store.EntityStore
	Cache        Cache
	Events       EventPublisher
	Audit        AuditSink
	Invalidation InvalidationPublisher
	Blobs        store.BlobAssetStore // non-nil only for the submodel namespace; drives spec.md §3's Blob externalization
	BlobData     store.BlobDataStore
	Idempotency  store.IdempotencyStore // nil disables the Idempotency-Key header from SPEC_FULL.md §12
	Heartbeat    store.HeartbeatStore   // non-nil only for the registry descriptor namespaces; drives SPEC_FULL.md §12's heartbeat/TTL staleness
	StaleAfter   time.Duration          // horizon Heartbeat staleness is measured against; ignored when Heartbeat is nil
	EntityType   string                 // e.g. "shell", matches model.EntityType and the hotcache/event wire labels
	BasePath     string                 // e.g. "/shells", used to build the Location header on create

	// Finder, when set, lets List serve one of the entity-specific
	// secondary-index lookups (globalAssetId, semanticId, idShort, ...)
	// instead of the unfiltered page, when the matching query parameters
	// are present. ok=false means no finder-relevant parameter was
	// present and List should fall through to the plain ListPage.
	Finder func(ctx context.Context, query map[string][]string, opts store.ListOptions) (page *store.ListPage, ok bool, err error)
}

// externalizeBlobs runs spec.md §3's Blob/File externalization over doc
// before it is persisted. Only Submodels carry submodelElements, and Blobs
// is only wired for the submodel namespace, so this is a no-op everywhere
// else.
func (h *EntityHandler) externalizeBlobs(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if h.Blobs == nil || h.BlobData == nil {
		return doc, nil
	}
	return element.Externalize(ctx, doc, h.Blobs, h.BlobData, store.BlobExternalizationThreshold)
}

// List renders a cursor-paginated page directly from stored bytes, per
// spec.md §4.3's zero-copy list rendering. An "ids" query parameter
// (comma-separated) instead serves SPEC_FULL.md §12's bulk get-by-ids
// read: the persistence-layer GetMany, order-preserving, per-id
// not-found rather than an all-or-nothing lookup.
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("ids"); raw != "" {
		h.listByIDs(w, r, strings.Split(raw, ","))
		return
	}

	opts := store.ListOptions{
		Limit:  service.ClampLimit(queryInt(r, "limit"), defaultListLimit, maxListLimit),
		Cursor: r.URL.Query().Get("cursor"),
	}

	page, err := h.findPage(r, opts)
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(store.RenderListPage(page))
}

func (h *EntityHandler) listByIDs(w http.ResponseWriter, r *http.Request, ids []string) {
	records, err := h.Store.GetMany(r.Context(), ids)
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(store.RenderBulk(records))
}

// findPage serves one of the entity-specific secondary-index finders when
// h.Finder is wired and the request's query parameters select one,
// falling back to the unfiltered page otherwise.
func (h *EntityHandler) findPage(r *http.Request, opts store.ListOptions) (*store.ListPage, error) {
	if h.Finder != nil {
		page, ok, err := h.Finder(r.Context(), r.URL.Query(), opts)
		if err != nil {
			return nil, err
		}
		if ok {
			return page, nil
		}
	}
	return h.Store.ListPage(r.Context(), opts)
}

// Get implements the fast/slow path split: no projection modifier and no
// level/extent query parameter takes the fast path (cache probe, raw
// bytes); anything else takes the slow path (parse, project, re-serialize).
func (h *EntityHandler) Get(modifier projection.Modifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.decodeID(w, r)
		if !ok {
			return
		}

		level := projection.Level(r.URL.Query().Get("level"))
		extent := projection.Extent(r.URL.Query().Get("extent"))

		if modifier == projection.ModifierNone && level == "" && extent == "" {
			h.getFastPath(w, r, id)
			return
		}
		h.getSlowPath(w, r, id, modifier, level, extent)
	}
}

func (h *EntityHandler) getFastPath(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	if h.Cache != nil {
		entry, hit, err := h.Cache.Get(ctx, h.EntityType, id)
		if err == nil && hit {
			writeIfNoneMatch(w, r, entry.ETag, entry.DocBytes)
			return
		}
	}

	rec, found, err := h.Store.GetByID(ctx, id)
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}
	if !found {
		writeError(w, r, apierr.NotFound(h.EntityType, id))
		return
	}
	if h.Cache != nil {
		_ = h.Cache.Set(ctx, h.EntityType, id, hotcache.Entry{DocBytes: rec.DocBytes, ETag: rec.ETag})
	}
	h.writeStaleness(ctx, w, id)
	writeIfNoneMatch(w, r, rec.ETag, rec.DocBytes)
}

// writeStaleness sets X-Descriptor-Stale when h.Heartbeat is wired: it
// surfaces SPEC_FULL.md §12's heartbeat/TTL projection ("IsStale()")
// without mutating the canonical document body or its ETag.
func (h *EntityHandler) writeStaleness(ctx context.Context, w http.ResponseWriter, id string) {
	if h.Heartbeat == nil {
		return
	}
	lastSeen, found, err := h.Heartbeat.LastSeen(ctx, h.EntityType, id)
	if err != nil || !found {
		return
	}
	stale := time.Since(lastSeen) > h.StaleAfter
	w.Header().Set("X-Descriptor-Stale", strconv.FormatBool(stale))
}

func (h *EntityHandler) getSlowPath(w http.ResponseWriter, r *http.Request, id string, modifier projection.Modifier, level projection.Level, extent projection.Extent) {
	doc, rec, found, err := h.Store.GetModelByID(r.Context(), id)
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}
	if !found {
		writeError(w, r, apierr.NotFound(h.EntityType, id))
		return
	}

	doc = projection.ApplyLevel(doc, level)
	doc = projection.ApplyExtent(doc, extent)

	result, err := projection.Apply(doc, "", modifier, projection.EntityReferenceType(h.EntityType))
	if err != nil {
		writeError(w, r, err)
		return
	}

	body, err := canon.EncodeAny(result)
	if err != nil {
		writeError(w, r, apierr.Internal("render projection", err))
		return
	}
	h.writeStaleness(r.Context(), w, id)
	w.Header().Set("ETag", rec.ETag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Create handles POST: parse, validate, persist, commit, cache, publish,
// respond 201 with Location. An "Idempotency-Key" request header extends
// spec.md §4.3's create per SPEC_FULL.md §12: a retried create with the
// same key and the same canonicalized body is a no-op success replaying
// the original response; the same key with a different body is
// PreconditionFailed. Without the header, a colliding id is exactly
// spec.md's documented AlreadyExists.
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	obj, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	doc := model.WrapDocument(obj)
	if doc.ID() == "" {
		writeError(w, r, apierr.InvalidDocument("document is missing required field \"id\""))
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	var bodySHA256 string
	if idemKey != "" && h.Idempotency != nil {
		canonical, err := canon.Encode(obj)
		if err != nil {
			writeError(w, r, apierr.InvalidDocument(err.Error()))
			return
		}
		sum := sha256.Sum256(canonical)
		bodySHA256 = hex.EncodeToString(sum[:])

		prevHash, prevID, found, err := h.Idempotency.Lookup(r.Context(), h.EntityType, idemKey)
		if err != nil {
			writeError(w, r, apierr.StoreUnavailable(err))
			return
		}
		if found {
			if prevHash != bodySHA256 {
				writeError(w, r, apierr.PreconditionFailed(prevHash, bodySHA256))
				return
			}
			if h.replayCreate(w, r, prevID) {
				return
			}
		}
	}

	doc, err := h.externalizeBlobs(r.Context(), doc)
	if err != nil {
		writeError(w, r, apierr.Internal("externalize blob", err))
		return
	}

	rec, err := h.Store.Create(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if idemKey != "" && h.Idempotency != nil {
		if err := h.Idempotency.Record(r.Context(), h.EntityType, idemKey, bodySHA256, rec.ID); err != nil {
			writeError(w, r, apierr.StoreUnavailable(err))
			return
		}
	}

	h.afterCommit(r.Context(), "create", rec)

	w.Header().Set("ETag", rec.ETag)
	w.Header().Set("Location", h.BasePath+"/"+rec.IdentifierB64)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(rec.DocBytes)
}

// replayCreate re-serves the original 201 response for an idempotent
// create replay. Returns false (leaving the response unwritten) if the
// recorded entity has since been deleted, so the caller falls through to
// a fresh create instead of replaying a response for a resource that no
// longer exists.
func (h *EntityHandler) replayCreate(w http.ResponseWriter, r *http.Request, id string) bool {
	rec, found, err := h.Store.GetByID(r.Context(), id)
	if err != nil || !found {
		return false
	}
	w.Header().Set("ETag", rec.ETag)
	w.Header().Set("Location", h.BasePath+"/"+rec.IdentifierB64)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(rec.DocBytes)
	return true
}

// Update handles PUT: conditional check against If-Match, persist, commit,
// cache, publish, respond 204.
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeID(w, r)
	if !ok {
		return
	}
	obj, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	if ifMatch := trimETag(r.Header.Get("If-Match")); ifMatch != "" {
		current, found, err := h.Store.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, r, apierr.StoreUnavailable(err))
			return
		}
		if !found {
			writeError(w, r, apierr.NotFound(h.EntityType, id))
			return
		}
		if current.ETag != ifMatch {
			writeError(w, r, apierr.PreconditionFailed(ifMatch, current.ETag))
			return
		}
	}

	doc := model.WrapDocument(obj)
	doc, err := h.externalizeBlobs(r.Context(), doc)
	if err != nil {
		writeError(w, r, apierr.Internal("externalize blob", err))
		return
	}

	rec, found, err := h.Store.Update(r.Context(), id, doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, apierr.NotFound(h.EntityType, id))
		return
	}

	h.afterCommit(r.Context(), "update", rec)

	w.Header().Set("ETag", rec.ETag)
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE: persist, commit, cache invalidation, publish,
// respond 204.
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeID(w, r)
	if !ok {
		return
	}

	found, err := h.Store.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}
	if !found {
		writeError(w, r, apierr.NotFound(h.EntityType, id))
		return
	}

	ctx := r.Context()
	if h.Cache != nil {
		_ = h.Cache.Invalidate(ctx, h.EntityType, id)
		if h.EntityType == "submodel" {
			_ = h.Cache.InvalidateSubmodelElements(ctx, id)
		}
	}
	if h.Events != nil {
		_ = h.Events.Publish(eventbus.Event{
			EntityType: h.EntityType,
			ID:         id,
			Operation:  "delete",
			OccurredAt: time.Now(),
		})
	}
	if h.Audit != nil {
		h.Audit.Add(store.AuditRecord{EntityType: h.EntityType, ID: id, Operation: "delete", OccurredAt: time.Now()})
	}
	if h.Invalidation != nil {
		idB64 := identifier.Encode(id)
		_ = h.Invalidation.Publish(ctx, invalidation.ScopeForEntityType(h.EntityType), idB64, "")
		if h.EntityType == "submodel" {
			_ = h.Invalidation.Publish(ctx, invalidation.ScopeElement, idB64, "")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// afterCommit performs the cache-update-then-event-publish sequence
// spec.md §4.12 requires to run strictly after the authoritative write has
// committed: rec is only ever non-nil here once Store.Create/Update has
// already returned successfully.
func (h *EntityHandler) afterCommit(ctx context.Context, operation string, rec *store.Record) {
	if h.Heartbeat != nil {
		_ = h.Heartbeat.Touch(ctx, h.EntityType, rec.ID)
	}
	if h.Cache != nil {
		_ = h.Cache.Set(ctx, h.EntityType, rec.ID, hotcache.Entry{DocBytes: rec.DocBytes, ETag: rec.ETag})
	}
	if h.Events != nil {
		_ = h.Events.Publish(eventbus.Event{
			EntityType: h.EntityType,
			ID:         rec.ID,
			Operation:  operation,
			ETag:       rec.ETag,
			OccurredAt: time.Now(),
		})
	}
	if h.Audit != nil {
		h.Audit.Add(store.AuditRecord{
			EntityType: h.EntityType,
			ID:         rec.ID,
			Operation:  operation,
			ETag:       rec.ETag,
			OccurredAt: time.Now(),
		})
	}
	if h.Invalidation != nil {
		_ = h.Invalidation.Publish(ctx, invalidation.ScopeForEntityType(h.EntityType), identifier.Encode(rec.ID), "")
	}
}

func (h *EntityHandler) decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	encoded := mux.Vars(r)["idB64"]
	id, err := identifier.Decode(encoded)
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	return id, true
}

func (h *EntityHandler) decodeBody(w http.ResponseWriter, r *http.Request) (*canon.Object, bool) {
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, apierr.InvalidDocument(err.Error()))
		return nil, false
	}
	obj, err := canon.Parse(raw)
	if err != nil {
		writeError(w, r, apierr.InvalidDocument(err.Error()))
		return nil, false
	}
	return obj, true
}

func writeIfNoneMatch(w http.ResponseWriter, r *http.Request, etag string, body []byte) {
	if inm := trimETag(r.Header.Get("If-None-Match")); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := apierr.ToBody(err)
	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierr.HTTPStatus(err))
	_, _ = w.Write(data)
}

func trimETag(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), `"`)
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
