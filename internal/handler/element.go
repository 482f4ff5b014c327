package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/element"
	"github.com/hadijannat/titan-aas/internal/eventbus"
	"github.com/hadijannat/titan-aas/internal/hotcache"
	"github.com/hadijannat/titan-aas/internal/identifier"
	"github.com/hadijannat/titan-aas/internal/idpath"
	"github.com/hadijannat/titan-aas/internal/invalidation"
	"github.com/hadijannat/titan-aas/internal/model"
	"github.com/hadijannat/titan-aas/internal/projection"
	"github.com/hadijannat/titan-aas/internal/store"
)

// ElementHandler serves the submodel-element sub-resource routes
// (spec.md §4.6, §4.12): navigation and mutation of individual elements
// within a Submodel's tree, by idShortPath.
type ElementHandler struct {
	Store        store.SubmodelStore
	Cache        Cache
	Events       EventPublisher
	Audit        AuditSink
	Invalidation InvalidationPublisher
	Blobs        store.BlobAssetStore
	BlobData     store.BlobDataStore
}

// Get resolves idShortPath within the named Submodel and renders it with
// the requested projection modifier. ModifierNone takes the hot cache's
// element-level fast path (spec.md §4.4); every other modifier always
// takes the slow path, since rendering a projection inherently requires
// parsing the parent document.
func (h *ElementHandler) Get(modifier projection.Modifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submodelID, idShortPath, ok := h.decodeVars(w, r)
		if !ok {
			return
		}
		ctx := r.Context()

		if modifier == projection.ModifierNone && h.Cache != nil {
			if entry, hit, err := h.Cache.GetElement(ctx, submodelID, idShortPath); err == nil && hit {
				writeIfNoneMatch(w, r, entry.ETag, entry.DocBytes)
				return
			}
		}

		doc, rec, found, err := h.Store.GetModelByID(ctx, submodelID)
		if err != nil {
			writeError(w, r, apierr.StoreUnavailable(err))
			return
		}
		if !found {
			writeError(w, r, apierr.NotFound("submodel", submodelID))
			return
		}

		result, err := projection.Apply(doc, idShortPath, modifier, "Submodel")
		if err != nil {
			writeError(w, r, err)
			return
		}
		body, err := canon.EncodeAny(result)
		if err != nil {
			writeError(w, r, apierr.Internal("render element projection", err))
			return
		}
		if modifier == projection.ModifierNone && h.Cache != nil {
			_ = h.Cache.SetElement(ctx, submodelID, idShortPath, hotcache.Entry{DocBytes: body, ETag: rec.ETag})
		}
		w.Header().Set("ETag", rec.ETag)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// Put upserts the element at idShortPath: replaces it if present, inserts
// it under its parent container otherwise.
func (h *ElementHandler) Put(w http.ResponseWriter, r *http.Request) {
	submodelID, idShortPath, ok := h.decodeVars(w, r)
	if !ok {
		return
	}
	body, ok := h.decodeElementBody(w, r)
	if !ok {
		return
	}

	doc, _, found, err := h.Store.GetModelByID(r.Context(), submodelID)
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}
	if !found {
		writeError(w, r, apierr.NotFound("submodel", submodelID))
		return
	}

	el := model.WrapElement(body)
	if _, resolveErr := projection.Resolve(doc, idShortPath); resolveErr == nil {
		doc, err = element.Replace(doc, idShortPath, el)
	} else {
		parentPath, splitErr := parentOf(idShortPath)
		if splitErr != nil {
			writeError(w, r, splitErr)
			return
		}
		doc, err = element.Insert(doc, parentPath, el)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.Blobs != nil && h.BlobData != nil {
		doc, err = element.Externalize(r.Context(), doc, h.Blobs, h.BlobData, store.BlobExternalizationThreshold)
		if err != nil {
			writeError(w, r, apierr.Internal("externalize blob", err))
			return
		}
	}

	h.commit(w, r, submodelID, idShortPath, doc, http.StatusNoContent)
}

// Delete removes the element at idShortPath.
func (h *ElementHandler) Delete(w http.ResponseWriter, r *http.Request) {
	submodelID, idShortPath, ok := h.decodeVars(w, r)
	if !ok {
		return
	}

	doc, _, found, err := h.Store.GetModelByID(r.Context(), submodelID)
	if err != nil {
		writeError(w, r, apierr.StoreUnavailable(err))
		return
	}
	if !found {
		writeError(w, r, apierr.NotFound("submodel", submodelID))
		return
	}

	doc, err = element.Delete(doc, idShortPath)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.commit(w, r, submodelID, idShortPath, doc, http.StatusNoContent)
}

// commit persists the mutated Submodel document wholesale via Store.Update
// and runs the same cache/event sequence EntityHandler uses, preserving
// spec.md §4.12's persist-then-cache-then-event ordering for element writes.
// idShortPath is the element this particular write targeted; it drives the
// element-scoped hot cache invalidation and distributed invalidation
// message, while the whole-document cache entry and "submodel" scope cover
// the document-level change the mutation also represents.
func (h *ElementHandler) commit(w http.ResponseWriter, r *http.Request, submodelID, idShortPath string, doc *model.Document, status int) {
	rec, found, err := h.Store.Update(r.Context(), submodelID, doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, apierr.NotFound("submodel", submodelID))
		return
	}

	ctx := r.Context()
	if h.Cache != nil {
		_ = h.Cache.Set(ctx, "submodel", rec.ID, hotcache.Entry{DocBytes: rec.DocBytes, ETag: rec.ETag})
		_ = h.Cache.InvalidateSubmodelElements(ctx, rec.ID)
	}
	if h.Events != nil {
		_ = h.Events.Publish(eventbus.Event{
			EntityType: "submodel",
			ID:         rec.ID,
			Operation:  "update",
			ETag:       rec.ETag,
			OccurredAt: time.Now(),
		})
	}
	if h.Audit != nil {
		h.Audit.Add(store.AuditRecord{EntityType: "submodel", ID: rec.ID, Operation: "update", ETag: rec.ETag, OccurredAt: time.Now()})
	}
	if h.Invalidation != nil {
		idB64 := identifier.Encode(rec.ID)
		_ = h.Invalidation.Publish(ctx, invalidation.ScopeSubmodel, idB64, "")
		_ = h.Invalidation.Publish(ctx, invalidation.ScopeElement, idB64, idShortPath)
	}

	w.Header().Set("ETag", rec.ETag)
	w.WriteHeader(status)
}

func (h *ElementHandler) decodeVars(w http.ResponseWriter, r *http.Request) (submodelID, idShortPath string, ok bool) {
	vars := mux.Vars(r)
	id, err := identifier.Decode(vars["idB64"])
	if err != nil {
		writeError(w, r, err)
		return "", "", false
	}
	return id, vars["idShortPath"], true
}

func (h *ElementHandler) decodeElementBody(w http.ResponseWriter, r *http.Request) (*canon.Object, bool) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
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

// parentOf splits idShortPath into the path of its containing element,
// re-rendering every segment but the last in the same grammar idpath.Parse
// accepts. Used only when a Put targets a path that does not yet resolve,
// to find where the new element must be inserted.
func parentOf(idShortPath string) (string, error) {
	segments, err := idpath.Parse(idShortPath)
	if err != nil {
		return "", err
	}
	if len(segments) == 1 {
		return "", nil
	}
	var b strings.Builder
	for i, seg := range segments[:len(segments)-1] {
		if seg.IsIndex {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Name)
	}
	return b.String(), nil
}
