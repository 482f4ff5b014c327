package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hadijannat/titan-aas/infrastructure/logging"
	"github.com/hadijannat/titan-aas/infrastructure/metrics"
	"github.com/hadijannat/titan-aas/infrastructure/middleware"
	"github.com/hadijannat/titan-aas/internal/projection"
	"github.com/hadijannat/titan-aas/internal/store"
	"github.com/hadijannat/titan-aas/internal/subscription"
)

// Deps bundles every store and supporting component the router needs to
// wire up the full IDTA-01002 Repository and Registry surface from
// spec.md §6. Each store field is the narrowest interface that namespace
// requires; nil descriptor stores simply omit the registry mirror routes.
type Deps struct {
	Shells              store.ShellStore
	Submodels           store.SubmodelStore
	ConceptDescriptions store.ConceptDescriptionStore
	ShellDescriptors    store.DescriptorStore
	SubmodelDescriptors store.DescriptorStore

	Cache        Cache
	Events       EventPublisher
	Audit        AuditSink
	Invalidation InvalidationPublisher
	Blobs        store.BlobAssetStore // wired onto the submodel namespace only, per spec.md §3
	BlobData     store.BlobDataStore
	Idempotency  store.IdempotencyStore // shared across every entity namespace, per SPEC_FULL.md §12
	Heartbeat    store.HeartbeatStore   // wired onto the descriptor namespaces only, per SPEC_FULL.md §12
	StaleAfter   time.Duration          // horizon Heartbeat staleness is measured against

	Subscriptions *subscription.Manager

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the full HTTP surface: the entity and registry route
// families, the submodel-element sub-resource, a WebSocket subscription
// endpoint, and the ambient middleware stack (recovery, CORS, logging,
// metrics, timeout, body limit, security headers) applied in the order
// the teacher's own service composition uses: recovery outermost, then
// observability, then request shaping.
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()

	registerEntityRoutes(r, "/shells", &EntityHandler{
		Store: deps.Shells, Cache: deps.Cache, Events: deps.Events, Audit: deps.Audit, Invalidation: deps.Invalidation, EntityType: "shell", BasePath: "/shells",
		Finder: shellFinder(deps.Shells), Idempotency: deps.Idempotency,
	})
	registerEntityRoutes(r, "/submodels", &EntityHandler{
		Store: deps.Submodels, Cache: deps.Cache, Events: deps.Events, Audit: deps.Audit, Invalidation: deps.Invalidation,
		Blobs: deps.Blobs, BlobData: deps.BlobData, EntityType: "submodel", BasePath: "/submodels",
		Finder: submodelFinder(deps.Submodels), Idempotency: deps.Idempotency,
	})
	registerEntityRoutes(r, "/concept-descriptions", &EntityHandler{
		Store: deps.ConceptDescriptions, Cache: deps.Cache, Events: deps.Events, Audit: deps.Audit, Invalidation: deps.Invalidation, EntityType: "concept_description", BasePath: "/concept-descriptions",
		Finder: conceptDescriptionFinder(deps.ConceptDescriptions), Idempotency: deps.Idempotency,
	})
	if deps.ShellDescriptors != nil {
		registerEntityRoutes(r, "/shell-descriptors", &EntityHandler{
			Store: deps.ShellDescriptors, Cache: deps.Cache, Events: deps.Events, Audit: deps.Audit, Invalidation: deps.Invalidation, EntityType: "shell_descriptor", BasePath: "/shell-descriptors",
			Idempotency: deps.Idempotency, Heartbeat: deps.Heartbeat, StaleAfter: deps.StaleAfter,
		})
	}
	if deps.SubmodelDescriptors != nil {
		registerEntityRoutes(r, "/submodel-descriptors", &EntityHandler{
			Store: deps.SubmodelDescriptors, Cache: deps.Cache, Events: deps.Events, Audit: deps.Audit, Invalidation: deps.Invalidation, EntityType: "submodel_descriptor", BasePath: "/submodel-descriptors",
			Idempotency: deps.Idempotency, Heartbeat: deps.Heartbeat, StaleAfter: deps.StaleAfter,
		})
	}

	if deps.Submodels != nil {
		eh := &ElementHandler{
			Store: deps.Submodels, Cache: deps.Cache, Events: deps.Events, Audit: deps.Audit, Invalidation: deps.Invalidation,
			Blobs: deps.Blobs, BlobData: deps.BlobData,
		}
		registerElementRoutes(r, eh)
	}

	if deps.Subscriptions != nil {
		r.HandleFunc("/subscriptions", subscriptionHandler(deps.Subscriptions)).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readinessHandler()).Methods(http.MethodGet)

	return applyMiddleware(r, deps)
}

// readinessHandler reports liveness plus a process memory/CPU sample
// (middleware.ProcessSample, backed by shirou/gopsutil) so operators can
// see resource pressure without a separate metrics scrape.
func readinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "ready"}
		if sample, err := middleware.ProcessSample(); err == nil {
			body["process"] = sample
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func registerEntityRoutes(r *mux.Router, base string, h *EntityHandler) {
	r.HandleFunc(base, h.List).Methods(http.MethodGet)
	r.HandleFunc(base, h.Create).Methods(http.MethodPost)
	r.HandleFunc(base+"/{idB64}", h.Get(projection.ModifierNone)).Methods(http.MethodGet)
	r.HandleFunc(base+"/{idB64}/$value", h.Get(projection.ModifierValue)).Methods(http.MethodGet)
	r.HandleFunc(base+"/{idB64}/$metadata", h.Get(projection.ModifierMetadata)).Methods(http.MethodGet)
	r.HandleFunc(base+"/{idB64}/$reference", h.Get(projection.ModifierReference)).Methods(http.MethodGet)
	r.HandleFunc(base+"/{idB64}", h.Update).Methods(http.MethodPut)
	r.HandleFunc(base+"/{idB64}", h.Delete).Methods(http.MethodDelete)
}

func registerElementRoutes(r *mux.Router, h *ElementHandler) {
	const elementPath = "/submodels/{idB64}/submodel-elements/{idShortPath}"
	r.HandleFunc(elementPath, h.Get(projection.ModifierNone)).Methods(http.MethodGet)
	r.HandleFunc(elementPath+"/$value", h.Get(projection.ModifierValue)).Methods(http.MethodGet)
	r.HandleFunc(elementPath+"/$metadata", h.Get(projection.ModifierMetadata)).Methods(http.MethodGet)
	r.HandleFunc(elementPath+"/$reference", h.Get(projection.ModifierReference)).Methods(http.MethodGet)
	r.HandleFunc(elementPath+"/$path", h.Get(projection.ModifierPath)).Methods(http.MethodGet)
	r.HandleFunc(elementPath, h.Put).Methods(http.MethodPut)
	r.HandleFunc(elementPath, h.Delete).Methods(http.MethodDelete)
}

// subscriptionHandler upgrades the connection and registers it with mgr.
// Two filter dialects are accepted and may be combined: spec.md §4.11's
// structured {entity_type, event_types, identifier} filter via the
// "entity_type" (exact match), "event_types" (comma-separated, matches
// any), and "identifier" query parameters; and an ad-hoc "filter" query
// parameter holding a JSONPath expression. Neither present matches every
// event.
func subscriptionHandler(mgr *subscription.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id := uuid.NewString()
		query := r.URL.Query()
		jsonPathFilter := query.Get("filter")
		mgr.Register(id, conn, structuredFilter(query), jsonPathFilter)
		defer mgr.Unregister(id)

		// Block on inbound frames purely to detect client disconnect; the
		// subscription's own goroutine (started by Register) drives outbound
		// delivery from the event queue.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// structuredFilter builds a *subscription.Filter from the request's
// entity_type/event_types/identifier query parameters, or nil if none of
// them were supplied (so the structured dialect imposes no constraint).
func structuredFilter(query url.Values) *subscription.Filter {
	entityType := query.Get("entity_type")
	identifier := query.Get("identifier")
	eventTypesRaw := query.Get("event_types")
	if entityType == "" && identifier == "" && eventTypesRaw == "" {
		return nil
	}
	var eventTypes []string
	if eventTypesRaw != "" {
		eventTypes = strings.Split(eventTypesRaw, ",")
	}
	return &subscription.Filter{EntityType: entityType, EventTypes: eventTypes, Identifier: identifier}
}

func applyMiddleware(h http.Handler, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.New("titan-aas", "info", "text")
	}

	handler := h
	handler = middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler(handler)
	handler = middleware.NewBodyLimitMiddleware(10 << 20).Handler(handler)
	handler = middleware.NewTimeoutMiddleware(30 * time.Second).Handler(handler)
	if deps.Metrics != nil {
		handler = middleware.MetricsMiddleware("titan-aas", deps.Metrics)(handler)
	}
	handler = middleware.LoggingMiddleware(logger)(handler)
	handler = middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "If-Match", "If-None-Match"},
		ExposedHeaders: []string{"ETag", "Location"},
	}).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)
	return handler
}
