// Package core is Titan-AAS's composition root: it wires the persistence
// layer, hot cache, event bus, micro-batch audit writer, distributed
// invalidation bus, leader elector, and subscription manager into the one
// running instance spec.md §9 describes, and exposes the assembled HTTP
// router.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hadijannat/titan-aas/infrastructure/logging"
	"github.com/hadijannat/titan-aas/infrastructure/metrics"
	"github.com/hadijannat/titan-aas/internal/batchwriter"
	"github.com/hadijannat/titan-aas/internal/eventbus"
	"github.com/hadijannat/titan-aas/internal/handler"
	"github.com/hadijannat/titan-aas/internal/hotcache"
	"github.com/hadijannat/titan-aas/internal/identifier"
	"github.com/hadijannat/titan-aas/internal/invalidation"
	"github.com/hadijannat/titan-aas/internal/leader"
	"github.com/hadijannat/titan-aas/internal/maintenance"
	"github.com/hadijannat/titan-aas/internal/store"
	"github.com/hadijannat/titan-aas/internal/store/memory"
	pgstore "github.com/hadijannat/titan-aas/internal/store/postgres"
	"github.com/hadijannat/titan-aas/internal/subscription"
)

// Config gathers everything needed to assemble an App. DSN == "" selects
// the in-memory store family (local/offline development and tests); a
// non-empty DSN selects the Postgres family.
type Config struct {
	DSN             string
	RedisAddr       string
	LeaderLeaseName string
	Hostname        string
	EventBufferSize int
	EventTimeout    time.Duration
	CacheTTL        time.Duration
	AuditBatchSize  int
	AuditFlush      time.Duration
	StaleAfter      time.Duration // descriptor heartbeat horizon, SPEC_FULL.md §12
	SweepSchedule   string        // robfig/cron expression for the leader-only stale sweep
}

func (c *Config) applyDefaults() {
	if c.LeaderLeaseName == "" {
		c.LeaderLeaseName = "titan-aas"
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 1024
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = eventbus.DefaultSubscriberTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = hotcache.DefaultTTL
	}
	if c.AuditBatchSize <= 0 {
		c.AuditBatchSize = 50
	}
	if c.AuditFlush <= 0 {
		c.AuditFlush = 2 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 24 * time.Hour
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = maintenance.DefaultSchedule
	}
}

// App holds every long-lived component and the assembled HTTP handler.
type App struct {
	DB *sql.DB

	Shells              store.ShellStore
	Submodels           store.SubmodelStore
	ConceptDescriptions store.ConceptDescriptionStore
	ShellDescriptors    store.DescriptorStore
	SubmodelDescriptors store.DescriptorStore
	Audit               store.AuditStore
	Blobs               store.BlobAssetStore
	BlobData            store.BlobDataStore
	Idempotency         store.IdempotencyStore
	Heartbeat           store.HeartbeatStore

	Redis         *redis.Client
	Cache         *hotcache.Cache
	Events        *eventbus.Bus
	Invalidation  *invalidation.Bus
	Leader        *leader.Elector
	Subscriptions *subscription.Manager
	AuditWriter   *batchwriter.Writer[store.AuditRecord]
	Sweeper       *maintenance.Sweeper

	Logger  *logging.Logger
	Metrics *metrics.Metrics

	Router http.Handler
}

// New assembles an App from cfg. db is nil when cfg.DSN == "" (in-memory
// mode); the caller owns closing db and any Redis client.
func New(ctx context.Context, cfg Config, db *sql.DB) (*App, error) {
	cfg.applyDefaults()

	app := &App{
		DB:      db,
		Logger:  logging.New("titan-aas", "info", "text"),
		Metrics: metrics.New("titan-aas"),
	}

	if db != nil {
		app.Shells = pgstore.New(db, "shells", "shell")
		app.Submodels = pgstore.New(db, "submodels", "submodel")
		app.ConceptDescriptions = pgstore.New(db, "concept_descriptions", "concept_description")
		app.ShellDescriptors = pgstore.New(db, "shell_descriptors", "shell_descriptor")
		app.SubmodelDescriptors = pgstore.New(db, "submodel_descriptors", "submodel_descriptor")
		app.Audit = pgstore.NewAuditStore(db)
		app.Blobs = pgstore.NewBlobAssetStore(db)
		app.BlobData = pgstore.NewBlobData(db)
		app.Idempotency = pgstore.NewIdempotencyStore(db)
		app.Heartbeat = pgstore.NewHeartbeatStore(db)
	} else {
		app.Shells = memory.New("shell")
		app.Submodels = memory.New("submodel")
		app.ConceptDescriptions = memory.New("concept_description")
		app.ShellDescriptors = memory.New("shell_descriptor")
		app.SubmodelDescriptors = memory.New("submodel_descriptor")
		app.Audit = memory.NewAuditStore()
		blobs := memory.NewBlobAssetStore()
		app.Blobs = blobs
		app.BlobData = blobs
		app.Idempotency = memory.NewIdempotencyStore()
		app.Heartbeat = memory.NewHeartbeatStore()
	}

	if cfg.RedisAddr != "" {
		app.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		app.Cache = hotcache.New(app.Redis, cfg.CacheTTL)
	}

	app.Events = eventbus.New(cfg.EventBufferSize, cfg.EventTimeout)
	app.Events.Start()

	app.Subscriptions = subscription.NewManager()

	app.AuditWriter = batchwriter.New(cfg.AuditBatchSize, cfg.AuditFlush, func(ctx context.Context, items []store.AuditRecord) error {
		for _, rec := range items {
			if err := app.Audit.Append(ctx, rec); err != nil {
				return fmt.Errorf("core: flush audit batch: %w", err)
			}
		}
		return nil
	})
	app.AuditWriter.Start()

	if db != nil {
		bus, err := invalidation.New(db, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("core: start invalidation bus: %w", err)
		}
		app.Invalidation = bus
		if app.Cache != nil {
			app.Invalidation.OnInvalidate(func(ctx context.Context, msg invalidation.Message) {
				if msg.Type == invalidation.ScopeAll {
					_ = app.Cache.InvalidateAll(ctx)
					return
				}
				id, err := identifier.Decode(msg.IdentifierB64)
				if err != nil {
					return
				}
				if msg.Type == invalidation.ScopeElement {
					if msg.IDShortPath != nil {
						_ = app.Cache.InvalidateElement(ctx, id, *msg.IDShortPath)
					} else {
						_ = app.Cache.InvalidateSubmodelElements(ctx, id)
					}
					return
				}
				_ = app.Cache.Invalidate(ctx, string(msg.Type), id)
			})
		}

		app.Leader = leader.New(db, cfg.LeaderLeaseName, cfg.Hostname, leader.DefaultLease)
		app.Leader.Start()

		app.Sweeper = maintenance.New(app.Leader, app.Heartbeat, cfg.StaleAfter, app.Logger, "shell_descriptor", "submodel_descriptor")
		if err := app.Sweeper.Start(cfg.SweepSchedule); err != nil {
			return nil, fmt.Errorf("core: start maintenance sweep: %w", err)
		}
	}

	app.Router = handler.NewRouter(handler.Deps{
		Shells:              app.Shells,
		Submodels:           app.Submodels,
		ConceptDescriptions: app.ConceptDescriptions,
		ShellDescriptors:    app.ShellDescriptors,
		SubmodelDescriptors: app.SubmodelDescriptors,
		Cache:               cacheAdapter{app.Cache},
		Events:              app.Events,
		Audit:               auditAdapter{app.AuditWriter},
		Invalidation:        invalidationAdapter{app.Invalidation},
		Blobs:               app.Blobs,
		BlobData:            app.BlobData,
		Idempotency:         app.Idempotency,
		Heartbeat:           app.Heartbeat,
		StaleAfter:          cfg.StaleAfter,
		Subscriptions:       app.Subscriptions,
		Logger:              app.Logger,
		Metrics:             app.Metrics,
	})

	return app, nil
}

// Stop releases the leader lease, drains the event bus, flushes any
// pending audit batch, and closes the invalidation listener and Redis
// client. It does not close DB; the caller owns that connection.
func (a *App) Stop(ctx context.Context) error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Leader != nil {
		a.Leader.Stop()
	}
	if a.AuditWriter != nil {
		a.AuditWriter.Stop()
	}
	if a.Events != nil {
		_ = a.Events.Drain(ctx)
		a.Events.Stop()
	}
	if a.Invalidation != nil {
		_ = a.Invalidation.Close()
	}
	if a.Redis != nil {
		return a.Redis.Close()
	}
	return nil
}

// cacheAdapter narrows *hotcache.Cache to handler.Cache and tolerates a
// nil Cache (Redis not configured), treating every probe as a miss so
// reads fall back to the authoritative store instead of panicking.
type cacheAdapter struct{ c *hotcache.Cache }

func (a cacheAdapter) Get(ctx context.Context, entityType, id string) (*hotcache.Entry, bool, error) {
	if a.c == nil {
		return nil, false, nil
	}
	return a.c.Get(ctx, entityType, id)
}

func (a cacheAdapter) Set(ctx context.Context, entityType, id string, entry hotcache.Entry) error {
	if a.c == nil {
		return nil
	}
	return a.c.Set(ctx, entityType, id, entry)
}

func (a cacheAdapter) Invalidate(ctx context.Context, entityType, id string) error {
	if a.c == nil {
		return nil
	}
	return a.c.Invalidate(ctx, entityType, id)
}

func (a cacheAdapter) GetElement(ctx context.Context, submodelID, idShortPath string) (*hotcache.Entry, bool, error) {
	if a.c == nil {
		return nil, false, nil
	}
	return a.c.GetElement(ctx, submodelID, idShortPath)
}

func (a cacheAdapter) SetElement(ctx context.Context, submodelID, idShortPath string, entry hotcache.Entry) error {
	if a.c == nil {
		return nil
	}
	return a.c.SetElement(ctx, submodelID, idShortPath, entry)
}

func (a cacheAdapter) InvalidateSubmodelElements(ctx context.Context, submodelID string) error {
	if a.c == nil {
		return nil
	}
	return a.c.InvalidateSubmodelElements(ctx, submodelID)
}

// auditAdapter narrows *batchwriter.Writer[store.AuditRecord] to
// handler.AuditSink.
type auditAdapter struct{ w *batchwriter.Writer[store.AuditRecord] }

func (a auditAdapter) Add(rec store.AuditRecord) {
	if a.w == nil {
		return
	}
	a.w.Add(rec)
}

// invalidationAdapter narrows *invalidation.Bus to handler.InvalidationPublisher
// and tolerates a nil Bus (in-memory mode, no Postgres LISTEN/NOTIFY
// connection), treating every publish as a no-op.
type invalidationAdapter struct{ b *invalidation.Bus }

func (a invalidationAdapter) Publish(ctx context.Context, scope invalidation.Scope, identifierB64, idShortPath string) error {
	if a.b == nil {
		return nil
	}
	return a.b.Publish(ctx, scope, identifierB64, idShortPath)
}

func (a invalidationAdapter) PublishAll(ctx context.Context) error {
	if a.b == nil {
		return nil
	}
	return a.b.PublishAll(ctx)
}
