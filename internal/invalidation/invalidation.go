// Package invalidation implements spec.md §4.9's distributed cache
// invalidation: when one instance writes an entity, every other instance's
// hot cache must drop its stale entry. Adapted from pkg/pgnotify/bus.go's
// LISTEN/NOTIFY event bus, narrowed to the single fixed
// "titan:cache:invalidation" channel this concern needs instead of that
// package's generic per-channel subscription registry.
package invalidation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Channel is the fixed Postgres NOTIFY channel every instance listens on.
const Channel = "titan:cache:invalidation"

// Scope names what a Message invalidates, matching spec.md §4.9/§6's wire
// contract.
type Scope string

const (
	ScopeShell              Scope = "aas"
	ScopeSubmodel           Scope = "submodel"
	ScopeElement            Scope = "element"
	ScopeConceptDescription Scope = "concept_description"
	// ScopeAll flushes every hot cache entry an instance holds; it is sent
	// by Bus.PublishAll.
	ScopeAll Scope = "all"
)

// ScopeForEntityType maps a handler entityType label (the hotcache/event/
// audit wire label, e.g. "shell") to the invalidation Scope spec.md §6
// names for it. Labels outside the four named entity families (registry
// descriptor namespaces) pass through unchanged: their cache entries are
// still invalidated by entity type and id, they just have no reserved
// scope name of their own.
func ScopeForEntityType(entityType string) Scope {
	switch entityType {
	case "shell":
		return ScopeShell
	case "submodel":
		return ScopeSubmodel
	case "concept_description":
		return ScopeConceptDescription
	default:
		return Scope(entityType)
	}
}

// Message is the notification payload. IDShortPath is non-nil only for
// ScopeElement, identifying which submodel-element sub-key to drop;
// IdentifierB64 is empty for ScopeAll.
type Message struct {
	Type          Scope   `json:"type"`
	IdentifierB64 string  `json:"identifier_b64"`
	IDShortPath   *string `json:"id_short_path"`
}

// Handler is invoked once per received invalidation message.
type Handler func(ctx context.Context, msg Message)

// Bus publishes and subscribes to invalidation messages over Postgres
// LISTEN/NOTIFY.
type Bus struct {
	db       *sql.DB
	listener *pq.Listener

	mu       sync.RWMutex
	handlers []Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens a dedicated listener connection against dsn and starts
// listening on Channel immediately.
func New(db *sql.DB, dsn string) (*Bus, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("invalidation: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{db: db, listener: listener, ctx: ctx, cancel: cancel}
	b.wg.Add(1)
	go b.loop()
	return b, nil
}

// OnInvalidate registers a handler invoked for every incoming message,
// including messages this instance itself published (the hot cache layer
// is expected to no-op on an already-absent key).
func (b *Bus) OnInvalidate(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish announces that the entity identified by identifierB64 (already
// Base64URL-encoded, matching the API's path segment and the hot cache's
// key schema) changed under scope, so every listening instance (including
// this one) evicts the corresponding hot cache entry. idShortPath is only
// meaningful for ScopeElement; pass "" for every other scope.
func (b *Bus) Publish(ctx context.Context, scope Scope, identifierB64 string, idShortPath string) error {
	msg := Message{Type: scope, IdentifierB64: identifierB64}
	if scope == ScopeElement && idShortPath != "" {
		msg.IDShortPath = &idShortPath
	}
	return b.publish(ctx, msg)
}

// PublishAll announces an "all" scope flush: every listening instance
// (including this one) drops its entire hot cache.
func (b *Bus) PublishAll(ctx context.Context) error {
	return b.publish(ctx, Message{Type: ScopeAll})
}

func (b *Bus) publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("invalidation: marshal: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("invalidation: notify: %w", err)
	}
	return nil
}

// Close stops the listener loop and releases the dedicated connection.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.listener.Close()
}

func (b *Bus) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case notification := <-b.listener.Notify:
			if notification == nil {
				continue // connection dropped, pq.Listener reconnects and relistens
			}
			var msg Message
			if err := json.Unmarshal([]byte(notification.Extra), &msg); err != nil {
				continue
			}
			b.dispatch(msg)
		case <-time.After(90 * time.Second):
			go b.listener.Ping()
		}
	}
}

func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h(ctx, msg)
		cancel()
	}
}
