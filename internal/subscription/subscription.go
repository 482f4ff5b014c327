// Package subscription implements spec.md §4.11's real-time subscription
// manager: WebSocket clients register a JSONPath content filter and
// receive only the event-bus events it matches, each client backed by a
// bounded queue that evicts its oldest entry rather than blocking the
// dispatch loop when the client falls behind.
package subscription

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/PaesslerAG/jsonpath"
	"github.com/gorilla/websocket"

	"github.com/hadijannat/titan-aas/internal/eventbus"
)

// DefaultQueueCapacity bounds how many undelivered events a single
// subscriber can accumulate before the oldest is evicted.
const DefaultQueueCapacity = 64

// ring is a fixed-capacity FIFO that evicts its oldest element on
// overflow instead of blocking or growing unbounded.
type ring struct {
	mu   sync.Mutex
	buf  []eventbus.Event
	cap  int
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]eventbus.Event, capacity), cap: capacity}
}

// push appends event, evicting the oldest entry if the ring is full.
// Returns true if an eviction occurred.
func (r *ring) push(event eventbus.Event) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.size) % r.cap
	if r.size == r.cap {
		r.head = (r.head + 1) % r.cap
		evicted = true
	} else {
		r.size++
	}
	r.buf[idx] = event
	return evicted
}

// pop removes and returns the oldest event, or ok=false if empty.
func (r *ring) pop() (eventbus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return eventbus.Event{}, false
	}
	event := r.buf[r.head]
	r.head = (r.head + 1) % r.cap
	r.size--
	return event, true
}

// Filter is spec.md §4.11's structured subscription filter:
// {entity_type, event_types, identifier?}. An event matches iff its
// EntityType equals EntityType, its Operation is one of EventTypes (an
// empty EventTypes matches any operation), and, if Identifier is set, its
// ID equals Identifier.
type Filter struct {
	EntityType string
	EventTypes []string
	Identifier string
}

// Matches reports whether event satisfies f.
func (f *Filter) Matches(event eventbus.Event) bool {
	if f == nil {
		return true
	}
	if f.EntityType != "" && f.EntityType != event.EntityType {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if et == event.Operation {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Identifier != "" && f.Identifier != event.ID {
		return false
	}
	return true
}

// Subscription is one connected client and its content filter. A
// subscriber may register either (or both) of the two filter dialects
// spec.md supports: the structured {entity_type, event_types,
// identifier} filter (Structured) and a JSONPath expression (JSONPath)
// for ad-hoc selection the structured filter cannot express. A
// subscription with both set must satisfy both.
type Subscription struct {
	ID         string
	Structured *Filter
	JSONPath   string // JSONPath expression evaluated against the event; "" matches everything
	conn       *websocket.Conn
	queue      *ring
	wake       chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}
}

func newSubscription(id string, structured *Filter, jsonPathFilter string, conn *websocket.Conn, queueCapacity int) *Subscription {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Subscription{
		ID:         id,
		Structured: structured,
		JSONPath:   jsonPathFilter,
		conn:       conn,
		queue:      newRing(queueCapacity),
		wake:       make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
}

func (s *Subscription) enqueue(event eventbus.Event) {
	s.queue.push(event)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.wake:
			for {
				event, ok := s.queue.pop()
				if !ok {
					break
				}
				if err := s.conn.WriteJSON(event); err != nil {
					return
				}
			}
		}
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Manager fans out eventbus events to registered Subscriptions whose
// Filter matches.
type Manager struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{subs: make(map[string]*Subscription)}
}

// Register adds a new subscription over conn, filtered by structured (the
// spec.md §4.11 {entity_type, event_types, identifier} filter, nil matches
// any event on that dialect) and/or jsonPathFilter (empty matches every
// event on that dialect), and starts its delivery goroutine.
func (m *Manager) Register(id string, conn *websocket.Conn, structured *Filter, jsonPathFilter string) *Subscription {
	sub := newSubscription(id, structured, jsonPathFilter, conn, DefaultQueueCapacity)
	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()
	go sub.run()
	return sub
}

// Unregister removes and stops delivery to subscription id.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Dispatch evaluates event against every registered subscription's filter
// and enqueues it for the ones that match.
func (m *Manager) Dispatch(event eventbus.Event) error {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	var obj interface{}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("subscription: marshal event: %w", err)
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("subscription: unmarshal event: %w", err)
	}
	// Filters are written as array filter expressions (e.g.
	// "$[?(@.EntityType == 'submodel')]"); wrapping the single event in a
	// one-element array lets subscribers use that same array-filter
	// syntax against a single event instead of a bespoke "is this object
	// selected" dialect.
	doc := []interface{}{obj}

	for _, sub := range subs {
		if sub.Structured.Matches(event) && matchesJSONPath(sub.JSONPath, doc) {
			sub.enqueue(event)
		}
	}
	return nil
}

// matchesJSONPath reports whether filter (a JSONPath expression) selects
// anything in doc. An empty filter always matches. A filter that errors
// (malformed expression, or the path does not exist in this event) does
// not match; subscriptions are expected to register a path appropriate to
// the event shapes they care about.
func matchesJSONPath(filter string, doc interface{}) bool {
	if filter == "" {
		return true
	}
	result, err := jsonpath.Get(filter, doc)
	if err != nil {
		return false
	}
	switch v := result.(type) {
	case nil:
		return false
	case bool:
		return v
	case []interface{}:
		return len(v) > 0
	default:
		return true
	}
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
