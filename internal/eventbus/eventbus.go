// Package eventbus implements spec.md §4.7's event bus: a bounded buffer
// of write-notification events fanned out to subscribers (internal/
// subscription's per-client registry, the micro-batch writer's listeners,
// etc.), with per-subscriber timeouts so one slow consumer cannot stall
// delivery to the rest. Adapted from system/core/bus.go's concurrent
// per-engine-timeout fan-out pattern, replaced here with a single bounded
// channel (the source bus had no buffer or backpressure signal) so
// publishers get an explicit EventBusSaturated error instead of blocking
// forever.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/hadijannat/titan-aas/internal/apierr"
)

// Event is one write notification published after a successful commit.
type Event struct {
	EntityType string
	ID         string
	Operation  string // create|update|delete
	ETag       string
	OccurredAt time.Time
}

// DefaultSubscriberTimeout bounds how long a single subscriber is given to
// consume one event before that delivery is abandoned.
const DefaultSubscriberTimeout = 5 * time.Second

type subscriber struct {
	id     string
	filter func(Event) bool
	ch     chan Event
}

// Bus is a bounded, ordered event bus. Events are delivered to subscribers
// in the order Publish was called, one at a time, which gives per-entity
// ordering for free: two events for the same entity are never reordered
// relative to each other because nothing reorders events relative to each
// other at all.
type Bus struct {
	buffer  chan Event
	timeout time.Duration

	mu   sync.RWMutex
	subs map[string]*subscriber

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Bus with the given buffer capacity and per-subscriber
// delivery timeout (DefaultSubscriberTimeout if zero). Call Start to begin
// dispatching.
func New(bufferSize int, timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultSubscriberTimeout
	}
	return &Bus{
		buffer:  make(chan Event, bufferSize),
		timeout: timeout,
		subs:    make(map[string]*subscriber),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Publish enqueues event for dispatch. Returns apierr.EventBusSaturated
// if the buffer is full rather than blocking the caller indefinitely.
func (b *Bus) Publish(event Event) error {
	select {
	case b.buffer <- event:
		return nil
	default:
		return apierr.EventBusSaturated()
	}
}

// Subscribe registers a new subscriber identified by id, receiving only
// events for which filter returns true (a nil filter receives everything).
// Each subscriber gets its own bounded channel so one slow subscriber
// cannot back up delivery to others; the bound equals the bus's own
// buffer capacity.
func (b *Bus) Subscribe(id string, filter func(Event) bool) <-chan Event {
	ch := make(chan Event, cap(b.buffer))
	b.mu.Lock()
	b.subs[id] = &subscriber{id: id, filter: filter, ch: ch}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Start begins the dispatch loop in its own goroutine.
func (b *Bus) Start() {
	go b.run()
}

func (b *Bus) run() {
	defer close(b.doneCh)
	for {
		select {
		case <-b.stopCh:
			return
		case event := <-b.buffer:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter == nil || sub.filter(event) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()
			select {
			case s.ch <- event:
			case <-ctx.Done():
				// Subscriber too slow; this event is dropped for it, not
				// for the rest of the fan-out.
			}
		}(sub)
	}
	wg.Wait()
}

// Stop halts the dispatch loop. Events already pending in the buffer when
// Stop is called are not delivered; call Drain first if that matters.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Drain blocks until the buffer is empty or ctx is done, so a caller can
// guarantee every published event has at least started dispatch before
// shutting the bus down.
func (b *Bus) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(b.buffer) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
