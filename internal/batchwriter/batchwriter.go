// Package batchwriter implements spec.md §4.8's micro-batch writer: writes
// accumulate in a FIFO buffer and flush together either once batch_size
// items have queued or a periodic flush_interval_ms timer fires, whichever
// comes first; the timer restarts after every size-triggered flush. A
// failed flush re-prepends its
// items to the front of the buffer so they are retried ahead of anything
// queued after them, preserving write order.
package batchwriter

import (
	"context"
	"sync"
	"time"
)

// FlushFunc persists a batch of items. A non-nil error causes the whole
// batch to be retried.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Writer batches writes of type T.
type Writer[T any] struct {
	batchSize     int
	flushInterval time.Duration
	flush         FlushFunc[T]

	mu      sync.Mutex
	pending []T
	oldest  time.Time

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Writer that flushes via flushFn whenever batchSize items
// are pending or the periodic flushInterval timer fires (restarted after
// each size-triggered flush).
func New[T any](batchSize int, flushInterval time.Duration, flushFn FlushFunc[T]) *Writer[T] {
	return &Writer[T]{
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flush:         flushFn,
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Add appends item to the pending buffer, waking the flush loop if this
// batch just reached batchSize.
func (w *Writer[T]) Add(item T) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.oldest = time.Now()
	}
	w.pending = append(w.pending, item)
	shouldWake := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if shouldWake {
		w.wake()
	}
}

func (w *Writer[T]) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Start begins the background flush loop.
func (w *Writer[T]) Start() {
	go w.run()
}

func (w *Writer[T]) run() {
	defer close(w.doneCh)
	timer := time.NewTimer(w.flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			w.tryFlush(context.Background())
			return
		case <-w.wakeCh:
			w.tryFlush(context.Background())
			resetTimer(timer, w.flushInterval)
		case <-timer.C:
			w.tryFlush(context.Background())
			timer.Reset(w.flushInterval)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// tryFlush flushes every currently pending item. On failure, the items are
// re-prepended to the buffer (ahead of anything added meanwhile) so the
// next attempt retries them first, preserving FIFO order across retries.
func (w *Writer[T]) tryFlush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if err := w.flush(ctx, batch); err != nil {
		w.mu.Lock()
		w.pending = append(batch, w.pending...)
		w.mu.Unlock()
	}
}

// Stop flushes any remaining pending items and halts the background loop.
func (w *Writer[T]) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// Pending returns the number of items currently buffered, for tests and
// diagnostics.
func (w *Writer[T]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
