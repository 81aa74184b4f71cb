package transport

import (
	"context"
	"sync"
)

// Window is a flow-control credit window: either the connection-level or
// one stream-level window (spec.md §4.4: "enforce both connection-level
// and stream-level HTTP/2 flow-control windows when writing outbound
// DATA; when a write exceeds available credit, queue the remainder until
// WINDOW_UPDATE arrives"). Streams request credit from the Window they are
// bound to; they never mutate it directly (spec.md §5).
type Window struct {
	mu      sync.Mutex
	credit  int64
	waiters []chan struct{}
}

// NewWindow creates a Window starting with initial bytes of credit, the
// HTTP/2 default connection/stream window size unless overridden by
// SETTINGS.
func NewWindow(initial int64) *Window {
	return &Window{credit: initial}
}

// Acquire blocks until at least n bytes of credit are available, then
// deducts them, or returns ctx.Err() if ctx is done first.
func (w *Window) Acquire(ctx context.Context, n int64) error {
	for {
		w.mu.Lock()
		if w.credit >= n {
			w.credit -= n
			w.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		w.waiters = append(w.waiters, ch)
		w.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Replenish adds n bytes of credit, as a WINDOW_UPDATE frame does, and
// wakes any blocked Acquire calls so they can re-check.
func (w *Window) Replenish(n int64) {
	w.mu.Lock()
	w.credit += n
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// Available reports the current credit without consuming it.
func (w *Window) Available() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credit
}
