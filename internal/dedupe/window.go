// ABOUTME: Bounded, time-limited set of processed event ids.
// ABOUTME: Lets at-least-once consumers skip redelivered events they already applied.

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Window tracks event ids seen within the last ttl, holding at most
// capacity ids. When full, the oldest id is evicted first. A redelivery that
// arrives after its id expired or was evicted is treated as new.
type Window struct {
	mu       sync.Mutex
	seen     map[uuid.UUID]*entry
	order    *list.List // ids in first-seen order, oldest at front
	ttl      time.Duration
	capacity int
	now      func() time.Time

	done   chan struct{}
	closed bool
}

// NewWindow creates a window and starts its background sweep of expired ids.
func NewWindow(ttl time.Duration, capacity int) *Window {
	w := newWindow(ttl, capacity, time.Now)
	go w.sweepLoop(time.Minute)
	return w
}

func newWindow(ttl time.Duration, capacity int, now func() time.Time) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{
		seen:     make(map[uuid.UUID]*entry),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		done:     make(chan struct{}),
	}
}

// Seen reports whether id is in the window.
func (w *Window) Seen(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.liveLocked(id)
}

// Observe records id and reports whether it was already present. The check
// and the record happen atomically.
func (w *Window) Observe(id uuid.UUID) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.liveLocked(id) {
		return true
	}
	w.removeLocked(id)

	if w.order.Len() >= w.capacity {
		if front := w.order.Front(); front != nil {
			w.removeLocked(front.Value.(uuid.UUID))
		}
	}
	w.seen[id] = &entry{
		seenAt:  w.now(),
		element: w.order.PushBack(id),
	}
	return false
}

// Forget removes id, so its next delivery is treated as new. Used when
// applying an observed event fails.
func (w *Window) Forget(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(id)
}

// Len returns the number of ids held, including expired ones not yet swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}

func (w *Window) liveLocked(id uuid.UUID) bool {
	e, ok := w.seen[id]
	return ok && w.now().Sub(e.seenAt) < w.ttl
}

func (w *Window) removeLocked(id uuid.UUID) {
	if e, ok := w.seen[id]; ok {
		w.order.Remove(e.element)
		delete(w.seen, id)
	}
}

// sweep drops expired ids. Ids are ordered by first sighting, so it stops at
// the first live one.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		id := front.Value.(uuid.UUID)
		if now.Sub(w.seen[id].seenAt) < w.ttl {
			return
		}
		w.removeLocked(id)
	}
}

func (w *Window) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
