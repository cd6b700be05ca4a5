// ABOUTME: Tests for the processed-event window.
// ABOUTME: Validates duplicate detection, expiry, eviction, forgetting and concurrency safety.

package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestWindow(ttl time.Duration, capacity int) (*Window, *manualClock) {
	clock := &manualClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newWindow(ttl, capacity, clock.now), clock
}

func TestWindow_Observe(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 10)
	id := uuid.New()

	assert.False(t, w.Observe(id))
	assert.True(t, w.Observe(id))
	assert.True(t, w.Seen(id))
	assert.False(t, w.Seen(uuid.New()))
}

func TestWindow_Expiry(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)
	id := uuid.New()

	w.Observe(id)
	clock.advance(2 * time.Minute)

	assert.False(t, w.Seen(id))
	assert.False(t, w.Observe(id), "expired id counts as new")
	assert.Equal(t, 1, w.Len())
}

func TestWindow_EvictsOldest(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	w.Observe(a)
	w.Observe(b)
	w.Observe(c)

	assert.False(t, w.Seen(a))
	assert.True(t, w.Seen(b))
	assert.True(t, w.Seen(c))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_Forget(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 10)
	id := uuid.New()

	w.Observe(id)
	w.Forget(id)

	assert.False(t, w.Observe(id))
	w.Forget(uuid.New())
}

func TestWindow_Sweep(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)
	old := uuid.New()
	w.Observe(old)
	clock.advance(30 * time.Second)
	recent := uuid.New()
	w.Observe(recent)
	clock.advance(45 * time.Second)

	w.sweep()

	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Seen(recent))
}

func TestWindow_ConcurrentObserve(t *testing.T) {
	w := NewWindow(time.Hour, 1000)
	defer w.Close()
	id := uuid.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !w.Observe(id) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, firsts)
}

func TestWindow_CloseIsIdempotent(t *testing.T) {
	w := NewWindow(time.Hour, 10)
	w.Close()
	w.Close()
}
