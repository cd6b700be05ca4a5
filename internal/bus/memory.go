// ABOUTME: In-process partitioned event log with consumer groups and redelivery.
// ABOUTME: Same-key ordering, at-least-once delivery, delayed redelivery on nack.

package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/events"
)

const (
	defaultPartitions      = 8
	defaultRedeliveryDelay = time.Second
)

// MemoryOptions tunes a MemoryBus.
type MemoryOptions struct {
	// Partitions per topic. Defaults to 8.
	Partitions int
	// RedeliveryDelay is how long a nacked delivery waits before it is
	// offered again. Zero redelivers immediately.
	RedeliveryDelay time.Duration
	// MaxRedeliveries drops a record after this many failed attempts.
	// Zero means no limit.
	MaxRedeliveries int
}

// MemoryBus is an in-process Publisher with per-group subscriptions. Records
// are retained for the lifetime of the bus, so a group that subscribes late
// starts from the earliest record.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]*topicLog
	groups map[groupKey]*groupState
	notify chan struct{}
	closed bool

	opts   MemoryOptions
	logger *slog.Logger
}

type topicLog struct {
	partitions [][]record
	seq        int64
	rr         int
}

type record struct {
	key     string
	payload []byte
	seq     int64
}

type groupKey struct {
	group string
	topic string
}

type groupState struct {
	next     []int64
	inflight []bool
	retries  []retryItem
	rr       int
}

type retryItem struct {
	partition int
	offset    int64
	attempt   int
	due       time.Time
}

// NewMemoryBus creates an empty bus. Pass nil logger for default.
func NewMemoryBus(opts MemoryOptions, logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Partitions <= 0 {
		opts.Partitions = defaultPartitions
	}
	if opts.RedeliveryDelay < 0 {
		opts.RedeliveryDelay = defaultRedeliveryDelay
	}
	return &MemoryBus{
		topics: make(map[string]*topicLog),
		groups: make(map[groupKey]*groupState),
		notify: make(chan struct{}),
		opts:   opts,
		logger: logger.With("component", "memory_bus"),
	}
}

// Publish appends ev to the partition selected by key.
func (b *MemoryBus) Publish(ctx context.Context, topic string, ev events.Event, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := events.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	t := b.topicLocked(topic)
	p := b.partitionFor(t, key)
	t.seq++
	t.partitions[p] = append(t.partitions[p], record{key: key, payload: payload, seq: t.seq})
	b.broadcastLocked()

	b.logger.Debug("event published",
		"topic", topic,
		"kind", ev.Kind(),
		"event_id", ev.Meta().ID,
		"partition", p)
	return nil
}

// Group returns a Subscriber for the named consumer group. Subscriptions in
// the same group share committed positions.
func (b *MemoryBus) Group(name string, registry *events.Registry, opts ...SubscriberOption) *MemoryGroup {
	return &MemoryGroup{
		bus:      b,
		name:     name,
		registry: registry,
		opts:     buildSubscriberOptions(opts),
	}
}

// Events decodes every record published to topic, in publish order.
// Intended for tests and diagnostics.
func (b *MemoryBus) Events(topic string) ([]events.Event, error) {
	b.mu.Lock()
	var recs []record
	if t, ok := b.topics[topic]; ok {
		for _, part := range t.partitions {
			recs = append(recs, part...)
		}
	}
	b.mu.Unlock()

	ordered := make([]record, len(recs))
	for _, r := range recs {
		ordered[r.seq-1] = r
	}

	reg := events.DefaultRegistry()
	out := make([]events.Event, 0, len(ordered))
	for _, r := range ordered {
		ev, err := reg.Decode(r.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close stops the bus. Blocked subscriptions return ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.broadcastLocked()
	b.logger.Debug("memory bus closed")
	return nil
}

// publishRaw appends an already-encoded payload. Used by tests to inject
// payloads the encoder would never produce.
func (b *MemoryBus) publishRaw(topic, key string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicLocked(topic)
	p := b.partitionFor(t, key)
	t.seq++
	t.partitions[p] = append(t.partitions[p], record{key: key, payload: payload, seq: t.seq})
	b.broadcastLocked()
}

func (b *MemoryBus) topicLocked(name string) *topicLog {
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{partitions: make([][]record, b.opts.Partitions)}
		b.topics[name] = t
	}
	return t
}

func (b *MemoryBus) partitionFor(t *topicLog, key string) int {
	if key == "" {
		p := t.rr % len(t.partitions)
		t.rr++
		return p
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.partitions)))
}

func (b *MemoryBus) groupLocked(k groupKey) *groupState {
	g, ok := b.groups[k]
	if !ok {
		g = &groupState{
			next:     make([]int64, b.opts.Partitions),
			inflight: make([]bool, b.opts.Partitions),
		}
		b.groups[k] = g
	}
	return g
}

// broadcastLocked wakes every waiting subscription.
func (b *MemoryBus) broadcastLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// claim is a record handed to a subscription.
type claim struct {
	rec       record
	partition int
	offset    int64
	attempt   int
}

// claimLocked picks the next deliverable record for a group. Due retries
// come first, then new records in round-robin partition order. A partition
// with a delivery in flight is skipped. It also reports the earliest pending
// retry time so the caller can wait for it.
func (b *MemoryBus) claimLocked(k groupKey, now time.Time) (claim, bool, time.Time) {
	g := b.groupLocked(k)
	t := b.topicLocked(k.topic)

	var wake time.Time
	for i, r := range g.retries {
		if g.inflight[r.partition] {
			continue
		}
		if r.due.After(now) {
			if wake.IsZero() || r.due.Before(wake) {
				wake = r.due
			}
			continue
		}
		g.retries = append(g.retries[:i], g.retries[i+1:]...)
		g.inflight[r.partition] = true
		return claim{
			rec:       t.partitions[r.partition][r.offset],
			partition: r.partition,
			offset:    r.offset,
			attempt:   r.attempt,
		}, true, time.Time{}
	}

	n := len(t.partitions)
	for i := 0; i < n; i++ {
		p := (g.rr + i) % n
		if g.inflight[p] || g.next[p] >= int64(len(t.partitions[p])) {
			continue
		}
		off := g.next[p]
		g.next[p]++
		g.inflight[p] = true
		g.rr = (p + 1) % n
		return claim{rec: t.partitions[p][off], partition: p, offset: off, attempt: 1}, true, time.Time{}
	}
	return claim{}, false, wake
}

// settle resolves an in-flight claim. A failed claim is scheduled for
// redelivery unless it has exhausted its attempts.
func (b *MemoryBus) settle(k groupKey, c claim, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.groupLocked(k)
	g.inflight[c.partition] = false
	if !ok {
		if b.opts.MaxRedeliveries > 0 && c.attempt > b.opts.MaxRedeliveries {
			b.logger.Warn("dropping event after max redeliveries",
				"topic", k.topic,
				"group", k.group,
				"partition", c.partition,
				"offset", c.offset,
				"attempts", c.attempt)
		} else {
			g.retries = append(g.retries, retryItem{
				partition: c.partition,
				offset:    c.offset,
				attempt:   c.attempt + 1,
				due:       time.Now().Add(b.opts.RedeliveryDelay),
			})
		}
	}
	b.broadcastLocked()
}

// MemoryGroup is a consumer group on a MemoryBus.
type MemoryGroup struct {
	bus      *MemoryBus
	name     string
	registry *events.Registry
	opts     subscriberOptions
}

// Subscribe opens a subscription to topic. The subscription is closed when
// ctx is cancelled; deliveries still outstanding at that point are
// redelivered to the group.
func (g *MemoryGroup) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	g.bus.mu.Lock()
	closed := g.bus.closed
	g.bus.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	s := &memorySubscription{
		group:       g,
		key:         groupKey{group: g.name, topic: topic},
		id:          uuid.New().String(),
		done:        make(chan struct{}),
		outstanding: make(map[*Delivery]struct{}),
	}

	g.bus.logger.Debug("subscription opened",
		"topic", topic,
		"group", g.name,
		"sub_id", s.id)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type memorySubscription struct {
	group *MemoryGroup
	key   groupKey
	id    string

	mu          sync.Mutex
	closed      bool
	done        chan struct{}
	outstanding map[*Delivery]struct{}
}

func (s *memorySubscription) Next(ctx context.Context) (*Delivery, error) {
	b := s.group.bus
	for {
		if s.isClosed() {
			return nil, ErrClosed
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		c, ok, wake := b.claimLocked(s.key, time.Now())
		wait := b.notify
		b.mu.Unlock()

		if ok {
			ev, err := s.group.registry.Decode(c.rec.payload)
			if err != nil {
				b.settle(s.key, c, true)
				s.group.opts.reportSkip(s.key.topic, c.rec.payload, err)
				continue
			}
			return s.deliver(ev, c), nil
		}

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if !wake.IsZero() {
			timer = time.NewTimer(time.Until(wake))
			fire = timer.C
		}

		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-s.done:
			err = ErrClosed
		case <-wait:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *memorySubscription) deliver(ev events.Event, c claim) *Delivery {
	d := &Delivery{
		Event:     ev,
		Topic:     s.key.topic,
		Key:       c.rec.key,
		Partition: c.partition,
		Offset:    c.offset,
		Attempt:   c.attempt,
	}
	d.ack = func(context.Context) error {
		s.forget(d)
		s.group.bus.settle(s.key, c, true)
		return nil
	}
	d.nack = func(context.Context) error {
		s.forget(d)
		s.group.bus.settle(s.key, c, false)
		return nil
	}

	s.mu.Lock()
	s.outstanding[d] = struct{}{}
	s.mu.Unlock()
	return d
}

func (s *memorySubscription) forget(d *Delivery) {
	s.mu.Lock()
	delete(s.outstanding, d)
	s.mu.Unlock()
}

func (s *memorySubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the subscription and returns outstanding deliveries to the group.
func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	pending := make([]*Delivery, 0, len(s.outstanding))
	for d := range s.outstanding {
		pending = append(pending, d)
	}
	s.mu.Unlock()

	for _, d := range pending {
		_ = d.Nack(context.Background())
	}

	s.group.bus.logger.Debug("subscription closed",
		"topic", s.key.topic,
		"group", s.key.group,
		"sub_id", s.id,
		"returned", len(pending))
	return nil
}
