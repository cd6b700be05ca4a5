// ABOUTME: Tests for the in-memory bus.
// ABOUTME: Covers ordering, groups, skip of unknown kinds, nack redelivery and shutdown.

package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
)

const testTopic = "conversation-events"

func newTestBus(t *testing.T, opts MemoryOptions) *MemoryBus {
	t.Helper()
	b := NewMemoryBus(opts, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func nextWithin(t *testing.T, sub Subscription, d time.Duration) *Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	del, err := sub.Next(ctx)
	require.NoError(t, err)
	return del
}

func TestMemoryBusSameKeyOrdering(t *testing.T) {
	b := newTestBus(t, MemoryOptions{Partitions: 4})
	ctx := context.Background()
	conv := domain.NewConversationID()

	var published []events.Event
	for i := 0; i < 5; i++ {
		ev := events.NewMessageReceived(conv, domain.NewMessageID(), domain.RoleUser, "m")
		published = append(published, ev)
		require.NoError(t, b.Publish(ctx, testTopic, ev, conv.String()))
	}

	sub, err := b.Group("g", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)

	for _, want := range published {
		d := nextWithin(t, sub, time.Second)
		assert.Equal(t, want.Meta().ID, d.Event.Meta().ID)
		assert.Equal(t, conv.String(), d.Key)
		require.NoError(t, d.Ack(ctx))
	}
}

func TestMemoryBusNextBlocksUntilPublish(t *testing.T) {
	b := newTestBus(t, MemoryOptions{})
	ctx := context.Background()

	sub, err := b.Group("g", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)

	ev := events.NewConversationArchived(domain.NewConversationID())
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Publish(ctx, testTopic, ev, events.PartitionKey(ev))
	}()

	d := nextWithin(t, sub, time.Second)
	assert.Equal(t, ev.Meta().ID, d.Event.Meta().ID)
}

func TestMemoryBusGroupsAreIndependent(t *testing.T) {
	b := newTestBus(t, MemoryOptions{})
	ctx := context.Background()
	ev := events.NewConversationArchived(domain.NewConversationID())
	require.NoError(t, b.Publish(ctx, testTopic, ev, events.PartitionKey(ev)))

	a, err := b.Group("a", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)
	c, err := b.Group("c", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)

	require.NoError(t, nextWithin(t, a, time.Second).Ack(ctx))
	require.NoError(t, nextWithin(t, c, time.Second).Ack(ctx))
}

func TestMemoryBusSkipsUnknownKind(t *testing.T) {
	b := newTestBus(t, MemoryOptions{Partitions: 1})
	ctx := context.Background()

	var mu sync.Mutex
	var skipped []events.Kind
	group := b.Group("g", events.DefaultRegistry(), WithSkipFunc(func(_ string, kind events.Kind, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.ErrorIs(t, err, events.ErrUnknownKind)
		skipped = append(skipped, kind)
	}))

	b.publishRaw(testTopic, "k", []byte(`{"schema":1,"type":"conversation_renamed","event_id":"x","occurred_at":"x","data":{}}`))
	ev := events.NewConversationArchived(domain.NewConversationID())
	require.NoError(t, b.Publish(ctx, testTopic, ev, "k"))

	sub, err := group.Subscribe(ctx, testTopic)
	require.NoError(t, err)

	d := nextWithin(t, sub, time.Second)
	assert.Equal(t, ev.Meta().ID, d.Event.Meta().ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Kind{"conversation_renamed"}, skipped)
}

func TestMemoryBusNackRedelivers(t *testing.T) {
	b := newTestBus(t, MemoryOptions{Partitions: 1, RedeliveryDelay: 0})
	ctx := context.Background()

	first := events.NewConversationArchived(domain.NewConversationID())
	second := events.NewConversationArchived(domain.NewConversationID())
	require.NoError(t, b.Publish(ctx, testTopic, first, "k"))
	require.NoError(t, b.Publish(ctx, testTopic, second, "k"))

	sub, err := b.Group("g", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)

	d := nextWithin(t, sub, time.Second)
	assert.Equal(t, first.Meta().ID, d.Event.Meta().ID)
	require.NoError(t, d.Nack(ctx))

	// The failed event is offered again and the partition keeps moving.
	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		d := nextWithin(t, sub, time.Second)
		seen[d.Event.Meta().ID.String()] = d.Attempt
		require.NoError(t, d.Ack(ctx))
	}
	assert.Equal(t, 2, seen[first.Meta().ID.String()])
	assert.Equal(t, 1, seen[second.Meta().ID.String()])
}

func TestMemoryBusMaxRedeliveries(t *testing.T) {
	b := newTestBus(t, MemoryOptions{Partitions: 1, MaxRedeliveries: 1})
	ctx := context.Background()
	ev := events.NewConversationArchived(domain.NewConversationID())
	require.NoError(t, b.Publish(ctx, testTopic, ev, "k"))

	sub, err := b.Group("g", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)

	require.NoError(t, nextWithin(t, sub, time.Second).Nack(ctx))
	d := nextWithin(t, sub, time.Second)
	assert.Equal(t, 2, d.Attempt)
	require.NoError(t, d.Nack(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = sub.Next(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBusAckIsOnce(t *testing.T) {
	b := newTestBus(t, MemoryOptions{Partitions: 1})
	ctx := context.Background()
	ev := events.NewConversationArchived(domain.NewConversationID())
	require.NoError(t, b.Publish(ctx, testTopic, ev, "k"))

	sub, err := b.Group("g", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)

	d := nextWithin(t, sub, time.Second)
	require.NoError(t, d.Ack(ctx))
	require.NoError(t, d.Nack(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = sub.Next(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBusCloseReturnsOutstanding(t *testing.T) {
	b := newTestBus(t, MemoryOptions{Partitions: 1})
	ctx := context.Background()
	ev := events.NewConversationArchived(domain.NewConversationID())
	require.NoError(t, b.Publish(ctx, testTopic, ev, "k"))

	group := b.Group("g", events.DefaultRegistry())
	sub, err := group.Subscribe(ctx, testTopic)
	require.NoError(t, err)
	_ = nextWithin(t, sub, time.Second)
	require.NoError(t, sub.Close())

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	again, err := group.Subscribe(ctx, testTopic)
	require.NoError(t, err)
	d := nextWithin(t, again, 3*time.Second)
	assert.Equal(t, ev.Meta().ID, d.Event.Meta().ID)
}

func TestMemoryBusSubscriptionEndsWithContext(t *testing.T) {
	b := newTestBus(t, MemoryOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.Group("g", events.DefaultRegistry()).Subscribe(ctx, testTopic)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := sub.Next(ctx)
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus(MemoryOptions{}, nil)
	require.NoError(t, b.Close())

	ev := events.NewConversationArchived(domain.NewConversationID())
	assert.ErrorIs(t, b.Publish(context.Background(), testTopic, ev, "k"), ErrClosed)

	_, err := b.Group("g", events.DefaultRegistry()).Subscribe(context.Background(), testTopic)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBusEvents(t *testing.T) {
	b := newTestBus(t, MemoryOptions{Partitions: 4})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		ev := events.NewConversationArchived(domain.NewConversationID())
		ids = append(ids, ev.Meta().ID.String())
		require.NoError(t, b.Publish(ctx, testTopic, ev, events.PartitionKey(ev)))
	}

	got, err := b.Events(testTopic)
	require.NoError(t, err)
	require.Len(t, got, 6)
	for i, ev := range got {
		assert.Equal(t, ids[i], ev.Meta().ID.String())
	}
}
