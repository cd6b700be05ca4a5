// ABOUTME: Tests for the analytics projector.
// ABOUTME: Redelivery counts twice without dedupe, once with the window or the durable record.

package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fluxmind/internal/dedupe"
	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
	"github.com/2389/fluxmind/internal/store"
)

type failingCounter struct {
	err     error
	applied int
}

func (f *failingCounter) IncrementAssistantMessages(context.Context, domain.ConversationID, time.Time) error {
	return f.err
}

func (f *failingCounter) IncrementAssistantMessagesOnce(context.Context, uuid.UUID, domain.ConversationID, time.Time) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.applied++
	return true, nil
}

func newEvent(conv domain.ConversationID, at time.Time) events.AssistantResponded {
	return events.NewAssistantResponded(conv, domain.NewMessageID(), domain.NewMessageID(), "reply", events.WithOccurredAt(at))
}

func TestProjectIncrements(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	p := NewProjector(st, nil)
	conv := domain.NewConversationID()
	at := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, p.Project(ctx, newEvent(conv, at)))
	require.NoError(t, p.Project(ctx, newEvent(conv, at.Add(time.Minute))))

	stats, err := st.GetConversationStats(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.AssistantMessages)
	assert.True(t, at.Add(time.Minute).Equal(stats.LastMessageAt))
}

func TestProjectRedeliveryCountsTwiceWithoutDedupe(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	p := NewProjector(st, nil)
	ev := newEvent(domain.NewConversationID(), time.Now())

	require.NoError(t, p.Project(ctx, ev))
	require.NoError(t, p.Project(ctx, ev))

	stats, err := st.GetConversationStats(ctx, ev.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.AssistantMessages)
}

func TestProjectRedeliveryCountsOnceWithDedupe(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	window := dedupe.NewWindow(time.Hour, 100)
	defer window.Close()
	p := NewProjector(st, nil, WithDeduper(window))
	ev := newEvent(domain.NewConversationID(), time.Now())

	require.NoError(t, p.Project(ctx, ev))
	require.NoError(t, p.Project(ctx, ev))

	stats, err := st.GetConversationStats(ctx, ev.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AssistantMessages)
}

func TestProjectFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	window := dedupe.NewWindow(time.Hour, 100)
	defer window.Close()
	counter := &failingCounter{err: errors.New("disk full")}
	p := NewProjector(counter, nil, WithDeduper(window))
	ev := newEvent(domain.NewConversationID(), time.Now())

	require.Error(t, p.Project(ctx, ev))
	assert.False(t, window.Seen(ev.Meta().ID))

	counter.err = nil
	require.NoError(t, p.Project(ctx, ev))
	assert.True(t, window.Seen(ev.Meta().ID))
}

func TestProjectRedeliveryAfterRestartCountsOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	ev := newEvent(domain.NewConversationID(), time.Now())

	first := NewProjector(st, nil, WithOnceCounter(st))
	require.NoError(t, first.Project(ctx, ev))

	// A fresh projector has an empty window, as after a process restart.
	window := dedupe.NewWindow(time.Hour, 100)
	defer window.Close()
	second := NewProjector(st, nil, WithOnceCounter(st), WithDeduper(window))
	require.NoError(t, second.Project(ctx, ev))
	require.NoError(t, second.Project(ctx, ev))

	stats, err := st.GetConversationStats(ctx, ev.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.AssistantMessages)
}

func TestProjectOnceCounterFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	window := dedupe.NewWindow(time.Hour, 100)
	defer window.Close()
	counter := &failingCounter{err: errors.New("disk full")}
	p := NewProjector(counter, nil, WithOnceCounter(counter), WithDeduper(window))
	ev := newEvent(domain.NewConversationID(), time.Now())

	require.Error(t, p.Project(ctx, ev))
	assert.False(t, window.Seen(ev.Meta().ID))

	counter.err = nil
	require.NoError(t, p.Project(ctx, ev))
	assert.Equal(t, 1, counter.applied)
}
