// ABOUTME: Tests for the Conversation aggregate.
// ABOUTME: Covers append order, history windows, archive idempotence and commit tracking.

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a clock that advances by one second on every call.
func stepClock(start time.Time) Clock {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestNewConversation(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewConversation(stepClock(start))

	assert.False(t, c.ID.IsZero())
	assert.False(t, c.Archived())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, c.CreatedAt, c.UpdatedAt())
	assert.Equal(t, int64(0), c.Version())
}

func TestAddMessage(t *testing.T) {
	c := NewConversation(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	first, err := c.AddMessage(RoleUser, "hello")
	require.NoError(t, err)
	second, err := c.AddMessage(RoleAssistant, "hi there")
	require.NoError(t, err)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, second.CreatedAt, c.UpdatedAt())
	assert.True(t, second.CreatedAt.After(first.CreatedAt))
}

func TestAddMessageRejectsUnknownRole(t *testing.T) {
	c := NewConversation(nil)

	_, err := c.AddMessage(Role("tool"), "x")
	require.ErrorIs(t, err, ErrInvalidRole)
	assert.Equal(t, 0, c.Len())
}

func TestMessagesReturnsCopy(t *testing.T) {
	c := NewConversation(nil)
	_, err := c.AddMessage(RoleUser, "original")
	require.NoError(t, err)

	msgs := c.Messages()
	msgs[0].Content = "tampered"

	assert.Equal(t, "original", c.Messages()[0].Content)
}

func TestLatestMessages(t *testing.T) {
	c := NewConversation(nil)
	for _, s := range []string{"a", "b", "c", "d"} {
		_, err := c.AddMessage(RoleUser, s)
		require.NoError(t, err)
	}

	contents := func(ms []Message) []string {
		out := make([]string, len(ms))
		for i, m := range ms {
			out[i] = m.Content
		}
		return out
	}

	assert.Equal(t, []string{"c", "d"}, contents(c.LatestMessages(2)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, contents(c.LatestMessages(10)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, contents(c.LatestMessages(0)))
}

func TestArchiveIsIdempotent(t *testing.T) {
	c := NewConversation(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	assert.True(t, c.Archive())
	archivedAt := c.UpdatedAt()

	assert.False(t, c.Archive())
	assert.True(t, c.Archived())
	assert.Equal(t, archivedAt, c.UpdatedAt())
}

func TestTouch(t *testing.T) {
	c := NewConversation(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	before := c.UpdatedAt()

	c.Touch()

	assert.True(t, c.UpdatedAt().After(before))
}

func TestUncommittedTracking(t *testing.T) {
	c := NewConversation(nil)
	_, err := c.AddMessage(RoleUser, "one")
	require.NoError(t, err)

	start, pending := c.Uncommitted()
	assert.Equal(t, 0, start)
	assert.Len(t, pending, 1)

	c.MarkCommitted(1)
	_, err = c.AddMessage(RoleAssistant, "two")
	require.NoError(t, err)

	start, pending = c.Uncommitted()
	assert.Equal(t, 1, start)
	require.Len(t, pending, 1)
	assert.Equal(t, "two", pending[0].Content)
	assert.Equal(t, int64(1), c.Version())
}

func TestRestore(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	id := NewConversationID()
	snap := Snapshot{
		ID: id,
		Messages: []Message{
			{ID: NewMessageID(), ConversationID: id, Role: RoleUser, Content: "hi", CreatedAt: created},
		},
		Archived:  true,
		CreatedAt: created,
		UpdatedAt: created,
		Version:   4,
	}

	c := Restore(snap, nil)

	assert.Equal(t, snap.ID, c.ID)
	assert.True(t, c.Archived())
	assert.Equal(t, int64(4), c.Version())
	_, pending := c.Uncommitted()
	assert.Empty(t, pending)
	assert.Equal(t, snap, c.Snapshot())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("assistant")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, r)

	_, err = ParseRole("ASSISTANT")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestConversationIDText(t *testing.T) {
	id := NewConversationID()
	b, err := id.MarshalText()
	require.NoError(t, err)

	var parsed ConversationID
	require.NoError(t, parsed.UnmarshalText(b))
	assert.Equal(t, id, parsed)

	assert.Error(t, parsed.UnmarshalText([]byte("not-a-uuid")))
}

func TestRestoreAssignsOwner(t *testing.T) {
	id := NewConversationID()
	c := Restore(Snapshot{
		ID:       id,
		Messages: []Message{{ID: NewMessageID(), Role: RoleUser, Content: "hi"}},
	}, nil)

	assert.Equal(t, id, c.Messages()[0].ConversationID)
}

func TestAddMessageRecordsOwner(t *testing.T) {
	c := NewConversation(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	msg, err := c.AddMessage(RoleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, c.ID, msg.ConversationID)
	assert.Equal(t, c.ID, c.Messages()[0].ConversationID)
}

func TestLastMessage(t *testing.T) {
	c := NewConversation(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, ok := c.LastMessage()
	assert.False(t, ok)

	_, err := c.AddMessage(RoleUser, "first")
	require.NoError(t, err)
	second, err := c.AddMessage(RoleAssistant, "second")
	require.NoError(t, err)

	last, ok := c.LastMessage()
	require.True(t, ok)
	assert.Equal(t, second, last)
}
