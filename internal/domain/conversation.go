// ABOUTME: Conversation aggregate with append-only messages and a monotonic archived flag.
// ABOUTME: Tracks a version stamp and uncommitted messages for optimistic persistence.

package domain

import (
	"fmt"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// SystemClock returns the current UTC time.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Message is a single immutable entry in a conversation.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// Conversation is the aggregate root for a chat thread.
type Conversation struct {
	ID        ConversationID
	CreatedAt time.Time

	messages  []Message
	archived  bool
	updatedAt time.Time

	// version is the persisted version this state was loaded at (0 = never saved).
	version int64
	// committed is the number of messages already persisted.
	committed int
	clock     Clock
}

// Snapshot is the persisted form of a Conversation.
type Snapshot struct {
	ID        ConversationID
	Messages  []Message
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// NewConversation creates an empty, unarchived conversation with a fresh id.
func NewConversation(clock Clock) *Conversation {
	if clock == nil {
		clock = SystemClock
	}
	now := clock()
	return &Conversation{
		ID:        NewConversationID(),
		CreatedAt: now,
		updatedAt: now,
		clock:     clock,
	}
}

// Restore rebuilds a Conversation from its persisted snapshot. All of the
// snapshot's messages are considered committed and owned by s.ID.
func Restore(s Snapshot, clock Clock) *Conversation {
	if clock == nil {
		clock = SystemClock
	}
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	for i := range msgs {
		msgs[i].ConversationID = s.ID
	}
	return &Conversation{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		messages:  msgs,
		archived:  s.Archived,
		updatedAt: s.UpdatedAt,
		version:   s.Version,
		committed: len(msgs),
		clock:     clock,
	}
}

// UseClock replaces the time source, typically after loading from storage.
func (c *Conversation) UseClock(clock Clock) {
	if clock != nil {
		c.clock = clock
	}
}

// Snapshot returns a copy of the conversation state.
func (c *Conversation) Snapshot() Snapshot {
	return Snapshot{
		ID:        c.ID,
		Messages:  c.Messages(),
		Archived:  c.archived,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.updatedAt,
		Version:   c.version,
	}
}

// AddMessage appends a message and refreshes UpdatedAt. The message's
// CreatedAt equals the new UpdatedAt.
func (c *Conversation) AddMessage(role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	now := c.clock()
	msg := Message{
		ID:             NewMessageID(),
		ConversationID: c.ID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	c.messages = append(c.messages, msg)
	c.updatedAt = now
	return msg, nil
}

// Messages returns a copy of all messages in insertion order.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// LatestMessages returns the last limit messages in chronological order.
// A limit <= 0, or one larger than the history, returns every message.
func (c *Conversation) LatestMessages(limit int) []Message {
	start := 0
	if limit > 0 && limit < len(c.messages) {
		start = len(c.messages) - limit
	}
	out := make([]Message, len(c.messages)-start)
	copy(out, c.messages[start:])
	return out
}

// LastMessage returns the most recent message, if any.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Message looks up a message by id.
func (c *Conversation) Message(id MessageID) (Message, bool) {
	for _, m := range c.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Archive marks the conversation archived. It returns true only when the
// conversation transitions from unarchived to archived; archiving an already
// archived conversation changes nothing.
func (c *Conversation) Archive() bool {
	if c.archived {
		return false
	}
	c.archived = true
	c.updatedAt = c.clock()
	return true
}

// Archived reports whether the conversation has been archived.
func (c *Conversation) Archived() bool { return c.archived }

// Touch sets UpdatedAt to the current time.
func (c *Conversation) Touch() {
	c.updatedAt = c.clock()
}

// UpdatedAt is the time of the last mutation.
func (c *Conversation) UpdatedAt() time.Time { return c.updatedAt }

// Version is the persisted version this state derives from. Zero means the
// conversation has never been saved.
func (c *Conversation) Version() int64 { return c.version }

// Uncommitted returns messages appended since the conversation was loaded or
// last committed, in order, along with the position of the first one.
func (c *Conversation) Uncommitted() (start int, msgs []Message) {
	pending := c.messages[c.committed:]
	out := make([]Message, len(pending))
	copy(out, pending)
	return c.committed, out
}

// MarkCommitted records a successful save at the given version.
func (c *Conversation) MarkCommitted(version int64) {
	c.version = version
	c.committed = len(c.messages)
}
