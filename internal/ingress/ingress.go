// ABOUTME: Ingress helper that records user input and announces it on the bus.
// ABOUTME: Publishes only after the conversation service accepted the write.

// Package ingress is the write path used by front ends: it stores a message
// through the conversation service and then publishes the matching event.
package ingress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/fluxmind/internal/bus"
	"github.com/2389/fluxmind/internal/conversation"
	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
)

// Ingress couples the conversation service with a publisher.
type Ingress struct {
	svc    *conversation.Service
	pub    bus.Publisher
	topic  string
	source string
	logger *slog.Logger
}

// New creates an Ingress. source is recorded as event metadata.
func New(svc *conversation.Service, pub bus.Publisher, topic, source string, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		svc:    svc,
		pub:    pub,
		topic:  topic,
		source: source,
		logger: logger.With("component", "ingress"),
	}
}

// StartConversation creates a conversation. When initial is non-empty it is
// stored as the first USER message and announced.
func (i *Ingress) StartConversation(ctx context.Context, initial string) (*domain.Conversation, error) {
	c, err := i.svc.CreateConversation(ctx, initial)
	if err != nil {
		return nil, err
	}
	if initial == "" {
		return c, nil
	}
	first, _ := c.LastMessage()
	if err := i.announce(ctx, c.ID, first); err != nil {
		return nil, err
	}
	return c, nil
}

// PostMessage appends a USER message and announces it. A missing
// conversation returns domain.ErrNotFound and publishes nothing.
func (i *Ingress) PostMessage(ctx context.Context, id domain.ConversationID, content string) (domain.Message, error) {
	msg, err := i.svc.AddMessage(ctx, id, domain.RoleUser, content)
	if err != nil {
		return domain.Message{}, err
	}
	if err := i.announce(ctx, id, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// FlagMessage publishes MessageFlagged for an existing message.
func (i *Ingress) FlagMessage(ctx context.Context, id domain.ConversationID, msgID domain.MessageID, reason string) error {
	c, err := i.svc.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := c.Message(msgID); !ok {
		return fmt.Errorf("message %s in conversation %s: %w", msgID, id, domain.ErrNotFound)
	}

	ev := events.NewMessageFlagged(id, msgID, reason, events.WithMetadata("source", i.source))
	if err := i.pub.Publish(ctx, i.topic, ev, events.PartitionKey(ev)); err != nil {
		return fmt.Errorf("publishing flag: %w", err)
	}
	i.logger.Info("message flagged", "conversation_id", id, "message_id", msgID)
	return nil
}

func (i *Ingress) announce(ctx context.Context, id domain.ConversationID, msg domain.Message) error {
	ev := events.NewMessageReceived(id, msg.ID, msg.Role, msg.Content, events.WithMetadata("source", i.source))
	if err := i.pub.Publish(ctx, i.topic, ev, events.PartitionKey(ev)); err != nil {
		return fmt.Errorf("publishing received message: %w", err)
	}
	i.logger.Debug("message announced", "conversation_id", id, "message_id", msg.ID)
	return nil
}
