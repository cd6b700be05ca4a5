// ABOUTME: Responder loop: subscribe, dispatch per variant, ack or nack each delivery.
// ABOUTME: Isolates failures per event and stops cleanly when its context ends.

package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/fluxmind/internal/bus"
	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
	"github.com/2389/fluxmind/internal/generation"
)

const (
	defaultGenerationTimeout = 60 * time.Second
	defaultAppendRetries     = 3
	appendBackoff            = 50 * time.Millisecond
	receiveBackoff           = time.Second
)

// Conversations is what the loop needs from the conversation service.
type Conversations interface {
	GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	AddMessage(ctx context.Context, id domain.ConversationID, role domain.Role, content string) (domain.Message, error)
}

// Projector receives AssistantResponded events.
type Projector interface {
	Project(ctx context.Context, ev events.AssistantResponded) error
}

// Config tunes the loop.
type Config struct {
	Topic string
	Model string
	// HistoryLimit caps the messages sent to the generator. Zero sends all.
	HistoryLimit int
	// GenerationTimeout bounds each generator call. Defaults to 60s.
	GenerationTimeout time.Duration
	// AppendRetries is how many times a conflicting append is retried.
	// Defaults to 3; negative disables retries.
	AppendRetries int
}

// Loop is the responder consumer.
type Loop struct {
	sub       bus.Subscriber
	pub       bus.Publisher
	convs     Conversations
	gen       generation.Generator
	projector Projector
	cfg       Config
	logger    *slog.Logger
}

// New creates a responder loop. projector may be nil. Pass nil logger for default.
func New(sub bus.Subscriber, pub bus.Publisher, convs Conversations, gen generation.Generator, projector Projector, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.AppendRetries == 0 {
		cfg.AppendRetries = defaultAppendRetries
	} else if cfg.AppendRetries < 0 {
		cfg.AppendRetries = 0
	}
	return &Loop{
		sub:       sub,
		pub:       pub,
		convs:     convs,
		gen:       gen,
		projector: projector,
		cfg:       cfg,
		logger:    logger.With("component", "responder"),
	}
}

// Run consumes events until ctx is cancelled or the subscription closes.
// The in-flight event, if any, is abandoned unacknowledged on shutdown.
func (l *Loop) Run(ctx context.Context) error {
	sub, err := l.sub.Subscribe(ctx, l.cfg.Topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.cfg.Topic, err)
	}
	defer func() { _ = sub.Close() }()

	l.logger.Info("responder started", "topic", l.cfg.Topic, "model", l.cfg.Model)
	for {
		d, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
				l.logger.Info("responder stopped")
				return nil
			}
			l.logger.Error("receiving event", "error", err)
			select {
			case <-ctx.Done():
				l.logger.Info("responder stopped")
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}
		l.process(ctx, d)
	}
}

// process handles one delivery and settles it.
func (l *Loop) process(ctx context.Context, d *bus.Delivery) {
	ev := d.Event
	logger := l.logger.With(
		"event_id", ev.Meta().ID,
		"kind", ev.Kind(),
		"conversation_id", ev.Conversation(),
		"attempt", d.Attempt,
	)

	err := l.dispatch(ctx, ev)

	// Settle even when ctx was cancelled mid-event
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("event processing failed", "error", err)
		if nerr := d.Nack(settleCtx); nerr != nil {
			logger.Warn("nack failed", "error", nerr)
		}
		return
	}
	if aerr := d.Ack(settleCtx); aerr != nil {
		logger.Warn("ack failed", "error", aerr)
		return
	}
	logger.Debug("event processed")
}

func (l *Loop) dispatch(ctx context.Context, ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Kind(), r)
		}
	}()
	return events.Dispatch(ctx, l, ev)
}

// HandleMessageReceived generates and records an assistant reply.
func (l *Loop) HandleMessageReceived(ctx context.Context, ev events.MessageReceived) error {
	conv, err := l.convs.GetConversation(ctx, ev.ConversationID)
	if errors.Is(err, domain.ErrNotFound) {
		l.logger.Warn("conversation for received message does not exist",
			"conversation_id", ev.ConversationID,
			"message_id", ev.MessageID)
		return nil
	}
	if err != nil {
		return err
	}

	reply, err := l.generate(ctx, conv)
	if err != nil {
		return err
	}

	msg, err := l.appendReply(ctx, conv.ID, reply)
	if err != nil {
		return err
	}

	out := events.NewAssistantResponded(conv.ID, ev.MessageID, msg.ID, msg.Content,
		events.WithMetadata("causation_id", ev.Meta().ID.String()),
		events.WithMetadata("model", l.cfg.Model))
	if err := l.pub.Publish(ctx, l.cfg.Topic, out, events.PartitionKey(out)); err != nil {
		return fmt.Errorf("publishing assistant response: %w", err)
	}

	l.logger.Info("assistant responded",
		"conversation_id", conv.ID,
		"user_message_id", ev.MessageID,
		"assistant_message_id", msg.ID)
	return nil
}

func (l *Loop) generate(ctx context.Context, conv *domain.Conversation) (string, error) {
	history := generation.TurnsFromMessages(conv.LatestMessages(l.cfg.HistoryLimit))

	genCtx, cancel := context.WithTimeout(ctx, l.cfg.GenerationTimeout)
	defer cancel()

	reply, err := l.gen.Generate(genCtx, history, l.cfg.Model)
	if err != nil {
		if !errors.Is(err, generation.ErrGeneration) {
			err = fmt.Errorf("%w: %w", generation.ErrGeneration, err)
		}
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply", generation.ErrGeneration)
	}
	return reply, nil
}

// appendReply stores the reply, retrying only on version conflicts.
func (l *Loop) appendReply(ctx context.Context, id domain.ConversationID, reply string) (domain.Message, error) {
	backoff := appendBackoff
	for attempt := 0; ; attempt++ {
		msg, err := l.convs.AddMessage(ctx, id, domain.RoleAssistant, reply)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= l.cfg.AppendRetries {
			return domain.Message{}, fmt.Errorf("appending reply: %w", err)
		}

		l.logger.Debug("append conflicted, retrying",
			"conversation_id", id,
			"attempt", attempt+1)
		select {
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// HandleAssistantResponded forwards the event to analytics.
func (l *Loop) HandleAssistantResponded(ctx context.Context, ev events.AssistantResponded) error {
	if l.projector == nil {
		return nil
	}
	return l.projector.Project(ctx, ev)
}

// HandleConversationArchived needs no reaction from the responder.
func (l *Loop) HandleConversationArchived(ctx context.Context, ev events.ConversationArchived) error {
	l.logger.Debug("conversation archived", "conversation_id", ev.ConversationID)
	return nil
}

// HandleMessageFlagged needs no reaction from the responder.
func (l *Loop) HandleMessageFlagged(ctx context.Context, ev events.MessageFlagged) error {
	l.logger.Info("message flagged",
		"conversation_id", ev.ConversationID,
		"message_id", ev.MessageID,
		"reason", ev.Reason)
	return nil
}

var _ events.Handler = (*Loop)(nil)
