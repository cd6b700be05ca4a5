// ABOUTME: Analytics projector folding AssistantResponded events into per-conversation counters.
// ABOUTME: Redelivered events are skipped by a durable processed-event record, fronted by a dedupe window.

// Package analytics maintains the conversation analytics read model.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
)

// Counter is the storage the projector writes to.
type Counter interface {
	IncrementAssistantMessages(ctx context.Context, id domain.ConversationID, at time.Time) error
}

// OnceCounter applies an event's increment at most once per event id and
// remembers the id durably alongside the counter.
type OnceCounter interface {
	IncrementAssistantMessagesOnce(ctx context.Context, eventID uuid.UUID, id domain.ConversationID, at time.Time) (applied bool, err error)
}

// Deduper remembers processed event ids.
type Deduper interface {
	Observe(id uuid.UUID) (duplicate bool)
	Forget(id uuid.UUID)
}

// Projector applies AssistantResponded events to a Counter.
//
// Without options every delivery is applied, so a redelivered event is
// counted again. WithOnceCounter makes the fold idempotent across restarts;
// WithDeduper adds an in-memory window in front that skips recent ids
// without touching storage.
type Projector struct {
	counter Counter
	once    OnceCounter
	dedupe  Deduper
	logger  *slog.Logger
}

// Option configures a Projector.
type Option func(*Projector)

// WithDeduper skips events whose id the deduper has already observed.
func WithDeduper(d Deduper) Option {
	return func(p *Projector) { p.dedupe = d }
}

// WithOnceCounter routes increments through c so each event id is applied once.
func WithOnceCounter(c OnceCounter) Option {
	return func(p *Projector) { p.once = c }
}

// NewProjector creates a projector. Pass nil logger for default.
func NewProjector(counter Counter, logger *slog.Logger, opts ...Option) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projector{
		counter: counter,
		logger:  logger.With("component", "analytics"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project increments the assistant reply count and records the event time as
// the latest activity.
func (p *Projector) Project(ctx context.Context, ev events.AssistantResponded) error {
	id := ev.Meta().ID
	if p.dedupe != nil && p.dedupe.Observe(id) {
		p.logger.Debug("skipping duplicate event",
			"event_id", id,
			"conversation_id", ev.ConversationID)
		return nil
	}

	applied, err := p.increment(ctx, ev)
	if err != nil {
		if p.dedupe != nil {
			p.dedupe.Forget(id)
		}
		return fmt.Errorf("projecting %s: %w", id, err)
	}
	if !applied {
		p.logger.Debug("event already projected",
			"event_id", id,
			"conversation_id", ev.ConversationID)
		return nil
	}

	p.logger.Debug("projected assistant reply",
		"event_id", id,
		"conversation_id", ev.ConversationID)
	return nil
}

func (p *Projector) increment(ctx context.Context, ev events.AssistantResponded) (bool, error) {
	if p.once != nil {
		return p.once.IncrementAssistantMessagesOnce(ctx, ev.Meta().ID, ev.ConversationID, ev.OccurredAt)
	}
	return true, p.counter.IncrementAssistantMessages(ctx, ev.ConversationID, ev.OccurredAt)
}
