// ABOUTME: Periodic sweeper that archives conversations idle past the retention period.
// ABOUTME: Publishes ConversationArchived for each conversation it archives.

// Package archiver retires idle conversations.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fluxmind/internal/bus"
	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
)

const (
	DefaultInterval  = time.Hour
	DefaultRetention = 30 * 24 * time.Hour
	// MaxBatch caps how many conversations a single tick archives.
	MaxBatch = 100
)

// Conversations is what the sweeper needs from the conversation service.
type Conversations interface {
	ListStaleUnarchived(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Conversation, error)
	ArchiveStale(ctx context.Context, c *domain.Conversation) (bool, error)
}

// Config tunes the sweeper.
type Config struct {
	Topic     string
	Interval  time.Duration
	Retention time.Duration
	// BatchSize is clamped to [1, MaxBatch]. Zero means MaxBatch.
	BatchSize int
}

// Sweeper archives stale conversations on a fixed interval.
type Sweeper struct {
	convs  Conversations
	pub    bus.Publisher
	cfg    Config
	now    domain.Clock
	logger *slog.Logger
}

// New creates a sweeper. Pass nil logger for default.
func New(convs Conversations, pub bus.Publisher, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatch {
		cfg.BatchSize = MaxBatch
	}
	return &Sweeper{
		convs:  convs,
		pub:    pub,
		cfg:    cfg,
		now:    domain.SystemClock,
		logger: logger.With("component", "archiver"),
	}
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
// A failed sweep is logged and the next tick proceeds normally.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("archiver started",
		"interval", s.cfg.Interval,
		"retention", s.cfg.Retention,
		"batch_size", s.cfg.BatchSize)

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("archiver shutting down", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.safeSweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("archive sweep failed", "archived", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("archive sweep complete", "archived", n)
	}
}

// safeSweep turns a panic inside a sweep into an error so the loop survives.
func (s *Sweeper) safeSweep(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sweep: %v", r)
		}
	}()
	return s.Sweep(ctx)
}

// Sweep archives one batch of conversations last updated before
// now minus retention and returns how many it archived. A conversation
// written to after it was listed is skipped until the next sweep; any other
// error ends the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	stale, err := s.convs.ListStaleUnarchived(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return archived, err
		}

		changed, err := s.convs.ArchiveStale(ctx, c)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("skipping conversation changed during sweep",
				"conversation_id", c.ID,
				"error", err)
			continue
		}
		if err != nil {
			return archived, fmt.Errorf("archiving %s: %w", c.ID, err)
		}
		if !changed {
			continue
		}

		ev := events.NewConversationArchived(c.ID)
		if err := s.pub.Publish(ctx, s.cfg.Topic, ev, events.PartitionKey(ev)); err != nil {
			return archived, fmt.Errorf("publishing archive of %s: %w", c.ID, err)
		}
		archived++
	}
	return archived, nil
}
