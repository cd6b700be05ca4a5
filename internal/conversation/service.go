// ABOUTME: Conversation Service: the single entry point for conversation mutations.
// ABOUTME: Load, mutate, save; conflicts and missing conversations surface as typed errors.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fluxmind/internal/domain"
)

// Service coordinates conversation reads and writes over a Repository.
type Service struct {
	repo   Repository
	clock  domain.Clock
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for new conversations and messages.
func WithClock(clock domain.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// New creates a Service. Pass nil logger for default.
func New(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:   repo,
		clock:  domain.SystemClock,
		logger: logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation creates and persists a conversation. A non-empty
// initial message is appended as a USER message.
func (s *Service) CreateConversation(ctx context.Context, initial string) (*domain.Conversation, error) {
	c := domain.NewConversation(s.clock)
	if initial != "" {
		if _, err := c.AddMessage(domain.RoleUser, initial); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("saving new conversation: %w", err)
	}

	s.logger.Debug("conversation created",
		"conversation_id", c.ID,
		"messages", c.Len())
	return c, nil
}

// GetConversation loads a conversation.
func (s *Service) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListMessages returns the last limit messages of a conversation in
// chronological order. A limit <= 0 returns all messages.
func (s *Service) ListMessages(ctx context.Context, id domain.ConversationID, limit int) ([]domain.Message, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.LatestMessages(limit), nil
}

// AddMessage appends a message to an existing conversation.
func (s *Service) AddMessage(ctx context.Context, id domain.ConversationID, role domain.Role, content string) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	c, err := s.load(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}

	msg, err := c.AddMessage(role, content)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return domain.Message{}, fmt.Errorf("saving conversation %s: %w", id, err)
	}

	s.logger.Debug("message added",
		"conversation_id", id,
		"message_id", msg.ID,
		"role", role)
	return msg, nil
}

// ArchiveConversation archives a conversation. Archiving an already
// archived conversation succeeds without changing it.
func (s *Service) ArchiveConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	c, _, err := s.ArchiveIfActive(ctx, id)
	return c, err
}

// ArchiveIfActive archives a conversation and reports whether this call
// performed the transition. Nothing is written when it was already archived.
func (s *Service) ArchiveIfActive(ctx context.Context, id domain.ConversationID) (*domain.Conversation, bool, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !c.Archive() {
		return c, false, nil
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, false, fmt.Errorf("saving conversation %s: %w", id, err)
	}

	s.logger.Info("conversation archived", "conversation_id", id)
	return c, true, nil
}

// ArchiveStale archives c exactly as it was listed. Saving goes through the
// version check, so a conversation written to after it was read fails with
// domain.ErrConflict instead of being archived.
func (s *Service) ArchiveStale(ctx context.Context, c *domain.Conversation) (bool, error) {
	c.UseClock(s.clock)
	if !c.Archive() {
		return false, nil
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return false, fmt.Errorf("saving conversation %s: %w", c.ID, err)
	}

	s.logger.Info("conversation archived", "conversation_id", c.ID)
	return true, nil
}

// ListStaleUnarchived returns up to limit unarchived conversations last
// updated before olderThan, oldest first.
func (s *Service) ListStaleUnarchived(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Conversation, error) {
	convs, err := s.repo.ListOldUnarchived(ctx, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale conversations: %w", err)
	}
	for _, c := range convs {
		c.UseClock(s.clock)
	}
	return convs, nil
}

func (s *Service) load(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	c.UseClock(s.clock)
	return c, nil
}
