// ABOUTME: Interactive terminal conversation that drives the ingress path
// ABOUTME: Waits for the matching AssistantResponded event on a private consumer group

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/fluxmind/internal/bus"
	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
	"github.com/2389/fluxmind/internal/ingress"
)

const replyGrace = 10 * time.Second

type chatSession struct {
	app     *app
	ingress *ingress.Ingress
	replies <-chan events.AssistantResponded
	out     io.Writer

	conv          *domain.Conversation
	lastAssistant domain.MessageID
}

func runChat(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Logging.Level != "debug" {
		cfg.Logging.Level = "warn"
	}
	logger := setupLogger(cfg.Logging)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// With the memory bus nobody else can answer, so run a responder in-process.
	if a.memory != nil {
		loop, err := a.responder(ctx)
		if err != nil {
			return err
		}
		go func() { _ = loop.Run(ctx) }()
	}

	sub, err := a.subscriber("chat-"+uuid.NewString()).Subscribe(ctx, cfg.Bus.Topic)
	if err != nil {
		return fmt.Errorf("subscribing to replies: %w", err)
	}
	defer sub.Close()

	s := &chatSession{
		app:     a,
		ingress: a.ingress("chat"),
		replies: watchReplies(ctx, sub),
		out:     os.Stdout,
	}

	if len(args) > 0 {
		if err := s.resume(ctx, args[0]); err != nil {
			return err
		}
	}

	color.New(color.FgCyan).Fprintln(s.out, "fluxmind chat. Commands: /id, /history, /flag <reason>, /quit")
	return s.loop(ctx, readLines(os.Stdin))
}

// watchReplies forwards AssistantResponded events and acks everything it sees.
func watchReplies(ctx context.Context, sub bus.Subscription) <-chan events.AssistantResponded {
	ch := make(chan events.AssistantResponded, 16)
	go func() {
		defer close(ch)
		for {
			d, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if ev, ok := d.Event.(events.AssistantResponded); ok {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			_ = d.Ack(ctx)
		}
	}()
	return ch
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

func (s *chatSession) resume(ctx context.Context, raw string) error {
	id, err := domain.ParseConversationID(raw)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	conv, err := s.app.convs.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	s.conv = conv
	s.printHistory()
	return nil
}

func (s *chatSession) loop(ctx context.Context, lines <-chan string) error {
	prompt := color.New(color.FgGreen, color.Bold)
	for {
		prompt.Fprint(s.out, "you> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				color.New(color.FgRed).Fprintf(s.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := s.send(ctx, line); err != nil {
			color.New(color.FgRed).Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *chatSession) command(ctx context.Context, line string) (quit bool, err error) {
	name, rest, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/id":
		if s.conv == nil {
			fmt.Fprintln(s.out, "no conversation yet")
			return false, nil
		}
		fmt.Fprintln(s.out, s.conv.ID)
	case "/history":
		if s.conv == nil {
			fmt.Fprintln(s.out, "no conversation yet")
			return false, nil
		}
		conv, err := s.app.convs.GetConversation(ctx, s.conv.ID)
		if err != nil {
			return false, err
		}
		s.conv = conv
		s.printHistory()
	case "/flag":
		if s.conv == nil || s.lastAssistant.IsZero() {
			return false, errors.New("nothing to flag yet")
		}
		reason := strings.TrimSpace(rest)
		if reason == "" {
			return false, errors.New("usage: /flag <reason>")
		}
		if err := s.ingress.FlagMessage(ctx, s.conv.ID, s.lastAssistant, reason); err != nil {
			return false, err
		}
		color.New(color.FgYellow).Fprintln(s.out, "flagged")
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

func (s *chatSession) send(ctx context.Context, text string) error {
	var userMsg domain.MessageID
	if s.conv == nil {
		conv, err := s.ingress.StartConversation(ctx, text)
		if err != nil {
			return err
		}
		s.conv = conv
		first, ok := conv.LastMessage()
		if !ok {
			return errors.New("conversation was created without the message")
		}
		userMsg = first.ID
		color.New(color.FgHiBlack).Fprintf(s.out, "conversation %s\n", conv.ID)
	} else {
		msg, err := s.ingress.PostMessage(ctx, s.conv.ID, text)
		if err != nil {
			return err
		}
		userMsg = msg.ID
	}

	reply, err := s.awaitReply(ctx, userMsg)
	if err != nil {
		return err
	}
	s.lastAssistant = reply.AssistantMessageID
	color.New(color.FgCyan).Fprint(s.out, "assistant> ")
	fmt.Fprintln(s.out, reply.Content)
	return nil
}

func (s *chatSession) awaitReply(ctx context.Context, userMsg domain.MessageID) (events.AssistantResponded, error) {
	timeout := time.NewTimer(s.app.cfg.Generation.Timeout + replyGrace)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return events.AssistantResponded{}, ctx.Err()
		case <-timeout.C:
			return events.AssistantResponded{}, errors.New("timed out waiting for a reply")
		case ev, ok := <-s.replies:
			if !ok {
				return events.AssistantResponded{}, bus.ErrClosed
			}
			if ev.UserMessageID == userMsg {
				return ev, nil
			}
		}
	}
}

func (s *chatSession) printHistory() {
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(s.out, "conversation %s (%d messages)\n", s.conv.ID, s.conv.Len())
	for _, m := range s.conv.Messages() {
		fmt.Fprintf(s.out, "%s> %s\n", m.Role, m.Content)
		if m.Role == domain.RoleAssistant {
			s.lastAssistant = m.ID
		}
	}
}
