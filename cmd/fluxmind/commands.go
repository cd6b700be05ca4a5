// ABOUTME: Long-running subcommands (serve, responder, archiver) and the stats query
// ABOUTME: Runs consumers under an errgroup next to the optional gRPC health endpoint

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/health"
	"github.com/2389/fluxmind/internal/store"
)

const (
	componentResponder = "responder"
	componentArchiver  = "archiver"
)

func runServe(ctx context.Context) error {
	return runComponents(ctx, componentResponder, componentArchiver)
}

func runResponder(ctx context.Context) error {
	return runComponents(ctx, componentResponder)
}

func runArchiver(ctx context.Context) error {
	return runComponents(ctx, componentArchiver)
}

// runComponents starts the named consumers and blocks until ctx is cancelled
// or one of them fails.
func runComponents(ctx context.Context, components ...string) error {
	printBanner()

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	printSetting("Config", configPath)
	printSetting("Database", cfg.Database.Path)
	printSetting("Bus", cfg.Bus.Driver+" / "+cfg.Bus.Topic)
	printSetting("Generator", cfg.Generation.Provider+" / "+cfg.Generation.Model)
	if cfg.Health.GRPCAddr != "" {
		printSetting("Health", cfg.Health.GRPCAddr)
	}
	fmt.Println()

	if cfg.Bus.Driver == "memory" && len(components) == 1 {
		color.New(color.FgYellow).Println("    ! memory bus is process-local; run `fluxmind serve` or switch bus.driver to kafka")
		fmt.Println()
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing resources", "error", err)
		}
	}()

	if err := a.checkBus(ctx); err != nil {
		return err
	}

	runners := make(map[string]func(context.Context) error, len(components))
	for _, name := range components {
		switch name {
		case componentResponder:
			loop, err := a.responder(ctx)
			if err != nil {
				return err
			}
			runners[name] = loop.Run
		case componentArchiver:
			runners[name] = a.sweeper().Run
		}
	}

	var hs *health.Server
	if cfg.Health.GRPCAddr != "" {
		hs, err = health.Listen(cfg.Health.GRPCAddr, logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if hs != nil {
		g.Go(func() error { return hs.Run(gctx) })
	}
	for name, run := range runners {
		g.Go(func() error {
			defer markStopped(hs, name)
			return run(gctx)
		})
		if hs != nil {
			hs.SetServing(name)
		}
	}

	logger.Info("fluxmind started", "components", components, "config", configPath)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("fluxmind stopped")
	return nil
}

func markStopped(hs *health.Server, component string) {
	if hs != nil {
		hs.SetNotServing(component)
	}
}

func runStats(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: fluxmind stats <conversation-id>")
	}
	id, err := domain.ParseConversationID(args[0])
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Logging.Level = "warn"
	logger := setupLogger(cfg.Logging)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.convs.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)

	bold.Printf("Conversation %s\n", conv.ID)
	fmt.Printf("  messages:   %d\n", conv.Len())
	fmt.Printf("  archived:   %s\n", strconv.FormatBool(conv.Archived()))
	fmt.Printf("  created:    %s\n", conv.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  updated:    %s\n", conv.UpdatedAt().Format(time.RFC3339))

	stats, err := a.store.GetConversationStats(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		gray.Println("  no assistant replies recorded")
		return nil
	case err != nil:
		return err
	}
	fmt.Printf("  replies:    %d\n", stats.AssistantMessages)
	fmt.Printf("  last reply: %s\n", stats.LastMessageAt.Format(time.RFC3339))
	return nil
}
