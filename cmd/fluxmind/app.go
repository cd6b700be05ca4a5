// ABOUTME: Composition root that builds the store, bus, generator, and consumers from config
// ABOUTME: Every long-lived dependency is constructed here once and passed down explicitly

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/fluxmind/internal/analytics"
	"github.com/2389/fluxmind/internal/archiver"
	"github.com/2389/fluxmind/internal/bus"
	"github.com/2389/fluxmind/internal/config"
	"github.com/2389/fluxmind/internal/conversation"
	"github.com/2389/fluxmind/internal/dedupe"
	"github.com/2389/fluxmind/internal/events"
	"github.com/2389/fluxmind/internal/generation"
	"github.com/2389/fluxmind/internal/ingress"
	"github.com/2389/fluxmind/internal/responder"
	"github.com/2389/fluxmind/internal/store"
)

// app holds the process-wide dependencies.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	convs    *conversation.Service
	registry *events.Registry
	pub      bus.Publisher

	// memory is set when bus.driver is memory; publisher and subscribers
	// then share one in-process log.
	memory *bus.MemoryBus
	// kafka is set when bus.driver is kafka.
	kafka *bus.KafkaPublisher

	closers []func() error
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		convs:    conversation.New(st, logger),
		registry: events.DefaultRegistry(),
		closers:  []func() error{st.Close},
	}

	switch cfg.Bus.Driver {
	case "kafka":
		kp := bus.NewKafkaPublisher(cfg.Bus.Brokers, logger)
		a.pub = kp
		a.kafka = kp
		a.closers = append(a.closers, kp.Close)
	default:
		mb := bus.NewMemoryBus(bus.MemoryOptions{
			Partitions:      cfg.Bus.Partitions,
			RedeliveryDelay: cfg.Bus.RedeliveryDelay,
			MaxRedeliveries: cfg.Bus.MaxRedeliveries,
		}, logger)
		a.pub = mb
		a.memory = mb
		a.closers = append(a.closers, mb.Close)
	}

	return a, nil
}

// Close releases resources in reverse construction order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkBus fails when the configured bus cannot be reached.
func (a *app) checkBus(ctx context.Context) error {
	if a.kafka == nil {
		return nil
	}
	if err := a.kafka.Ping(ctx, a.cfg.Bus.Topic); err != nil {
		return fmt.Errorf("checking bus: %w", err)
	}
	return nil
}

// subscriber returns a consumer-group subscriber on the configured bus.
func (a *app) subscriber(group string) bus.Subscriber {
	skip := bus.WithSkipFunc(a.logSkip)
	if a.memory != nil {
		return a.memory.Group(group, a.registry, skip)
	}
	return bus.NewKafkaSubscriber(a.cfg.Bus.Brokers, group, a.registry, a.logger,
		skip, bus.WithMaxRedeliveries(a.cfg.Bus.MaxRedeliveries))
}

// logSkip makes dropped payloads visible at the boundary.
func (a *app) logSkip(topic string, kind events.Kind, err error) {
	a.logger.Warn("skipped undeliverable event",
		"topic", topic,
		"event_type", kind,
		"error", err,
	)
}

func (a *app) generator(ctx context.Context) (generation.Generator, error) {
	g := a.cfg.Generation
	switch g.Provider {
	case "gemini":
		gem, err := generation.NewGemini(ctx, g.GeminiProject, g.GeminiLocation, a.logger)
		if err != nil {
			return nil, fmt.Errorf("creating gemini generator: %w", err)
		}
		return gem, nil
	case "echo":
		return generation.Echo{}, nil
	default:
		return generation.NewOllama(g.BaseURL, g.Timeout, a.logger), nil
	}
}

func (a *app) projector() *analytics.Projector {
	var opts []analytics.Option
	if a.cfg.Analytics.DedupeEnabled() {
		opts = append(opts, analytics.WithOnceCounter(a.store))
		w := dedupe.NewWindow(a.cfg.Analytics.DedupeWindow, a.cfg.Analytics.DedupeCapacity)
		a.closers = append(a.closers, func() error {
			w.Close()
			return nil
		})
		opts = append(opts, analytics.WithDeduper(w))
	}
	return analytics.NewProjector(a.store, a.logger, opts...)
}

func (a *app) responder(ctx context.Context) (*responder.Loop, error) {
	gen, err := a.generator(ctx)
	if err != nil {
		return nil, err
	}
	return responder.New(a.subscriber(a.cfg.Bus.GroupID), a.pub, a.convs, gen, a.projector(), responder.Config{
		Topic:             a.cfg.Bus.Topic,
		Model:             a.cfg.Generation.Model,
		HistoryLimit:      a.cfg.Generation.HistoryLimit,
		GenerationTimeout: a.cfg.Generation.Timeout,
		AppendRetries:     a.cfg.Responder.AppendRetries,
	}, a.logger), nil
}

func (a *app) sweeper() *archiver.Sweeper {
	return archiver.New(a.convs, a.pub, archiver.Config{
		Topic:     a.cfg.Bus.Topic,
		Interval:  a.cfg.Archiver.Interval,
		Retention: a.cfg.Archiver.Retention,
		BatchSize: a.cfg.Archiver.BatchSize,
	}, a.logger)
}

func (a *app) ingress(source string) *ingress.Ingress {
	return ingress.New(a.convs, a.pub, a.cfg.Bus.Topic, source, a.logger)
}
