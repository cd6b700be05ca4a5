// ABOUTME: Apache Kafka publisher and subscriber built on segmentio/kafka-go.
// ABOUTME: Key-hash partitioning, commits as acknowledgements, republish-with-attempt as nack.

package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/2389/fluxmind/internal/events"
)

const (
	// headerEventType carries the discriminator so tooling can route without
	// parsing the payload.
	headerEventType = "event_type"
	// headerAttempt counts deliveries of a republished message, starting at 2.
	headerAttempt = "attempt"

	brokerCheckTimeout = 10 * time.Second
)

// messageReader is the part of *kafka.Reader a subscription uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the part of *kafka.Writer used to republish nacked messages.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// checkBrokers dials the brokers in turn and reads topic metadata from the
// first one that answers. A topic that does not exist yet is fine; writers
// create it on first publish.
func checkBrokers(ctx context.Context, brokers []string, topic string) error {
	ctx, cancel := context.WithTimeout(ctx, brokerCheckTimeout)
	defer cancel()

	var errs []error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		_, err = conn.ReadPartitions(topic)
		_ = conn.Close()
		if err == nil || errors.Is(err, kafka.UnknownTopicOrPartition) {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return errors.New("no kafka brokers configured")
	}
	return fmt.Errorf("connecting to kafka brokers %v: %w", brokers, errors.Join(errs...))
}

// KafkaPublisher publishes events to Kafka topics.
type KafkaPublisher struct {
	brokers []string
	writer  *kafka.Writer
	logger  *slog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers. Messages with
// the same key land on the same partition, and a publish returns only after
// all in-sync replicas have the message.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		brokers: brokers,
		writer:  newWriter(brokers),
		logger:  logger.With("component", "kafka_publisher"),
	}
}

// Ping checks that a broker is reachable and can describe topic.
func (p *KafkaPublisher) Ping(ctx context.Context, topic string) error {
	return checkBrokers(ctx, p.brokers, topic)
}

// Publish writes ev to topic under key.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, ev events.Event, key string) error {
	payload, err := events.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(ev.Kind())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing to kafka topic %s: %w", topic, err)
	}

	p.logger.Debug("event published",
		"topic", topic,
		"kind", ev.Kind(),
		"event_id", ev.Meta().ID)
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber opens group-managed readers.
type KafkaSubscriber struct {
	brokers  []string
	groupID  string
	registry *events.Registry
	opts     subscriberOptions
	logger   *slog.Logger
}

// NewKafkaSubscriber creates a subscriber for a consumer group. New groups
// start from the earliest offset.
func NewKafkaSubscriber(brokers []string, groupID string, registry *events.Registry, logger *slog.Logger, opts ...SubscriberOption) *KafkaSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSubscriber{
		brokers:  brokers,
		groupID:  groupID,
		registry: registry,
		opts:     buildSubscriberOptions(opts),
		logger:   logger.With("component", "kafka_subscriber", "group", groupID),
	}
}

// Subscribe joins the consumer group for topic. It fails if no broker can be
// reached.
func (s *KafkaSubscriber) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkBrokers(ctx, s.brokers, topic); err != nil {
		return nil, err
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		GroupID:     s.groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		StartOffset: kafka.FirstOffset,
	})
	s.logger.Info("kafka subscription opened", "topic", topic)
	return &kafkaSubscription{sub: s, reader: r, writer: newWriter(s.brokers), topic: topic}, nil
}

type kafkaSubscription struct {
	sub    *KafkaSubscriber
	reader messageReader
	writer messageWriter
	topic  string
}

// Next fetches the next message without committing it. Ack commits the
// offset. Nack writes a copy of the message to the same topic and key with
// the attempt header bumped, then commits the original, so the retry is
// delivered after whatever is already queued on that partition. Once a
// message has failed more than the configured number of redeliveries it is
// committed and dropped.
func (k *kafkaSubscription) Next(ctx context.Context) (*Delivery, error) {
	for {
		m, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, err
		}

		ev, err := k.sub.registry.Decode(m.Value)
		if err != nil {
			k.sub.opts.reportSkip(k.topic, m.Value, err)
			if cerr := k.reader.CommitMessages(ctx, m); cerr != nil {
				return nil, fmt.Errorf("committing skipped message: %w", cerr)
			}
			continue
		}

		msg := m
		attempt := attemptOf(msg)
		return &Delivery{
			Event:     ev,
			Topic:     msg.Topic,
			Key:       string(msg.Key),
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Attempt:   attempt,
			ack: func(ctx context.Context) error {
				return k.reader.CommitMessages(ctx, msg)
			},
			nack: func(ctx context.Context) error {
				return k.redeliver(ctx, msg, attempt, ev)
			},
		}, nil
	}
}

func (k *kafkaSubscription) redeliver(ctx context.Context, msg kafka.Message, attempt int, ev events.Event) error {
	limit := k.sub.opts.maxRedeliveries
	if limit > 0 && attempt > limit {
		k.sub.logger.Warn("dropping event after max redeliveries",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempts", attempt,
			"event_id", ev.Meta().ID)
		return k.reader.CommitMessages(ctx, msg)
	}

	retry := kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: withAttempt(msg.Headers, attempt+1),
	}
	if err := k.writer.WriteMessages(ctx, retry); err != nil {
		return fmt.Errorf("republishing nacked message: %w", err)
	}
	if err := k.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("committing nacked message: %w", err)
	}

	k.sub.logger.Debug("delivery nacked; republished",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"next_attempt", attempt+1,
		"event_id", ev.Meta().ID)
	return nil
}

func (k *kafkaSubscription) Close() error {
	return errors.Join(k.reader.Close(), k.writer.Close())
}

// attemptOf reads the attempt header; messages without one are first deliveries.
func attemptOf(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == headerAttempt {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

func withAttempt(headers []kafka.Header, attempt int) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != headerAttempt {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: headerAttempt, Value: []byte(strconv.Itoa(attempt))})
}
