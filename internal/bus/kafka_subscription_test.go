// ABOUTME: Unit tests for the Kafka subscription over in-memory reader and writer fakes.
// ABOUTME: Covers ack commits, nack republishing with attempt headers, the redelivery cap, and broker checks.

package bus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fluxmind/internal/domain"
	"github.com/2389/fluxmind/internal/events"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

// fakeWriter loops written messages back into reader, like a broker would.
type fakeWriter struct {
	reader  *fakeReader
	written []kafka.Message
	err     error
	offset  int64
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	for _, m := range msgs {
		w.offset++
		m.Offset = 100 + w.offset
		w.written = append(w.written, m)
		w.reader.mu.Lock()
		w.reader.queue = append(w.reader.queue, m)
		w.reader.mu.Unlock()
	}
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newFakeSubscription(t *testing.T, maxRedeliveries int, msgs ...kafka.Message) (*kafkaSubscription, *fakeReader, *fakeWriter) {
	t.Helper()
	r := &fakeReader{queue: msgs}
	w := &fakeWriter{reader: r}
	sub := NewKafkaSubscriber([]string{"unused:9092"}, "test-group", events.DefaultRegistry(), nil,
		WithMaxRedeliveries(maxRedeliveries))
	return &kafkaSubscription{sub: sub, reader: r, writer: w, topic: "conversation-events"}, r, w
}

func encodedMessage(t *testing.T, offset int64) (kafka.Message, events.Event) {
	t.Helper()
	conv := domain.NewConversationID()
	ev := events.NewMessageReceived(conv, domain.NewMessageID(), domain.RoleUser, "hello")
	payload, err := events.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{
		Topic:     "conversation-events",
		Partition: 3,
		Offset:    offset,
		Key:       []byte(conv.String()),
		Value:     payload,
		Headers:   []kafka.Header{{Key: headerEventType, Value: []byte(ev.Kind())}},
	}, ev
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaAckCommits(t *testing.T) {
	ctx := context.Background()
	msg, ev := encodedMessage(t, 7)
	s, r, w := newFakeSubscription(t, 5, msg)

	d, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, ev.Meta().ID, d.Event.Meta().ID)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, 3, d.Partition)
	assert.Equal(t, int64(7), d.Offset)

	require.NoError(t, d.Ack(ctx))
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(7), r.committed[0].Offset)
	assert.Empty(t, w.written)
}

func TestKafkaNackRedeliversWithAttempt(t *testing.T) {
	ctx := context.Background()
	msg, ev := encodedMessage(t, 7)
	s, r, w := newFakeSubscription(t, 5, msg)

	d, err := s.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(ctx))

	require.Len(t, w.written, 1)
	retry := w.written[0]
	assert.Equal(t, msg.Topic, retry.Topic)
	assert.Equal(t, msg.Key, retry.Key)
	assert.Equal(t, msg.Value, retry.Value)
	assert.Equal(t, "2", headerValue(retry, headerAttempt))
	assert.Equal(t, string(ev.Kind()), headerValue(retry, headerEventType))

	require.Len(t, r.committed, 1, "the original offset is committed once the copy is written")
	assert.Equal(t, int64(7), r.committed[0].Offset)

	again, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, ev.Meta().ID, again.Event.Meta().ID)
	assert.Equal(t, 2, again.Attempt)
	require.NoError(t, again.Ack(ctx))
}

func TestKafkaNackDropsAfterMaxRedeliveries(t *testing.T) {
	ctx := context.Background()
	msg, _ := encodedMessage(t, 7)
	s, r, w := newFakeSubscription(t, 2, msg)

	var attempts []int
	for {
		d, err := s.Next(ctx)
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)
		attempts = append(attempts, d.Attempt)
		require.NoError(t, d.Nack(ctx))
	}

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Len(t, w.written, 2)
	assert.Len(t, r.committed, 3)
}

func TestKafkaNackWriteFailureLeavesOffsetUncommitted(t *testing.T) {
	ctx := context.Background()
	msg, _ := encodedMessage(t, 7)
	s, r, w := newFakeSubscription(t, 5, msg)
	w.err = errors.New("broker unavailable")

	d, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Error(t, d.Nack(ctx))
	assert.Empty(t, r.committed)
}

func TestKafkaSkipsUndecodablePayload(t *testing.T) {
	ctx := context.Background()
	good, ev := encodedMessage(t, 8)
	bad := kafka.Message{Topic: "conversation-events", Offset: 7, Value: []byte(`{"type":"Nope"}`)}
	s, r, _ := newFakeSubscription(t, 5, bad, good)

	var skipped []events.Kind
	s.sub.opts.onSkip = func(topic string, kind events.Kind, err error) {
		skipped = append(skipped, kind)
	}

	d, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, ev.Meta().ID, d.Event.Meta().ID)
	require.Len(t, skipped, 1)
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(7), r.committed[0].Offset)
}

func TestKafkaSubscribeFailsWithoutBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := NewKafkaSubscriber([]string{"127.0.0.1:1"}, "test-group", events.DefaultRegistry(), nil)
	_, err := sub.Subscribe(ctx, "conversation-events")
	assert.Error(t, err)

	pub := NewKafkaPublisher([]string{"127.0.0.1:1"}, nil)
	defer pub.Close()
	assert.Error(t, pub.Ping(ctx, "conversation-events"))
}

func TestAttemptOf(t *testing.T) {
	assert.Equal(t, 1, attemptOf(kafka.Message{}))
	assert.Equal(t, 4, attemptOf(kafka.Message{Headers: []kafka.Header{{Key: headerAttempt, Value: []byte("4")}}}))
	assert.Equal(t, 1, attemptOf(kafka.Message{Headers: []kafka.Header{{Key: headerAttempt, Value: []byte("junk")}}}))

	h := withAttempt([]kafka.Header{{Key: headerAttempt, Value: []byte("2")}, {Key: "x", Value: []byte("y")}}, 3)
	assert.Equal(t, "3", headerValue(kafka.Message{Headers: h}, headerAttempt))
	assert.Len(t, h, 2)
}
