// ABOUTME: Publisher, Subscriber, Subscription and Delivery contracts.
// ABOUTME: Shared by the in-memory and Kafka implementations.

package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/fluxmind/internal/events"
)

// ErrClosed is returned after a bus or subscription has been closed.
var ErrClosed = errors.New("bus closed")

// Publisher appends events to a topic.
type Publisher interface {
	// Publish appends ev to topic under key. A nil return means the event
	// was durably accepted by the substrate.
	Publish(ctx context.Context, topic string, ev events.Event, key string) error
}

// Subscriber opens subscriptions on behalf of a consumer group.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription yields deliveries in per-key order.
type Subscription interface {
	// Next blocks until a delivery is available, ctx is done, or the
	// subscription is closed.
	Next(ctx context.Context) (*Delivery, error)
	Close() error
}

// SkipFunc observes payloads that were dropped without being delivered.
// err wraps events.ErrUnknownKind, events.ErrUnsupportedSchema or
// events.ErrMalformed.
type SkipFunc func(topic string, kind events.Kind, err error)

// Delivery is a single event handed to a consumer.
type Delivery struct {
	Event     events.Event
	Topic     string
	Key       string
	Partition int
	Offset    int64
	// Attempt is 1 on first delivery and increases on redelivery.
	Attempt int

	once sync.Once
	ack  func(context.Context) error
	nack func(context.Context) error
}

// Ack marks the delivery handled. Only the first Ack or Nack has effect.
func (d *Delivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		if d.ack != nil {
			err = d.ack(ctx)
		}
	})
	return err
}

// Nack marks the delivery failed so it will be delivered again.
func (d *Delivery) Nack(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		if d.nack != nil {
			err = d.nack(ctx)
		}
	})
	return err
}
