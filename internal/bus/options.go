// ABOUTME: Options shared by subscriber implementations.
// ABOUTME: The skip observer for undeliverable payloads and the Kafka redelivery limit.

package bus

import "github.com/2389/fluxmind/internal/events"

type subscriberOptions struct {
	onSkip          SkipFunc
	maxRedeliveries int
}

// SubscriberOption configures a subscriber.
type SubscriberOption func(*subscriberOptions)

// WithSkipFunc installs an observer for payloads that are skipped because
// they cannot be decoded by the subscriber's registry.
func WithSkipFunc(fn SkipFunc) SubscriberOption {
	return func(o *subscriberOptions) { o.onSkip = fn }
}

// WithMaxRedeliveries caps how many times a nacked message is republished
// before it is dropped. Zero means no limit. The memory bus takes its limit
// from MemoryOptions instead.
func WithMaxRedeliveries(n int) SubscriberOption {
	return func(o *subscriberOptions) { o.maxRedeliveries = n }
}

func buildSubscriberOptions(opts []SubscriberOption) subscriberOptions {
	var o subscriberOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.onSkip == nil {
		o.onSkip = func(string, events.Kind, error) {}
	}
	return o
}

// reportSkip peeks the discriminator of an undecodable payload and hands it
// to the observer.
func (o subscriberOptions) reportSkip(topic string, payload []byte, err error) {
	kind, _ := events.Peek(payload)
	o.onSkip(topic, kind, err)
}
