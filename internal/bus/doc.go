// Package bus moves [events.Event] values between processes.
//
// # Contract
//
// A [Publisher] appends an event to a topic under a partition key. Events that
// share a key are delivered to a consumer group in publish order. Delivery is
// at least once: a [Delivery] must be acknowledged with [Delivery.Ack] once it
// has been handled, and a delivery that is nacked (or never acked before the
// consumer goes away) is delivered again.
//
// A [Subscription] is a lazy sequence: [Subscription.Next] blocks until the next
// event is available. Payloads whose discriminator the subscriber's registry
// does not know, or that cannot be decoded at all, are acknowledged and never
// surfaced; the optional [SkipFunc] lets the caller log or count them.
//
// # Implementations
//
//   - [MemoryBus]: in-process, for tests and single-process deployments
//   - [KafkaPublisher] / [KafkaSubscriber]: Apache Kafka via segmentio/kafka-go
//
// Kafka offsets are committed cumulatively, so a Kafka nack republishes the
// message with an attempt header and commits the original. Both buses drop a
// message once it exceeds its redelivery limit.
package bus
