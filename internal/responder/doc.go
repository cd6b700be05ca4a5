// Package responder consumes conversation events and reacts to them.
//
// # Overview
//
// For every [events.MessageReceived] the loop loads the conversation, sends
// its recent history to a [generation.Generator] under a timeout, appends the
// reply as an ASSISTANT message and publishes [events.AssistantResponded]
// keyed by the conversation id. Every [events.AssistantResponded] is handed to
// the analytics projector.
//
// # Failure handling
//
// Each delivery is processed on its own. A failure (including a panic) is
// logged, the delivery is nacked so the bus redelivers it, and the loop moves
// on to the next delivery. Generation is never retried inside the loop; an
// append that loses a version race is retried against a fresh load without
// calling the generator again.
//
// A delivery is acked only after the reply is stored and its
// AssistantResponded is published, so a crash in between produces a second
// reply on redelivery rather than a missing one.
package responder
