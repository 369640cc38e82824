package messagepipeline

import (
	"context"
)

// MessageConsumer is a message source (a Pub/Sub subscription in
// production). It fetches messages and hands them to the pipeline.
type MessageConsumer interface {
	// Messages returns the read-only channel pipeline workers receive from.
	Messages() <-chan Message
	// Start begins consumption.
	Start(ctx context.Context) error
	// Stop gracefully ceases consumption and waits for background tasks.
	Stop(ctx context.Context) error
	// Done returns a channel closed once the consumer has fully shut down.
	Done() <-chan struct{}
}

// MessageTransformer turns a raw Message into a structured payload of type T.
//
// Returning skip=true acknowledges the message and drops it from the
// pipeline without an error; this is how per-row validation failures are
// isolated from their siblings. Returning an error Nacks the message.
type MessageTransformer[T any] func(ctx context.Context, msg *Message) (payload *T, skip bool, err error)

// ProcessableItem pairs a transformed payload with its original message so
// processors can Ack or Nack each unit of work independently.
type ProcessableItem[T any] struct {
	Original Message
	Payload  *T
}

// StreamProcessor handles transformed messages one at a time. A returned
// error Nacks the message; nil Acks it.
type StreamProcessor[T any] func(ctx context.Context, original Message, payload *T) error

// BatchProcessor handles a bounded batch of transformed messages. The
// implementation owns the batch's acknowledgment lifecycle: it must Ack or
// Nack each item individually so one failed item never decides the fate of
// its siblings. A returned error is logged by the service only.
type BatchProcessor[T any] func(ctx context.Context, batch []ProcessableItem[T]) error
