// Package messagepipeline provides the queue-facing building blocks of the
// ingestion pipeline: the canonical message type, consumer and publisher
// contracts, and the services that drive per-message and batched processing.
package messagepipeline

import (
	"time"
)

// MessageData holds the essential payload of a message in transit.
type MessageData struct {
	// ID is the unique identifier for the message from the source broker.
	// Redeliveries of the same message carry the same ID.
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time `json:"publishTime"`
}

// Message is the internal representation of one unit of work delivered by
// the queue, together with its acknowledgment handles.
type Message struct {
	MessageData

	// Attributes holds broker metadata, such as the source object reference
	// on dispatch messages or the event type on storage notifications.
	Attributes map[string]string

	// Ack signals that processing succeeded and the message can be removed
	// from the source.
	Ack func()

	// Nack signals that processing failed and the message should be
	// redelivered after the visibility window, per the queue's redrive
	// policy.
	Nack func()
}
