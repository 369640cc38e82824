// Package dedupe tracks processed dispatch-message receipts so that the
// queue's at-least-once redelivery does not re-commit work the consumer has
// already completed. It is a fast-path guard only: commits are idempotent by
// construction, so losing the cache is safe.
package dedupe

import (
	"context"
	"io"
)

// ReceiptCache records which dispatch messages have already been processed.
type ReceiptCache interface {
	// Seen reports whether the key was marked within the cache's horizon.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records the key as processed.
	Mark(ctx context.Context, key string) error
	// Closer is included for implementations that manage network connections.
	io.Closer
}
