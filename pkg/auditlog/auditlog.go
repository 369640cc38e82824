// Package auditlog records per-row and per-file ingestion outcomes as an
// append-only stream, batched into an analytical store. It is how the
// pipeline reports aggregate skipped-row counts without coupling processing
// to the reporting backend.
package auditlog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one audit fact: either the outcome of a single row, or a file
// summary row carrying the dispatched/skipped aggregates.
type Entry struct {
	Object     string    `bigquery:"object"`
	Row        int       `bigquery:"row"`
	Outcome    string    `bigquery:"outcome"`
	Detail     string    `bigquery:"detail"`
	Dispatched int       `bigquery:"dispatched"`
	Skipped    int       `bigquery:"skipped"`
	Timestamp  time.Time `bigquery:"timestamp"`
}

// Outcome values.
const (
	OutcomeCommitted        = "committed"
	OutcomeBadInput         = "bad_input"
	OutcomeDecodeError      = "decode_error"
	OutcomePersistenceError = "persistence_error"
	OutcomeDuplicate        = "duplicate_delivery"
	OutcomeFileDispatched   = "file_dispatched"
	OutcomeFileRejected     = "file_rejected"
)

// Sink accepts audit entries. Recording is fire-and-forget: a sink must
// never block or fail the pipeline stage that calls it.
type Sink interface {
	Record(entry Entry)
	// Stop flushes buffered entries, respecting the context's deadline.
	Stop(ctx context.Context) error
}

// NopSink discards all entries. Used when no audit backend is configured.
type NopSink struct{}

func (NopSink) Record(Entry)               {}
func (NopSink) Stop(context.Context) error { return nil }

// BatchInserter abstracts the destination store for audit batches.
type BatchInserter interface {
	InsertBatch(ctx context.Context, entries []*Entry) error
	Close() error
}

// BatcherConfig holds configuration for the audit Batcher.
type BatcherConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// Batcher buffers entries and flushes them to a BatchInserter by size or
// interval. When the buffer is full, entries are dropped and counted rather
// than blocking the pipeline.
type Batcher struct {
	cfg       BatcherConfig
	inserter  BatchInserter
	logger    zerolog.Logger
	inputChan chan Entry
	dropped   int64
	mu        sync.Mutex
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBatcher creates and starts an audit Batcher.
func NewBatcher(cfg BatcherConfig, inserter BatchInserter, logger zerolog.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 30 * time.Second
	}
	b := &Batcher{
		cfg:       cfg,
		inserter:  inserter,
		logger:    logger.With().Str("component", "AuditBatcher").Logger(),
		inputChan: make(chan Entry, cfg.BatchSize*4),
	}
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.worker()
	})
	return b
}

// Record buffers one entry without blocking.
func (b *Batcher) Record(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case b.inputChan <- entry:
	default:
		b.mu.Lock()
		b.dropped++
		dropped := b.dropped
		b.mu.Unlock()
		b.logger.Warn().Int64("dropped_total", dropped).Msg("Audit buffer full, dropping entry.")
	}
}

// Dropped returns the count of entries discarded because the buffer was full.
func (b *Batcher) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Stop flushes the remaining entries and closes the underlying inserter.
func (b *Batcher) Stop(ctx context.Context) error {
	var stopErr error
	b.stopOnce.Do(func() {
		close(b.inputChan)

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
			return
		}

		if err := b.inserter.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Error closing audit inserter.")
		}
	})
	return stopErr
}

func (b *Batcher) worker() {
	defer b.wg.Done()
	batch := make([]*Entry, 0, b.cfg.BatchSize)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		insertCtx, cancel := context.WithTimeout(context.Background(), b.cfg.InsertTimeout)
		if err := b.inserter.InsertBatch(insertCtx, batch); err != nil {
			b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert audit batch.")
		}
		cancel()
		batch = make([]*Entry, 0, b.cfg.BatchSize)
	}

	for {
		select {
		case entry, ok := <-b.inputChan:
			if !ok {
				flush()
				return
			}
			e := entry
			batch = append(batch, &e)
			if len(batch) >= b.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
