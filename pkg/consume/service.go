// Package consume drives persistence and notification for batches of
// dispatch messages. Each message in a batch is handled independently: one
// malformed or failing row never prevents its siblings from committing.
package consume

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Satlykov/go-catalog-ingest/pkg/auditlog"
	"github.com/Satlykov/go-catalog-ingest/pkg/catalog"
	"github.com/Satlykov/go-catalog-ingest/pkg/dedupe"
	"github.com/Satlykov/go-catalog-ingest/pkg/messagepipeline"
	"github.com/Satlykov/go-catalog-ingest/pkg/notify"
)

// Writer commits one validated row as an atomic product+stock pair.
type Writer interface {
	Commit(ctx context.Context, in catalog.ProductInput) (catalog.Product, catalog.Stock, error)
}

// Config holds configuration for the consumer service.
type Config struct {
	// BatchSize bounds each processor invocation; it matches the queue's
	// batch-delivery contract.
	BatchSize  int
	NumWorkers int
	// FlushInterval bounds how long a partial batch waits before processing.
	FlushInterval time.Duration
}

// Service is the batch consumer: it validates each dispatch message, commits
// it, and publishes the commit event, with strict per-message failure
// isolation.
type Service struct {
	pipeline *messagepipeline.BatchingService[catalog.ProductInput]
	writer   Writer
	notifier notify.Publisher
	receipts dedupe.ReceiptCache
	audit    auditlog.Sink
	logger   zerolog.Logger
}

// NewService assembles the consumer over its injected collaborators.
func NewService(
	cfg Config,
	consumer messagepipeline.MessageConsumer,
	writer Writer,
	notifier notify.Publisher,
	receipts dedupe.ReceiptCache,
	audit auditlog.Sink,
	logger zerolog.Logger,
) (*Service, error) {
	if writer == nil || notifier == nil || receipts == nil || audit == nil {
		return nil, fmt.Errorf("writer, notifier, receipts, and audit cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}

	s := &Service{
		writer:   writer,
		notifier: notifier,
		receipts: receipts,
		audit:    audit,
		logger:   logger.With().Str("service", "ConsumeService").Logger(),
	}

	pipeline, err := messagepipeline.NewBatchingService[catalog.ProductInput](
		messagepipeline.BatchingServiceConfig{
			NumWorkers:    cfg.NumWorkers,
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
		},
		consumer,
		s.transform,
		s.processBatch,
		logger,
	)
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline
	return s, nil
}

// Start begins consuming dispatch messages.
func (s *Service) Start(ctx context.Context) error {
	return s.pipeline.Start(ctx)
}

// Stop gracefully shuts down the consumer.
func (s *Service) Stop(ctx context.Context) error {
	return s.pipeline.Stop(ctx)
}

// transform parses and validates one dispatch message. An unreadable or
// invalid payload is a failure of that message alone: it is reported,
// metered, audited, and dropped — never retried, never fatal to the batch.
func (s *Service) transform(_ context.Context, msg *messagepipeline.Message) (*catalog.ProductInput, bool, error) {
	var fields map[string]string
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		s.reportRejected(msg, auditlog.OutcomeDecodeError, err)
		return nil, true, nil
	}

	in, err := catalog.ParseInput(fields)
	if err != nil {
		s.reportRejected(msg, auditlog.OutcomeBadInput, err)
		return nil, true, nil
	}
	return &in, false, nil
}

// processBatch handles each message in the batch independently, Acking or
// Nacking per item.
func (s *Service) processBatch(ctx context.Context, batch []messagepipeline.ProcessableItem[catalog.ProductInput]) error {
	for _, item := range batch {
		s.processItem(ctx, item)
	}
	return nil
}

func (s *Service) processItem(ctx context.Context, item messagepipeline.ProcessableItem[catalog.ProductInput]) {
	msg := item.Original
	logger := s.logger.With().Str("msg_id", msg.ID).Logger()

	// Delivery is at-least-once: skip messages whose receipt was already
	// recorded. A cache error only loses the fast path — the commit below
	// is idempotent either way.
	if seen, err := s.receipts.Seen(ctx, msg.ID); err != nil {
		logger.Warn().Err(err).Msg("Receipt lookup failed, proceeding with idempotent commit.")
	} else if seen {
		duplicateDeliveries.Inc()
		s.recordAudit(msg, auditlog.Entry{Outcome: auditlog.OutcomeDuplicate})
		logger.Debug().Msg("Duplicate delivery skipped.")
		msg.Ack()
		return
	}

	product, stock, err := s.writer.Commit(ctx, *item.Payload)
	if err != nil {
		persistenceFailures.Inc()
		s.recordAudit(msg, auditlog.Entry{Outcome: auditlog.OutcomePersistenceError, Detail: err.Error()})
		logger.Error().Err(err).Msg("Transactional write failed, Nacking for redrive.")
		msg.Nack()
		return
	}

	if err := s.receipts.Mark(ctx, msg.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to record receipt.")
	}

	// Best-effort fan-out: a publish failure is reported but never undoes
	// the commit.
	if err := s.notifier.Publish(ctx, notify.Event{Product: product, Stock: stock}); err != nil {
		notificationFailures.Inc()
		logger.Error().Err(err).Str("product_id", product.ID).Msg("Failed to publish commit event.")
	}

	rowsCommitted.Inc()
	s.recordAudit(msg, auditlog.Entry{Outcome: auditlog.OutcomeCommitted, Detail: product.ID})
	logger.Info().Str("product_id", product.ID).Msg("Product created.")
	msg.Ack()
}

func (s *Service) reportRejected(msg *messagepipeline.Message, outcome string, err error) {
	rowsRejected.Inc()
	s.recordAudit(*msg, auditlog.Entry{Outcome: outcome, Detail: err.Error()})
	s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Rejecting dispatch message.")
}

func (s *Service) recordAudit(msg messagepipeline.Message, entry auditlog.Entry) {
	entry.Object = msg.Attributes["source_object"]
	s.audit.Record(entry)
}
