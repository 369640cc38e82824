// Package importer reacts to storage-created-object notifications: it
// streams the new CSV object, dispatches one durable queue message per
// decoded row, and relocates the source file once every row was dispatched.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Satlykov/go-catalog-ingest/pkg/auditlog"
	"github.com/Satlykov/go-catalog-ingest/pkg/catalog"
	"github.com/Satlykov/go-catalog-ingest/pkg/csvstream"
	"github.com/Satlykov/go-catalog-ingest/pkg/messagepipeline"
)

// eventTypeFinalize is the storage notification event for a created object.
const eventTypeFinalize = "OBJECT_FINALIZE"

// StorageEvent identifies the object a storage notification refers to.
type StorageEvent struct {
	Bucket string
	Object string
}

// Config holds configuration for the importer service.
type Config struct {
	IncomingPrefix  string
	ProcessedPrefix string
}

func (c *Config) applyDefaults() {
	if c.IncomingPrefix == "" {
		c.IncomingPrefix = "incoming/"
	}
	if c.ProcessedPrefix == "" {
		c.ProcessedPrefix = "processed/"
	}
}

// Service turns one storage notification into per-row dispatch messages plus
// a source relocation. It is wired into a StreamingService via Transform and
// Process.
type Service struct {
	cfg      Config
	store    ObjectStore
	dispatch messagepipeline.DispatchPublisher
	audit    auditlog.Sink
	logger   zerolog.Logger
}

// NewService assembles the importer over its injected collaborators.
func NewService(cfg Config, store ObjectStore, dispatch messagepipeline.DispatchPublisher, audit auditlog.Sink, logger zerolog.Logger) (*Service, error) {
	if store == nil || dispatch == nil || audit == nil {
		return nil, fmt.Errorf("store, dispatch, and audit cannot be nil")
	}
	cfg.applyDefaults()
	return &Service{
		cfg:      cfg,
		store:    store,
		dispatch: dispatch,
		audit:    audit,
		logger:   logger.With().Str("service", "ImporterService").Logger(),
	}, nil
}

// Transform extracts the object reference from a storage notification.
// Notifications for other event types, or for objects outside the incoming
// prefix, are skipped (acknowledged and dropped).
func (s *Service) Transform(_ context.Context, msg *messagepipeline.Message) (*StorageEvent, bool, error) {
	ev := StorageEvent{
		Bucket: msg.Attributes["bucketId"],
		Object: msg.Attributes["objectId"],
	}
	if ev.Bucket == "" || ev.Object == "" {
		// Older notification formats carry the reference in the payload only.
		var payload struct {
			Bucket string `json:"bucket"`
			Name   string `json:"name"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return nil, false, fmt.Errorf("storage notification %s is unreadable: %w", msg.ID, err)
		}
		ev.Bucket = payload.Bucket
		ev.Object = payload.Name
	}

	if eventType := msg.Attributes["eventType"]; eventType != "" && eventType != eventTypeFinalize {
		s.logger.Debug().Str("event_type", eventType).Str("object", ev.Object).Msg("Ignoring non-create storage event.")
		return nil, true, nil
	}
	if !strings.HasPrefix(ev.Object, s.cfg.IncomingPrefix) {
		s.logger.Debug().Str("object", ev.Object).Msg("Object outside incoming prefix, ignoring.")
		return nil, true, nil
	}
	return &ev, false, nil
}

// Process handles one file end to end. A returned error Nacks the
// notification so the queue redrives the whole file; that is safe because
// downstream commits are idempotent.
func (s *Service) Process(ctx context.Context, _ messagepipeline.Message, ev *StorageEvent) error {
	logger := s.logger.With().Str("bucket", ev.Bucket).Str("object", ev.Object).Logger()

	rc, err := s.store.NewReader(ctx, ev.Bucket, ev.Object)
	if err != nil {
		if errors.Is(err, ErrObjectNotExist) {
			logger.Warn().Msg("Object already gone, assuming an earlier delivery processed it.")
			return nil
		}
		return fmt.Errorf("opening source object: %w", err)
	}
	defer func() { _ = rc.Close() }()

	dispatched, failed, err := s.dispatchRows(ctx, rc, ev, logger)
	if catalog.IsKind(err, catalog.KindDecode) {
		// The header was unreadable: the file can never be parsed, so
		// retrying is pointless. Report and drop.
		logger.Error().Err(err).Msg("Source file rejected, not retrying.")
		s.audit.Record(auditlog.Entry{
			Object:  ev.Object,
			Outcome: auditlog.OutcomeFileRejected,
			Detail:  err.Error(),
		})
		return nil
	}
	if err != nil {
		// The stream broke mid-file; a redrive re-reads the object.
		return fmt.Errorf("streaming source object: %w", err)
	}

	if failed > 0 {
		dispatchFailures.Add(float64(failed))
		return fmt.Errorf("%d of %d rows failed to enqueue for %s", failed, dispatched+failed, ev.Object)
	}

	// Every row was dispatched; the file leaves the incoming area. A failed
	// relocation is reported but does not fail the file: copied-but-not-
	// deleted is the accepted degraded state.
	if err := s.relocate(ctx, ev); err != nil {
		relocationFailures.Inc()
		logger.Error().Err(err).Msg("Failed to relocate processed file.")
	} else {
		filesProcessed.Inc()
	}

	logger.Info().Int("dispatched", dispatched).Msg("CSV file processed.")
	return nil
}

// dispatchRows streams the object's rows into the dispatch queue. A row that
// fails to decode is skipped and counted; a row that fails to enqueue is
// counted as failed. An error is returned only when the stream itself is
// unreadable.
func (s *Service) dispatchRows(ctx context.Context, r io.Reader, ev *StorageEvent, logger zerolog.Logger) (dispatched, failed int, err error) {
	dec, err := csvstream.NewDecoder(r)
	if err != nil {
		return 0, 0, catalog.E(catalog.KindDecode, "importer.dispatchRows", err)
	}

	attributes := map[string]string{
		"source_bucket": ev.Bucket,
		"source_object": ev.Object,
	}

	for {
		fields, err := dec.Next()
		if err == io.EOF {
			break
		}
		var rowErr *csvstream.RowError
		if errors.As(err, &rowErr) {
			rowsSkipped.Inc()
			logger.Warn().Err(rowErr).Int("row", rowErr.Row).Msg("Skipping unreadable row.")
			s.audit.Record(auditlog.Entry{
				Object:  ev.Object,
				Row:     rowErr.Row,
				Outcome: auditlog.OutcomeDecodeError,
				Detail:  rowErr.Error(),
			})
			continue
		}
		if err != nil {
			return dispatched, failed, err
		}

		payload, err := json.Marshal(fields)
		if err != nil {
			rowsSkipped.Inc()
			logger.Warn().Err(err).Int("row", dec.Rows()).Msg("Skipping unencodable row.")
			continue
		}

		if _, err := s.dispatch.Publish(ctx, payload, attributes); err != nil {
			failed++
			logger.Error().Err(err).Int("row", dec.Rows()).Msg("Failed to enqueue row.")
			continue
		}
		dispatched++
		rowsDispatched.Inc()
	}

	s.audit.Record(auditlog.Entry{
		Object:     ev.Object,
		Outcome:    auditlog.OutcomeFileDispatched,
		Dispatched: dispatched,
		Skipped:    dec.Skipped(),
	})
	return dispatched, failed, nil
}

// relocate moves the object from the incoming area to the processed area and
// removes the original.
func (s *Service) relocate(ctx context.Context, ev *StorageEvent) error {
	const op = "importer.relocate"

	dst := s.cfg.ProcessedPrefix + strings.TrimPrefix(ev.Object, s.cfg.IncomingPrefix)
	if err := s.store.Copy(ctx, ev.Bucket, ev.Object, dst); err != nil {
		return catalog.E(catalog.KindRelocation, op, err)
	}
	if err := s.store.Delete(ctx, ev.Bucket, ev.Object); err != nil {
		return catalog.E(catalog.KindRelocation, op, err)
	}
	s.logger.Info().Str("from", ev.Object).Str("to", dst).Msg("Source file relocated.")
	return nil
}
