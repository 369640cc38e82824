package auditlog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BigQueryConfig holds configuration for the BigQuery audit destination.
type BigQueryConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional
}

// NewBigQueryClient creates a BigQuery client, using Application Default
// Credentials unless a credentials file is provided.
func NewBigQueryClient(ctx context.Context, cfg *BigQueryConfig, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// BigQueryInserter streams audit entries into a BigQuery table. The table is
// created with an inferred schema when it does not exist.
type BigQueryInserter struct {
	client   *bigquery.Client
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter verifies (or creates) the audit table and returns an
// inserter for it.
func NewBigQueryInserter(ctx context.Context, client *bigquery.Client, cfg *BigQueryConfig, logger zerolog.Logger) (*BigQueryInserter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	logger = logger.With().Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("failed to get audit table metadata: %w", err)
		}
		logger.Warn().Msg("Audit table not found. Creating with inferred schema.")
		schema, inferErr := bigquery.InferSchema(Entry{})
		if inferErr != nil {
			return nil, fmt.Errorf("failed to infer audit schema: %w", inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); createErr != nil {
			return nil, fmt.Errorf("failed to create audit table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Msg("Audit table created successfully.")
	}

	return &BigQueryInserter{
		client:   client,
		inserter: tableRef.Inserter(),
		logger:   logger.With().Str("component", "BigQueryInserter").Logger(),
	}, nil
}

// InsertBatch streams one batch of entries to BigQuery.
func (i *BigQueryInserter) InsertBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := i.inserter.Put(ctx, entries); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}
	i.logger.Debug().Int("batch_size", len(entries)).Msg("Inserted audit batch into BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is owned by the caller.
func (i *BigQueryInserter) Close() error { return nil }
