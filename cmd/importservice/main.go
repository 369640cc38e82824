// The import service watches the import bucket for finished CSV uploads,
// streams each file's rows onto the dispatch queue, and relocates processed
// files. It also serves signed upload URLs so clients can put files into the
// bucket's incoming area.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/Satlykov/go-catalog-ingest/pkg/auditlog"
	"github.com/Satlykov/go-catalog-ingest/pkg/importer"
	"github.com/Satlykov/go-catalog-ingest/pkg/messagepipeline"
	"github.com/Satlykov/go-catalog-ingest/pkg/microservice"
	"github.com/Satlykov/go-catalog-ingest/pkg/uploadapi"
)

func main() {
	baseCfg, err := microservice.LoadBaseConfigFromEnv("import-service")
	if err != nil {
		panic(err)
	}
	logger := microservice.NewLogger(baseCfg)

	bucket := os.Getenv("IMPORT_BUCKET")
	if bucket == "" {
		logger.Fatal().Msg("IMPORT_BUCKET environment variable must be set")
	}
	subID := envOr("STORAGE_EVENTS_SUBSCRIPTION", "catalog-storage-events")
	dispatchTopic := envOr("DISPATCH_TOPIC", "catalog-dispatch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var clientOpts []option.ClientOption
	if baseCfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(baseCfg.CredentialsFile))
	}

	psClient, err := pubsub.NewClient(ctx, baseCfg.ProjectID, clientOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Pub/Sub client")
	}
	defer func() { _ = psClient.Close() }()

	gcsClient, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer func() { _ = gcsClient.Close() }()

	consumer, err := messagepipeline.NewGooglePubsubConsumer(ctx,
		messagepipeline.NewGooglePubsubConsumerDefaults(subID), psClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create storage event consumer")
	}

	dispatch, err := messagepipeline.NewGoogleDispatchPublisher(ctx,
		messagepipeline.NewGoogleDispatchPublisherDefaults(dispatchTopic), psClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dispatch publisher")
	}

	audit := newAuditSink(ctx, baseCfg, logger)

	service, err := importer.NewService(importer.Config{
		IncomingPrefix:  os.Getenv("INCOMING_PREFIX"),
		ProcessedPrefix: os.Getenv("PROCESSED_PREFIX"),
	}, importer.NewGCSObjectStore(gcsClient), dispatch, audit, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create import service")
	}

	pipeline, err := messagepipeline.NewStreamingService[importer.StorageEvent](
		messagepipeline.StreamingServiceConfig{}, consumer, service.Transform, service.Process, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create processing pipeline")
	}

	server := microservice.NewBaseServer(logger, baseCfg.HTTPPort)
	uploadapi.NewHandler(uploadapi.Config{
		IncomingPrefix: os.Getenv("INCOMING_PREFIX"),
	}, gcsClient.Bucket(bucket), logger).Register(server.Mux())

	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
	if err := pipeline.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start processing pipeline")
	}
	logger.Info().Str("bucket", bucket).Str("subscription", subID).Msg("Import service running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pipeline.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Pipeline shutdown failed")
	}
	if err := dispatch.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Dispatch publisher shutdown failed")
	}
	if err := audit.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Audit sink shutdown failed")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("Import service stopped.")
}

// newAuditSink wires the BigQuery audit trail when a dataset is configured,
// falling back on a no-op sink otherwise.
func newAuditSink(ctx context.Context, baseCfg *microservice.BaseConfig, logger zerolog.Logger) auditlog.Sink {
	dataset := os.Getenv("AUDIT_DATASET")
	if dataset == "" {
		logger.Info().Msg("AUDIT_DATASET not set, audit trail disabled.")
		return auditlog.NopSink{}
	}

	bqCfg := &auditlog.BigQueryConfig{
		ProjectID:       baseCfg.ProjectID,
		DatasetID:       dataset,
		TableID:         envOr("AUDIT_TABLE", "ingest_audit"),
		CredentialsFile: baseCfg.CredentialsFile,
	}
	bqClient, err := auditlog.NewBigQueryClient(ctx, bqCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create BigQuery client for audit trail")
	}
	inserter, err := auditlog.NewBigQueryInserter(ctx, bqClient, bqCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create audit table inserter")
	}
	return auditlog.NewBatcher(auditlog.BatcherConfig{}, inserter, logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
