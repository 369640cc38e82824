// The catalog service consumes dispatched CSV rows in batches, commits each
// valid row as an atomic product and stock pair, and publishes a creation
// event for every committed product.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/Satlykov/go-catalog-ingest/pkg/auditlog"
	"github.com/Satlykov/go-catalog-ingest/pkg/catalogstore"
	"github.com/Satlykov/go-catalog-ingest/pkg/consume"
	"github.com/Satlykov/go-catalog-ingest/pkg/dedupe"
	"github.com/Satlykov/go-catalog-ingest/pkg/messagepipeline"
	"github.com/Satlykov/go-catalog-ingest/pkg/microservice"
	"github.com/Satlykov/go-catalog-ingest/pkg/notify"
)

func main() {
	baseCfg, err := microservice.LoadBaseConfigFromEnv("catalog-service")
	if err != nil {
		panic(err)
	}
	logger := microservice.NewLogger(baseCfg)

	subID := envOr("DISPATCH_SUBSCRIPTION", "catalog-dispatch-sub")
	eventTopic := envOr("PRODUCT_EVENTS_TOPIC", "product-events")

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

	fsClient, err := firestore.NewClient(ctx, baseCfg.ProjectID, clientOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Firestore client")
	}
	defer func() { _ = fsClient.Close() }()

	consumer, err := messagepipeline.NewGooglePubsubConsumer(ctx,
		messagepipeline.NewGooglePubsubConsumerDefaults(subID), psClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dispatch consumer")
	}

	writer, err := catalogstore.NewFirestoreWriter(catalogstore.Config{
		ProductsCollection: os.Getenv("PRODUCTS_COLLECTION"),
		StocksCollection:   os.Getenv("STOCKS_COLLECTION"),
	}, fsClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create catalog writer")
	}

	notifier, err := notify.NewGooglePublisher(ctx,
		&notify.GooglePublisherConfig{TopicID: eventTopic}, psClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create event publisher")
	}

	receipts := newReceiptCache(ctx, logger)
	audit := newAuditSink(ctx, baseCfg, logger)

	service, err := consume.NewService(consume.Config{}, consumer, writer, notifier, receipts, audit, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create consumer service")
	}

	server := microservice.NewBaseServer(logger, baseCfg.HTTPPort)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
	if err := service.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start consumer service")
	}
	logger.Info().Str("subscription", subID).Str("event_topic", eventTopic).Msg("Catalog service running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := service.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Consumer service shutdown failed")
	}
	if err := notifier.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Event publisher shutdown failed")
	}
	if err := audit.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Audit sink shutdown failed")
	}
	if err := receipts.Close(); err != nil {
		logger.Error().Err(err).Msg("Receipt cache close failed")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("Catalog service stopped.")
}

// newReceiptCache uses Redis when an address is configured so multiple
// instances share one receipt set, and an in-process cache otherwise.
func newReceiptCache(ctx context.Context, logger zerolog.Logger) dedupe.ReceiptCache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Info().Msg("REDIS_ADDR not set, using in-memory receipt cache.")
		return dedupe.NewInMemoryReceiptCache(0)
	}
	cache, err := dedupe.NewRedisReceiptCache(ctx, &dedupe.RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect receipt cache")
	}
	return cache
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
