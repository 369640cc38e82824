// Package catalogstore persists the catalog: one atomic product+stock write
// per validated ingestion row.
package catalogstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Satlykov/go-catalog-ingest/pkg/catalog"
)

// Config holds configuration for the Firestore catalog writer.
type Config struct {
	ProductsCollection string
	StocksCollection   string
}

func (c *Config) applyDefaults() {
	if c.ProductsCollection == "" {
		c.ProductsCollection = "products"
	}
	if c.StocksCollection == "" {
		c.StocksCollection = "stocks"
	}
}

// FirestoreWriter commits a Product and its Stock as a single all-or-nothing
// transaction. Either both documents are durably written or neither is;
// partial writes are not observable.
type FirestoreWriter struct {
	client   *firestore.Client
	products string
	stocks   string
	logger   zerolog.Logger
}

// NewFirestoreWriter creates a writer over the given Firestore client. The
// client's lifecycle is owned by the caller.
func NewFirestoreWriter(cfg Config, client *firestore.Client, logger zerolog.Logger) (*FirestoreWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	cfg.applyDefaults()
	return &FirestoreWriter{
		client:   client,
		products: cfg.ProductsCollection,
		stocks:   cfg.StocksCollection,
		logger:   logger.With().Str("component", "FirestoreWriter").Logger(),
	}, nil
}

// Commit mints the product identifier and writes products/{id} and
// stocks/{id} in one transaction. The identifier is derived deterministically
// from the input, so committing the same logical row twice converges on the
// same documents instead of duplicating them. Failures carry
// catalog.KindPersistence and leave no partial state.
func (w *FirestoreWriter) Commit(ctx context.Context, in catalog.ProductInput) (catalog.Product, catalog.Stock, error) {
	const op = "catalogstore.Commit"

	id := in.DeterministicID()
	product := catalog.Product{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		Count:       in.Count,
	}
	stock := catalog.Stock{
		ProductID: id,
		Count:     in.Count,
	}

	err := w.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(w.client.Collection(w.products).Doc(id), product); err != nil {
			return fmt.Errorf("staging product write: %w", err)
		}
		if err := tx.Set(w.client.Collection(w.stocks).Doc(id), stock); err != nil {
			return fmt.Errorf("staging stock write: %w", err)
		}
		return nil
	})
	if err != nil {
		if code := status.Code(err); code == codes.Aborted || code == codes.FailedPrecondition {
			w.logger.Warn().Err(err).Str("product_id", id).Msg("Transaction conflict, no partial state committed.")
		} else {
			w.logger.Error().Err(err).Str("product_id", id).Msg("Failed to commit product and stock.")
		}
		return catalog.Product{}, catalog.Stock{}, catalog.E(catalog.KindPersistence, op, err)
	}

	w.logger.Debug().Str("product_id", id).Msg("Product and stock committed.")
	return product, stock, nil
}
