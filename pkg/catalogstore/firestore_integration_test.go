//go:build integration

package catalogstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satlykov/go-catalog-ingest/pkg/catalog"
	"github.com/Satlykov/go-catalog-ingest/pkg/catalogstore"
)

// Requires a Firestore emulator; set FIRESTORE_EMULATOR_HOST before running.
func TestFirestoreWriter_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping Firestore integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	const projectID = "test-project"

	client, err := firestore.NewClient(ctx, projectID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	writer, err := catalogstore.NewFirestoreWriter(catalogstore.Config{}, client, zerolog.Nop())
	require.NoError(t, err)

	input := catalog.ProductInput{
		Title:       "Widget",
		Description: "A widget",
		Price:       19.99,
		Count:       5,
	}

	t.Run("Commit writes product and stock together", func(t *testing.T) {
		product, stock, err := writer.Commit(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, input.Title, product.Title)
		assert.Equal(t, product.ID, stock.ProductID)
		assert.Equal(t, 5, stock.Count)

		productDoc, err := client.Collection("products").Doc(product.ID).Get(ctx)
		require.NoError(t, err)
		var storedProduct catalog.Product
		require.NoError(t, productDoc.DataTo(&storedProduct))
		assert.Equal(t, product, storedProduct)

		stockDoc, err := client.Collection("stocks").Doc(product.ID).Get(ctx)
		require.NoError(t, err)
		var storedStock catalog.Stock
		require.NoError(t, stockDoc.DataTo(&storedStock))
		assert.Equal(t, stock, storedStock)
	})

	t.Run("Recommitting the same input converges on one document", func(t *testing.T) {
		first, _, err := writer.Commit(ctx, input)
		require.NoError(t, err)
		second, _, err := writer.Commit(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		docs, err := client.Collection("products").
			Where("title", "==", input.Title).Documents(ctx).GetAll()
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}
