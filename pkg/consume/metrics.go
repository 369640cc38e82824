package consume

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_ingest_rows_committed_total",
		Help: "The total number of rows committed as product+stock pairs",
	})
	rowsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_ingest_rows_rejected_total",
		Help: "The total number of rows rejected by validation",
	})
	persistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_ingest_persistence_failures_total",
		Help: "The total number of failed transactional writes",
	})
	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_ingest_notification_failures_total",
		Help: "The total number of commit events that failed to publish",
	})
	duplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_ingest_duplicate_deliveries_total",
		Help: "The total number of redelivered messages skipped by the receipt cache",
	})
)
