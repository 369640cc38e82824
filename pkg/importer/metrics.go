package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_import_files_processed_total",
		Help: "The total number of source files fully dispatched and relocated",
	})
	rowsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_import_rows_dispatched_total",
		Help: "The total number of rows enqueued to the dispatch queue",
	})
	rowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_import_rows_skipped_total",
		Help: "The total number of rows skipped because they could not be decoded",
	})
	dispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_import_dispatch_failures_total",
		Help: "The total number of rows that failed to enqueue",
	})
	relocationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_import_relocation_failures_total",
		Help: "The total number of failed source file relocations",
	})
)
