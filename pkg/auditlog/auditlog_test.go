package auditlog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Satlykov/go-catalog-ingest/pkg/auditlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]*auditlog.Entry
	closed  bool
}

func (f *fakeInserter) InsertBatch(_ context.Context, entries []*auditlog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]*auditlog.Entry, len(entries))
	copy(batch, entries)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeInserter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeInserter) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeInserter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestBatcher_FlushesAtBatchSize(t *testing.T) {
	inserter := &fakeInserter{}
	batcher := auditlog.NewBatcher(auditlog.BatcherConfig{
		BatchSize:     3,
		FlushInterval: time.Minute,
	}, inserter, zerolog.Nop())

	for i := 0; i < 3; i++ {
		batcher.Record(auditlog.Entry{Object: "incoming/products.csv", Row: i + 1, Outcome: auditlog.OutcomeCommitted})
	}

	require.Eventually(t, func() bool { return inserter.entryCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, inserter.batchCount())

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, batcher.Stop(stopCtx))
}

func TestBatcher_StopFlushesRemainder(t *testing.T) {
	inserter := &fakeInserter{}
	batcher := auditlog.NewBatcher(auditlog.BatcherConfig{
		BatchSize:     100,
		FlushInterval: time.Minute,
	}, inserter, zerolog.Nop())

	batcher.Record(auditlog.Entry{Object: "incoming/products.csv", Outcome: auditlog.OutcomeFileDispatched, Dispatched: 4, Skipped: 1})
	batcher.Record(auditlog.Entry{Object: "incoming/products.csv", Row: 3, Outcome: auditlog.OutcomeDecodeError})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, batcher.Stop(stopCtx))

	assert.Equal(t, 2, inserter.entryCount())
	assert.True(t, inserter.closed)
}

func TestBatcher_SetsTimestamp(t *testing.T) {
	inserter := &fakeInserter{}
	batcher := auditlog.NewBatcher(auditlog.BatcherConfig{
		BatchSize:     1,
		FlushInterval: time.Minute,
	}, inserter, zerolog.Nop())

	batcher.Record(auditlog.Entry{Object: "incoming/products.csv", Outcome: auditlog.OutcomeBadInput})

	require.Eventually(t, func() bool { return inserter.entryCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	inserter.mu.Lock()
	entry := inserter.batches[0][0]
	inserter.mu.Unlock()
	assert.False(t, entry.Timestamp.IsZero())

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, batcher.Stop(stopCtx))
}
