package consume_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satlykov/go-catalog-ingest/pkg/auditlog"
	"github.com/Satlykov/go-catalog-ingest/pkg/catalog"
	"github.com/Satlykov/go-catalog-ingest/pkg/consume"
	"github.com/Satlykov/go-catalog-ingest/pkg/dedupe"
	"github.com/Satlykov/go-catalog-ingest/pkg/messagepipeline"
	"github.com/Satlykov/go-catalog-ingest/pkg/notify"
)

// --- Mocks ---

type mockConsumer struct {
	msgChan  chan messagepipeline.Message
	doneChan chan struct{}
	stopOnce sync.Once
}

func newMockConsumer(buffer int) *mockConsumer {
	return &mockConsumer{
		msgChan:  make(chan messagepipeline.Message, buffer),
		doneChan: make(chan struct{}),
	}
}

func (m *mockConsumer) Messages() <-chan messagepipeline.Message { return m.msgChan }
func (m *mockConsumer) Start(context.Context) error              { return nil }
func (m *mockConsumer) Stop(context.Context) error {
	m.stopOnce.Do(func() {
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}
func (m *mockConsumer) Done() <-chan struct{} { return m.doneChan }

type fakeWriter struct {
	mu        sync.Mutex
	committed []catalog.Product
	failOn    string // Title that triggers a persistence failure.
}

func (w *fakeWriter) Commit(_ context.Context, in catalog.ProductInput) (catalog.Product, catalog.Stock, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if in.Title == w.failOn {
		return catalog.Product{}, catalog.Stock{}, catalog.E(catalog.KindPersistence, "fake.Commit", errors.New("backend unavailable"))
	}
	id := in.DeterministicID()
	product := catalog.Product{ID: id, Title: in.Title, Description: in.Description, Price: in.Price, Count: in.Count}
	w.committed = append(w.committed, product)
	return product, catalog.Stock{ProductID: id, Count: in.Count}, nil
}

func (w *fakeWriter) committedProducts() []catalog.Product {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]catalog.Product, len(w.committed))
	copy(out, w.committed)
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []notify.Event
	fail      bool
}

func (n *fakeNotifier) Publish(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return catalog.E(catalog.KindNotification, "fake.Publish", errors.New("topic unavailable"))
	}
	n.published = append(n.published, event)
	return nil
}

func (n *fakeNotifier) Stop(context.Context) error { return nil }

func (n *fakeNotifier) events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Event, len(n.published))
	copy(out, n.published)
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (s *recordingSink) Record(entry auditlog.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingSink) Stop(context.Context) error { return nil }

func (s *recordingSink) outcomes() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.entries {
		counts[e.Outcome]++
	}
	return counts
}

// --- Helpers ---

type testHarness struct {
	service  *consume.Service
	consumer *mockConsumer
	writer   *fakeWriter
	notifier *fakeNotifier
	receipts *dedupe.InMemoryReceiptCache
	audit    *recordingSink
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		consumer: newMockConsumer(20),
		writer:   &fakeWriter{},
		notifier: &fakeNotifier{},
		receipts: dedupe.NewInMemoryReceiptCache(0),
		audit:    &recordingSink{},
	}
	service, err := consume.NewService(
		consume.Config{BatchSize: 5, NumWorkers: 1, FlushInterval: 50 * time.Millisecond},
		h.consumer, h.writer, h.notifier, h.receipts, h.audit, zerolog.Nop(),
	)
	require.NoError(t, err)
	h.service = service
	t.Cleanup(func() { _ = h.consumer.Stop(context.Background()) })
	return h
}

func dispatchMessage(t *testing.T, id string, fields map[string]string) (messagepipeline.Message, *ackState) {
	t.Helper()
	payload, err := json.Marshal(fields)
	require.NoError(t, err)
	state := &ackState{}
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: payload},
		Attributes:  map[string]string{"source_object": "incoming/products.csv"},
		Ack:         state.ack,
		Nack:        state.nack,
	}, state
}

type ackState struct {
	mu     sync.Mutex
	acked  bool
	nacked bool
}

func (s *ackState) ack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = true
}

func (s *ackState) nack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacked = true
}

func (s *ackState) isAcked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

func (s *ackState) isNacked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nacked
}

func validRow(i int) map[string]string {
	return map[string]string{
		"title":       fmt.Sprintf("Widget %d", i),
		"description": "A widget",
		"price":       "19.99",
		"count":       "5",
	}
}

// --- Tests ---

func TestService_CommitsValidRow(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.service.Start(ctx))

	msg, state := dispatchMessage(t, "msg-1", map[string]string{
		"title":       "Widget",
		"description": "A widget",
		"price":       "19.99",
		"count":       "5",
	})
	h.consumer.msgChan <- msg

	require.Eventually(t, state.isAcked, 2*time.Second, 10*time.Millisecond)

	committed := h.writer.committedProducts()
	require.Len(t, committed, 1)
	assert.Equal(t, "Widget", committed[0].Title)
	assert.Equal(t, 19.99, committed[0].Price)
	assert.Equal(t, 5, committed[0].Count)

	events := h.notifier.events()
	require.Len(t, events, 1)
	assert.Equal(t, committed[0].ID, events[0].Product.ID)
	assert.Equal(t, committed[0].ID, events[0].Stock.ProductID)
	assert.Equal(t, 5, events[0].Stock.Count)
	assert.Equal(t, "19.99", events[0].Attributes()["price"])
}

func TestService_OneBadRowCommitsTheOtherFour(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.service.Start(ctx))

	goodStates := make([]*ackState, 0, 4)
	for i := 0; i < 4; i++ {
		msg, state := dispatchMessage(t, fmt.Sprintf("good-%d", i), validRow(i))
		goodStates = append(goodStates, state)
		h.consumer.msgChan <- msg
	}
	badMsg, badState := dispatchMessage(t, "bad-1", map[string]string{
		"title":       "",
		"description": "x",
		"price":       "10",
	})
	h.consumer.msgChan <- badMsg

	for _, state := range goodStates {
		require.Eventually(t, state.isAcked, 2*time.Second, 10*time.Millisecond)
	}
	require.Eventually(t, badState.isAcked, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, h.writer.committedProducts(), 4, "exactly the four good rows commit")
	assert.Len(t, h.notifier.events(), 4)
	assert.False(t, badState.isNacked(), "a bad row is dropped, not retried")
	assert.Equal(t, 1, h.audit.outcomes()[auditlog.OutcomeBadInput])
}

func TestService_PersistenceFailureNacksOnlyThatRow(t *testing.T) {
	h := newHarness(t)
	h.writer.failOn = "Doomed"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.service.Start(ctx))

	failing, failingState := dispatchMessage(t, "msg-fail", map[string]string{
		"title":       "Doomed",
		"description": "x",
		"price":       "10",
	})
	ok, okState := dispatchMessage(t, "msg-ok", validRow(1))
	h.consumer.msgChan <- failing
	h.consumer.msgChan <- ok

	require.Eventually(t, failingState.isNacked, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, okState.isAcked, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, h.writer.committedProducts(), 1)
	assert.Len(t, h.notifier.events(), 1, "no notification for a failed commit")
	assert.Equal(t, 1, h.audit.outcomes()[auditlog.OutcomePersistenceError])
}

func TestService_NotificationFailureDoesNotUndoCommit(t *testing.T) {
	h := newHarness(t)
	h.notifier.fail = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.service.Start(ctx))

	msg, state := dispatchMessage(t, "msg-1", validRow(1))
	h.consumer.msgChan <- msg

	require.Eventually(t, state.isAcked, 2*time.Second, 10*time.Millisecond)
	assert.False(t, state.isNacked(), "publish failure must not trigger a redrive")
	assert.Len(t, h.writer.committedProducts(), 1)
}

func TestService_DuplicateDeliveryDoesNotRecommit(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.service.Start(ctx))

	first, firstState := dispatchMessage(t, "msg-1", validRow(1))
	h.consumer.msgChan <- first
	require.Eventually(t, firstState.isAcked, 2*time.Second, 10*time.Millisecond)

	// The queue redelivers the identical message.
	replay, replayState := dispatchMessage(t, "msg-1", validRow(1))
	h.consumer.msgChan <- replay
	require.Eventually(t, replayState.isAcked, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, h.writer.committedProducts(), 1, "replaying a dispatch message must not create a second product")
	assert.Len(t, h.notifier.events(), 1)
	assert.Equal(t, 1, h.audit.outcomes()[auditlog.OutcomeDuplicate])
}

func TestService_RedeliveryWithoutReceiptConvergesOnSameProduct(t *testing.T) {
	// Even with a cold receipt cache the deterministic identifier makes the
	// replayed commit land on the same product.
	writer := &fakeWriter{}
	in, err := catalog.ParseInput(validRow(1))
	require.NoError(t, err)

	p1, s1, err := writer.Commit(context.Background(), in)
	require.NoError(t, err)
	p2, s2, err := writer.Commit(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, s1.ProductID, s2.ProductID)
}

func TestService_UnparseablePayloadIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.service.Start(ctx))

	state := &ackState{}
	h.consumer.msgChan <- messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: "msg-garbage", Payload: []byte("not json")},
		Ack:         state.ack,
		Nack:        state.nack,
	}

	require.Eventually(t, state.isAcked, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.writer.committedProducts())
	assert.Equal(t, 1, h.audit.outcomes()[auditlog.OutcomeDecodeError])
}
