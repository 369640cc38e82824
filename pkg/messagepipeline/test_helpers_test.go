package messagepipeline_test

import (
	"context"
	"sync"

	"github.com/Satlykov/go-catalog-ingest/pkg/messagepipeline"
)

// MockMessageConsumer simulates a message source for unit tests.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	startErr   error
	startCount int
	stopCount  int
}

// NewMockMessageConsumer creates a mock consumer with a buffered channel.
func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message {
	return m.msgChan
}

func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	if m.startErr != nil {
		return m.startErr
	}
	go func() {
		<-ctx.Done()
		_ = m.Stop(context.Background())
	}()
	return nil
}

func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.doneChan)
		close(m.msgChan)
	})
	return nil
}

func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneChan }

// Push injects a message into the mock consumer's channel.
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) {
	defer func() {
		// A test may push after Stop closed the channel; swallow the panic.
		_ = recover()
	}()
	m.msgChan <- msg
}

// Close releases the channel without counting as a Stop call.
func (m *MockMessageConsumer) Close() {
	_ = m.Stop(context.Background())
}

func (m *MockMessageConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

// messageState tracks Ack/Nack outcomes for individual messages in tests.
type messageState struct {
	ID         string
	mu         sync.Mutex
	ackCalled  bool
	nackCalled bool
}

func (ms *messageState) Ack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.ackCalled = true
}

func (ms *messageState) Nack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nackCalled = true
}

func (ms *messageState) IsAcked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ackCalled
}

func (ms *messageState) IsNacked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.nackCalled
}

func newTrackedMessage(id string, payload []byte) (messagepipeline.Message, *messageState) {
	state := &messageState{ID: id}
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: payload},
		Ack:         state.Ack,
		Nack:        state.Nack,
	}, state
}
