package mesh

import (
	"context"
	"sync"
)

// SentFrame is one frame a MockTransport accepted for transmission.
type SentFrame struct {
	Destination string
	Text        string
}

// MockTransport is an in-memory transport for tests and for running the
// agent without radio hardware. Inject feeds a frame to the subscribed
// handler synchronously; sent frames are captured in order.
type MockTransport struct {
	identity string
	name     string

	mu        sync.Mutex
	connected bool
	handler   Handler
	sent      []SentFrame

	// FailSends makes every Send return false, for exercising the
	// chunk-failure paths.
	FailSends bool
}

// NewMockTransport creates a mock transport with the given own identity
// and display name.
func NewMockTransport(identity, name string) *MockTransport {
	return &MockTransport{identity: identity, name: name}
}

func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockTransport) OwnIdentity() string { return m.identity }
func (m *MockTransport) OwnName() string     { return m.name }

func (m *MockTransport) Send(ctx context.Context, destination, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return false
	}
	m.sent = append(m.sent, SentFrame{Destination: destination, Text: text})
	return true
}

func (m *MockTransport) Subscribe(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Inject delivers one inbound frame to the subscribed handler and returns
// the handler's result. No handler means the frame is dropped.
func (m *MockTransport) Inject(ctx context.Context, msg Message) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	return h(ctx, msg)
}

// Sent returns a copy of every frame accepted so far, in send order.
func (m *MockTransport) Sent() []SentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentFrame, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset clears the captured frames.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
