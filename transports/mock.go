package transports

import (
	"io"
	"sync"
	"time"
)

// MockTransport implements the session transport in memory. Reads block
// until a frame is queued or the transport closes, mimicking a serial
// port with no data pending.
type MockTransport struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	closed  bool

	WriteData   []byte
	WriteErr    error
	ReadTimeout time.Duration
	Flushed     bool

	// WriteFunc observes every outbound frame. Useful for scripting a
	// device: inspect the frame, then QueueRead the reply.
	WriteFunc func(p []byte)
}

// NewMockTransport returns a ready-to-use mock.
func NewMockTransport() *MockTransport {
	m := &MockTransport{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// QueueRead appends bytes the next Read calls will return.
func (m *MockTransport) QueueRead(p []byte) {
	m.mu.Lock()
	m.pending = append(m.pending, p...)
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *MockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return 0, io.EOF
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.mu.Lock()
	m.WriteData = append(m.WriteData, p...)
	fn := m.WriteFunc
	m.mu.Unlock()
	if fn != nil {
		frame := make([]byte, len(p))
		copy(frame, p)
		fn(frame)
	}
	return len(p), nil
}

// Written returns a copy of everything written so far.
func (m *MockTransport) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.WriteData))
	copy(out, m.WriteData)
	return out
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) Flush() error {
	m.Flushed = true
	return nil
}
