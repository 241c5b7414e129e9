package stt

import (
	"context"
	"sync"
)

// Mock implements Provider for testing. Tests drive transcripts through
// the MockStream returned by Last or received on Opened.
type Mock struct {
	// StreamFunc is called when Stream is invoked. If nil, a MockStream is
	// created.
	StreamFunc func(ctx context.Context) (Stream, error)

	// Opened receives every MockStream the mock creates (buffered).
	Opened chan *MockStream

	mu      sync.Mutex
	streams []*MockStream
}

// NewMock creates a new mock provider.
func NewMock() *Mock {
	return &Mock{Opened: make(chan *MockStream, 8)}
}

// Stream implements Provider.
func (m *Mock) Stream(ctx context.Context) (Stream, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx)
	}
	s := NewMockStream(64)
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	select {
	case m.Opened <- s:
	default:
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (m *Mock) Last() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// Close implements Provider.
func (m *Mock) Close() error { return nil }

// MockStream is an in-memory Stream.
type MockStream struct {
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	sent   int
	bytes  int
	closed bool
	err    error
}

// NewMockStream creates a stream with the given event buffer.
func NewMockStream(buffer int) *MockStream {
	return &MockStream{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Send records the audio.
func (s *MockStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.sent++
	s.bytes += len(pcm)
	return nil
}

// Emit delivers ev to Events. It reports false once the stream is closed.
func (s *MockStream) Emit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events <- ev
	return true
}

// Fail ends the stream with err.
func (s *MockStream) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Close()
}

// Events implements Stream.
func (s *MockStream) Events() <-chan Event { return s.events }

// Err implements Stream.
func (s *MockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Stream.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
		close(s.done)
	}
	return nil
}

// Sent returns how many frames and bytes were pushed.
func (s *MockStream) Sent() (frames, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.bytes
}

// Verify Mock implements Provider at compile time.
var (
	_ Provider = (*Mock)(nil)
	_ Stream   = (*MockStream)(nil)
)
