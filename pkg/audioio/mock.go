package audioio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// Tests push chunks and the source delivers them in order.
type MockSource struct {
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	streamCh chan AudioChunk

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewMockSource creates a new mock audio source with the given buffer size.
func NewMockSource(buffer int, logger *slog.Logger) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 10
	}
	return &MockSource{
		logger:   logger,
		streamCh: make(chan AudioChunk, buffer),
	}
}

// Push queues a chunk for delivery. It returns false if the source is
// closed or the buffer is full (overrun).
func (m *MockSource) Push(chunk AudioChunk) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	select {
	case m.streamCh <- chunk:
		m.chunksRead.Add(1)
		m.samplesRead.Add(int64(len(chunk.Samples)))
		return true
	default:
		m.overruns.Add(1)
		m.logger.Debug("mock source: buffer full, dropping chunk")
		return false
	}
}

// Stream returns the audio chunk channel.
func (m *MockSource) Stream() <-chan AudioChunk {
	return m.streamCh
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close closes the stream channel. Closing twice is a no-op.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.streamCh)
	return nil
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockSink is a mock audio sink for testing.
// It records every chunk written.
type MockSink struct {
	logger *slog.Logger

	// WriteDelay simulates real-time pacing when non-zero.
	WriteDelay time.Duration

	mu     sync.Mutex
	closed bool
	chunks []AudioChunk

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{
		logger: logger,
		chunks: make([]AudioChunk, 0, 100),
	}
}

// Write records an audio chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	if m.WriteDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.WriteDelay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}

	m.chunks = append(m.chunks, chunk)
	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Chunks returns a copy of every chunk written so far.
func (m *MockSink) Chunks() []AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AudioChunk, len(m.chunks))
	copy(out, m.chunks)
	return out
}

// Clear counts the interruption. Recorded chunks are kept for assertions.
func (m *MockSink) Clear() error {
	m.clears.Add(1)
	m.logger.Debug("mock audio sink cleared")
	return nil
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	return SinkStats{
		ChunksWritten:  m.chunksWritten.Load(),
		SamplesWritten: m.samplesWritten.Load(),
		Clears:         m.clears.Load(),
		Backend:        "mock",
	}
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)
