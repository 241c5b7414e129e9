package room

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-callagent/pkg/audioio"
)

// sourceBuffer holds two seconds of 20ms frames.
const sourceBuffer = 100

// Source delivers the bound caller's decoded audio at 48kHz mono.
type Source struct {
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan audioio.AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newSource(logger *slog.Logger) *Source {
	return &Source{
		logger: logger.With("component", "room_source"),
		ch:     make(chan audioio.AudioChunk, sourceBuffer),
	}
}

// push never blocks the RTP reader; a full buffer drops the chunk.
func (s *Source) push(chunk audioio.AudioChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- chunk:
		s.chunksRead.Add(1)
		s.samplesRead.Add(int64(len(chunk.Samples)))
	default:
		if s.overruns.Add(1)%50 == 1 {
			s.logger.Warn("caller audio overrun", "overruns", s.overruns.Load())
		}
	}
}

func (s *Source) Stream() <-chan audioio.AudioChunk { return s.ch }

func (s *Source) Name() string { return "livekit" }

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *Source) Stats() audioio.SourceStats {
	return audioio.SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Backend:     "livekit",
	}
}

var _ audioio.SourceWithStats = (*Source)(nil)
