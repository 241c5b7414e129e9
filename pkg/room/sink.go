package room

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/teslashibe/go-callagent/pkg/audioio"
)

const (
	frameDuration = 20 * time.Millisecond
	frameSamples  = audioio.RateTransport / 50

	// maxPacket is the opus packet buffer size.
	maxPacket = 4000
)

type sampleWriter interface {
	WriteSample(sample media.Sample, opts *lksdk.SampleWriteOptions) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Sink encodes agent audio to opus and writes it to the published track,
// one 20ms frame at a time in real time.
type Sink struct {
	logger *slog.Logger
	track  sampleWriter

	// writeMu serializes the encoder and pacing state.
	writeMu sync.Mutex
	enc     frameEncoder
	packet  []byte
	next    time.Time

	closed atomic.Bool

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
	resetPacing    atomic.Bool

	now func() time.Time
}

func newSink(track sampleWriter, enc frameEncoder, logger *slog.Logger) *Sink {
	return &Sink{
		logger: logger.With("component", "room_sink"),
		track:  track,
		enc:    enc,
		packet: make([]byte, maxPacket),
		now:    time.Now,
	}
}

// Write blocks until every frame of chunk has been handed to the track at
// its playout time, or ctx is done.
func (s *Sink) Write(ctx context.Context, chunk audioio.AudioChunk) error {
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	chunk = chunk.Mono().To(audioio.RateTransport)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.resetPacing.Swap(false) {
		s.next = time.Time{}
	}
	for _, frame := range audioio.Frames(chunk.Samples, frameSamples) {
		if err := s.pace(ctx); err != nil {
			return err
		}
		n, err := s.enc.Encode(frame, s.packet)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		data := append([]byte(nil), s.packet[:n]...)
		if err := s.track.WriteSample(media.Sample{Data: data, Duration: frameDuration}, nil); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		s.samplesWritten.Add(int64(len(frame)))
	}
	s.chunksWritten.Add(1)
	return nil
}

// pace waits for the next frame slot. After a gap in playback the clock
// restarts rather than bursting to catch up.
func (s *Sink) pace(ctx context.Context) error {
	now := s.now()
	if s.next.IsZero() || now.Sub(s.next) > frameDuration {
		s.next = now
	}
	if wait := s.next.Sub(now); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	s.next = s.next.Add(frameDuration)
	return nil
}

// Clear drops the pacing clock so the next utterance starts immediately.
// Frames already handed to the track cannot be recalled; callers cancel the
// Write context to stop the current one.
func (s *Sink) Clear() error {
	s.clears.Add(1)
	s.resetPacing.Store(true)
	return nil
}

func (s *Sink) Name() string { return "livekit" }

func (s *Sink) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Sink) Stats() audioio.SinkStats {
	return audioio.SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Clears:         s.clears.Load(),
		Backend:        "livekit",
	}
}

var _ audioio.SinkWithStats = (*Sink)(nil)
