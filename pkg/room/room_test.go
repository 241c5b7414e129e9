package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-callagent/internal/log"
	"github.com/teslashibe/go-callagent/pkg/audioio"
)

type fakeTrack struct {
	mu      sync.Mutex
	samples []media.Sample
	err     error
}

func (f *fakeTrack) WriteSample(s media.Sample, _ *lksdk.SampleWriteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeTrack) written() []media.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.Sample(nil), f.samples...)
}

// fakeCodec writes the frame length as a single byte and decodes packets to
// a fixed number of samples.
type fakeCodec struct {
	frames [][]int16
	err    error
}

func (f *fakeCodec) Encode(pcm []int16, data []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.frames = append(f.frames, append([]int16(nil), pcm...))
	data[0] = byte(len(pcm) / 10)
	return 1, nil
}

func (f *fakeCodec) Decode(data []byte, pcm []int16) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := int(data[0]) * 10
	for i := 0; i < n; i++ {
		pcm[i] = int16(i)
	}
	return n, nil
}

func TestConnectRequiresCredentials(t *testing.T) {
	_, err := Connect(context.Background(), Config{Room: "call-1"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestDecodePacket(t *testing.T) {
	buf := make([]int16, maxFrameSamples)
	codec := &fakeCodec{}

	samples, err := decodePacket(codec, &rtp.Packet{Payload: []byte{96}}, buf)
	require.NoError(t, err)
	assert.Len(t, samples, 960)

	samples, err = decodePacket(codec, &rtp.Packet{}, buf)
	require.NoError(t, err)
	assert.Nil(t, samples)

	codec.err = errors.New("corrupt")
	_, err = decodePacket(codec, &rtp.Packet{Payload: []byte{1}}, buf)
	assert.Error(t, err)
}

func TestSourcePushAndClose(t *testing.T) {
	s := newSource(quiet())
	for i := 0; i < sourceBuffer+3; i++ {
		s.push(audioio.AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1})
	}
	stats := s.Stats()
	assert.Equal(t, int64(sourceBuffer), stats.ChunksRead)
	assert.Equal(t, int64(3), stats.Overruns)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	s.push(audioio.AudioChunk{Samples: make([]int16, 960)})

	n := 0
	for range s.Stream() {
		n++
	}
	assert.Equal(t, sourceBuffer, n)
}

func TestSinkWriteFramesAndPaces(t *testing.T) {
	track := &fakeTrack{}
	codec := &fakeCodec{}
	s := newSink(track, codec, quiet())

	// 50ms at 24kHz becomes three 20ms frames at 48kHz, the last one padded.
	chunk := audioio.AudioChunk{Samples: make([]int16, 1200), SampleRate: 24000, Channels: 1}
	start := time.Now()
	require.NoError(t, s.Write(context.Background(), chunk))

	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	samples := track.written()
	require.Len(t, samples, 3)
	for _, smp := range samples {
		assert.Equal(t, frameDuration, smp.Duration)
	}
	for _, f := range codec.frames {
		assert.Len(t, f, frameSamples)
	}
	assert.Equal(t, int64(1), s.Stats().ChunksWritten)
}

func TestSinkWriteHonorsContext(t *testing.T) {
	s := newSink(&fakeTrack{}, &fakeCodec{}, quiet())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	chunk := audioio.AudioChunk{Samples: make([]int16, 48000), SampleRate: 48000, Channels: 1}
	err := s.Write(ctx, chunk)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSinkErrors(t *testing.T) {
	chunk := audioio.AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1}

	s := newSink(&fakeTrack{err: errors.New("track gone")}, &fakeCodec{}, quiet())
	assert.ErrorContains(t, s.Write(context.Background(), chunk), "track gone")

	s = newSink(&fakeTrack{}, &fakeCodec{err: errors.New("bad frame")}, quiet())
	assert.ErrorContains(t, s.Write(context.Background(), chunk), "opus encode")

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write(context.Background(), chunk), io.ErrClosedPipe)
}

func TestSinkClearRestartsPacing(t *testing.T) {
	s := newSink(&fakeTrack{}, &fakeCodec{}, quiet())
	s.next = time.Now().Add(time.Hour)
	require.NoError(t, s.Clear())

	chunk := audioio.AudioChunk{Samples: make([]int16, 960), SampleRate: 48000, Channels: 1}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Write(ctx, chunk))
	assert.Equal(t, int64(1), s.Stats().Clears)
}

func quiet() *slog.Logger { return log.New(io.Discard, "error") }
