package audioio

import (
	"io"
	"time"
)

// AudioChunk represents a chunk of audio data.
type AudioChunk struct {
	// Samples contains PCM16 audio samples, interleaved when Channels > 1.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Bytes returns the raw little-endian bytes of the audio chunk.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from raw PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the playback duration of this audio chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate*c.Channels)
}

// Mono returns the chunk downmixed to one channel.
func (c AudioChunk) Mono() AudioChunk {
	if c.Channels <= 1 {
		return c
	}
	return AudioChunk{Samples: StereoToMono(c.Samples), SampleRate: c.SampleRate, Channels: 1}
}

// To returns the chunk resampled to rate.
func (c AudioChunk) To(rate int) AudioChunk {
	if c.SampleRate == rate {
		return c
	}
	return AudioChunk{Samples: Resample(c.Samples, c.SampleRate, rate), SampleRate: rate, Channels: c.Channels}
}

// Source delivers caller audio.
type Source interface {
	// Stream returns a channel that receives audio chunks.
	// The channel is closed when the source is closed or the track ends.
	Stream() <-chan AudioChunk

	// Name returns the backend name (e.g., "livekit", "mock").
	Name() string

	// Close releases all resources.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// ChunksRead is the total number of chunks read.
	ChunksRead int64 `json:"chunks_read"`

	// SamplesRead is the total number of samples read.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of chunks dropped because nobody was reading.
	Overruns int64 `json:"overruns"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
