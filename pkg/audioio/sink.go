package audioio

import (
	"context"
	"io"
)

// Sink plays agent audio to the caller.
type Sink interface {
	// Write sends an audio chunk to the caller.
	// Real sinks pace writes in real time, so Write returning means the
	// chunk has been handed to the network at its playout time.
	Write(ctx context.Context, chunk AudioChunk) error

	// Clear discards any audio buffered but not yet sent.
	// Use this to interrupt playback (e.g., when the caller speaks).
	Clear() error

	// Name returns the backend name (e.g., "livekit", "mock").
	Name() string

	// Close releases all resources.
	// After Close, Write returns io.ErrClosedPipe.
	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// ChunksWritten is the total number of chunks written.
	ChunksWritten int64 `json:"chunks_written"`

	// SamplesWritten is the total number of samples written.
	SamplesWritten int64 `json:"samples_written"`

	// Clears is the number of times buffered audio was discarded.
	Clears int64 `json:"clears"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
