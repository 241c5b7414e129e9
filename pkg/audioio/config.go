// Package audioio carries PCM16 audio between the call transport and the
// speech collaborators.
//
// Backends:
//   - LiveKit - caller audio decoded from the SIP participant's Opus track
//   - Mock - CI/Testing without a media server
//
// Each collaborator works at its own rate: the transport runs at 48kHz,
// speech-to-text expects 16kHz and text-to-speech produces 24kHz. Chunks
// carry their rate so conversions happen at the edges.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendLiveKit reads and writes audio through a LiveKit room.
	BackendLiveKit Backend = "livekit"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Sample rates used across the call pipeline.
const (
	RateTransport = 48000
	RateSTT       = 16000
	RateTTS       = 24000
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 48000 (Opus over WebRTC)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// FrameDuration is the size of one transport frame.
	// Default: 20ms (960 samples at 48kHz)
	FrameDuration time.Duration `yaml:"frame_duration" json:"frame_duration"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendLiveKit,
		SampleRate:    RateTransport,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSize returns the number of samples per channel in one frame.
func (c *Config) FrameSize() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

// FrameBytes returns the size of a frame in bytes (int16 samples).
func (c *Config) FrameBytes() int {
	return c.FrameSize() * c.Channels * 2
}
