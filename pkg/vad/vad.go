// Package vad detects speech in caller audio and decides when a transcript
// reads as a finished turn.
//
// Detector is an energy detector over PCM16 frames. It maps frame RMS to a
// speech probability and applies the activation threshold with minimum
// speech and silence durations, so short clicks never start speech and short
// pauses never end it.
//
// TurnDetector is the semantic half of endpointing: it inspects transcript
// text and reports whether the caller most likely finished their thought.
package vad

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-callagent/pkg/audioio"
)

var ErrInvalidConfig = errors.New("vad: invalid config")

// Config tunes the detector.
type Config struct {
	// ActivationThreshold is the speech probability that starts speech.
	ActivationThreshold float64

	// DeactivationThreshold is the probability below which a frame counts
	// as silence. Zero uses 75% of ActivationThreshold.
	DeactivationThreshold float64

	// MinSpeech is how long probability must stay above the activation
	// threshold before speech starts.
	MinSpeech time.Duration

	// MinSilence is how long silence must last before speech ends.
	MinSilence time.Duration

	// ReferenceLevel is the RMS that maps to probability 1.
	ReferenceLevel float64

	Logger *slog.Logger
}

// DefaultConfig returns telephony defaults.
func DefaultConfig() Config {
	return Config{
		ActivationThreshold: 0.2,
		MinSpeech:           50 * time.Millisecond,
		MinSilence:          150 * time.Millisecond,
		ReferenceLevel:      0.05,
		Logger:              slog.Default(),
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	switch {
	case c.ActivationThreshold <= 0 || c.ActivationThreshold >= 1:
		return errors.Join(ErrInvalidConfig, errors.New("activation threshold must be in (0, 1)"))
	case c.DeactivationThreshold < 0 || c.DeactivationThreshold > c.ActivationThreshold:
		return errors.Join(ErrInvalidConfig, errors.New("deactivation threshold must be in [0, activation]"))
	case c.MinSpeech < 0 || c.MinSilence < 0:
		return errors.Join(ErrInvalidConfig, errors.New("durations must not be negative"))
	case c.ReferenceLevel <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("reference level must be positive"))
	}
	return nil
}

// EventType classifies detector events.
type EventType int

const (
	SpeechStart EventType = iota
	SpeechEnd
)

func (t EventType) String() string {
	if t == SpeechStart {
		return "speech_start"
	}
	return "speech_end"
}

// Event is a speech boundary.
type Event struct {
	Type EventType

	// At is the boundary's offset in the processed audio.
	At time.Duration

	// Speech is the length of the speech segment (SpeechEnd only).
	Speech time.Duration

	// Silence is the trailing silence that ended the segment (SpeechEnd only).
	Silence time.Duration

	// Probability of the frame that triggered the event.
	Probability float64
}

// Detector is a single-goroutine energy VAD.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	offset      time.Duration
	speaking    bool
	speechRun   time.Duration
	silenceRun  time.Duration
	speechStart time.Duration
}

// NewDetector creates a detector.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DeactivationThreshold == 0 {
		cfg.DeactivationThreshold = cfg.ActivationThreshold * 0.75
	}
	return &Detector{cfg: cfg, logger: cfg.Logger.With("component", "vad.detector")}, nil
}

// Probability maps a frame's RMS to a speech probability.
func (d *Detector) Probability(samples []int16) float64 {
	p := audioio.RMS(samples) / d.cfg.ReferenceLevel
	if p > 1 {
		p = 1
	}
	return p
}

// Process consumes one frame and returns a boundary event, if any.
func (d *Detector) Process(chunk audioio.AudioChunk) (Event, bool) {
	chunk = chunk.Mono()
	dur := chunk.Duration()
	end := d.offset + dur
	defer func() { d.offset = end }()

	p := d.Probability(chunk.Samples)

	switch {
	case p >= d.cfg.ActivationThreshold:
		d.speechRun += dur
		d.silenceRun = 0
		if !d.speaking && d.speechRun >= d.cfg.MinSpeech {
			d.speaking = true
			d.speechStart = end - d.speechRun
			d.logger.Debug("speech start", "at", d.speechStart, "p", p)
			return Event{Type: SpeechStart, At: d.speechStart, Probability: p}, true
		}

	case p < d.cfg.DeactivationThreshold:
		d.silenceRun += dur
		if !d.speaking {
			d.speechRun = 0
			return Event{}, false
		}
		if d.silenceRun >= d.cfg.MinSilence {
			speechEnd := end - d.silenceRun
			ev := Event{
				Type:        SpeechEnd,
				At:          speechEnd,
				Speech:      speechEnd - d.speechStart,
				Silence:     d.silenceRun,
				Probability: p,
			}
			d.speaking = false
			d.speechRun = 0
			d.logger.Debug("speech end", "at", ev.At, "speech", ev.Speech)
			return ev, true
		}

	default:
		// Between thresholds: keep the current state.
		if d.speaking {
			d.silenceRun = 0
		}
	}
	return Event{}, false
}

// Speaking reports whether speech is in progress.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// SpeechDuration returns how long the current speech segment has lasted.
func (d *Detector) SpeechDuration() time.Duration {
	if !d.speaking {
		return 0
	}
	return d.offset - d.speechStart
}

// Reset clears all state.
func (d *Detector) Reset() {
	d.offset = 0
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
	d.speechStart = 0
}
