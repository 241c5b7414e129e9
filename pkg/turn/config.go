package turn

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-callagent/pkg/vad"
)

var (
	ErrInvalidConfig = errors.New("turn: invalid config")
	ErrMissingDeps   = errors.New("turn: missing collaborator")
)

// Config tunes turn taking.
type Config struct {
	// Instructions is the system prompt sent with every model call.
	Instructions string

	// MinEndpointingDelay is the silence after which a semantically
	// complete transcript ends the turn.
	MinEndpointingDelay time.Duration

	// MaxEndpointingDelay is the silence after which the turn ends
	// regardless of the transcript.
	MaxEndpointingDelay time.Duration

	// MinInterruptionDuration and MinInterruptionWords must both be
	// reached before caller speech interrupts the assistant.
	MinInterruptionDuration time.Duration
	MinInterruptionWords    int

	// MaxToolSteps caps tool rounds per turn. The call after the last
	// round is made without tools.
	MaxToolSteps int

	// PreemptiveGeneration drafts a reply from final transcripts before
	// the turn ends.
	PreemptiveGeneration bool

	// MaxHistory caps the conversation messages sent with each model call.
	// Zero sends the whole call.
	MaxHistory int

	// Model and Temperature are passed to the language model.
	Model       string
	Temperature float64

	// OutputRate is the sample rate written to the sink.
	OutputRate int

	// VAD tunes speech detection on caller audio.
	VAD vad.Config

	Logger *slog.Logger
}

// DefaultConfig returns telephony defaults.
func DefaultConfig() Config {
	return Config{
		MinEndpointingDelay:     50 * time.Millisecond,
		MaxEndpointingDelay:     1500 * time.Millisecond,
		MinInterruptionDuration: 30 * time.Millisecond,
		MinInterruptionWords:    1,
		MaxToolSteps:            3,
		PreemptiveGeneration:    true,
		MaxHistory:              40,
		Temperature:             0.7,
		OutputRate:              48000,
		VAD:                     vad.DefaultConfig(),
		Logger:                  slog.Default(),
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	switch {
	case c.MinEndpointingDelay < 0 || c.MaxEndpointingDelay <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("endpointing delays must be positive"))
	case c.MinEndpointingDelay > c.MaxEndpointingDelay:
		return errors.Join(ErrInvalidConfig, errors.New("min endpointing delay exceeds max"))
	case c.MinInterruptionDuration < 0 || c.MinInterruptionWords < 0:
		return errors.Join(ErrInvalidConfig, errors.New("interruption thresholds must not be negative"))
	case c.MaxToolSteps < 1:
		return errors.Join(ErrInvalidConfig, errors.New("max tool steps must be at least 1"))
	case c.MaxHistory < 0:
		return errors.Join(ErrInvalidConfig, errors.New("max history must not be negative"))
	case c.OutputRate <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("output rate must be positive"))
	}
	return nil
}
