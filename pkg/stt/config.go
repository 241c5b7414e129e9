package stt

import (
	"log/slog"
	"time"
)

// Config holds STT provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Provider credentials
	APIKey  string
	BaseURL string

	// Recognition
	Model          string
	Language       string
	SampleRate     int
	InterimResults bool
	VADEvents      bool
	Punctuate      bool

	// UtteranceEndMs asks for UtteranceEnd events after this gap (0 = off).
	UtteranceEndMs int

	// Connection
	DialTimeout       time.Duration
	KeepAliveInterval time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring STT providers.
type Option func(*Config)

// WithAPIKey sets the API key for the provider.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the default websocket URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the recognition model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLanguage sets the recognition language.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithSampleRate sets the input sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(c *Config) { c.SampleRate = rate }
}

// WithUtteranceEnd enables UtteranceEnd events after gap.
func WithUtteranceEnd(gap time.Duration) Option {
	return func(c *Config) { c.UtteranceEndMs = int(gap / time.Millisecond) }
}

// WithKeepAlive sets the keepalive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) { c.KeepAliveInterval = d }
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the live telephony defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           deepgramURL,
		Model:             "nova-2",
		Language:          "es",
		SampleRate:        16000,
		InterimResults:    true,
		VADEvents:         true,
		Punctuate:         true,
		UtteranceEndMs:    1000,
		DialTimeout:       10 * time.Second,
		KeepAliveInterval: 5 * time.Second,
		EventBuffer:       64,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	return nil
}
