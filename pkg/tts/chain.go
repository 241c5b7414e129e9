package tts

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain implements Provider by trying multiple providers in order.
// The first successful provider wins; if all fail, returns an aggregate error.
//
// A streaming provider may accept a request and fail on the first read (for
// example when its connection drops). Chain streams fall back to the next
// provider as long as no audio has been returned to the caller.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain that tries providers in order.
// At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}

	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "tts.chain"),
	}, nil
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "tts.chain")
	return chain, nil
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error

	for i, p := range c.providers {
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded",
					"provider_index", i,
					"chars", len(text),
				)
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !fallbackable(err) {
			return nil, err
		}
		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next",
			"provider_index", i,
			"error", err,
		)
	}

	return nil, &ChainError{Errors: errs}
}

// Stream opens a stream on the first provider that accepts the request.
func (c *Chain) Stream(ctx context.Context, text string) (AudioStream, error) {
	s := &chainStream{chain: c, ctx: ctx, text: text}
	if err := s.open(0); err != nil {
		return nil, err
	}
	return s, nil
}

// chainStream reads from one provider and moves to the next on an error
// that happens before any audio was delivered.
type chainStream struct {
	chain *Chain
	ctx   context.Context
	text  string

	index     int
	current   AudioStream
	delivered bool
	errs      []error
}

// open starts a stream on the first provider at or after from.
func (s *chainStream) open(from int) error {
	for i := from; i < len(s.chain.providers); i++ {
		stream, err := s.chain.providers[i].Stream(s.ctx, s.text)
		if err == nil {
			if i > 0 {
				s.chain.logger.Info("fallback provider stream succeeded",
					"provider_index", i,
					"chars", len(s.text),
				)
			}
			s.index = i
			s.current = stream
			return nil
		}

		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if !fallbackable(err) {
			return err
		}
		s.errs = append(s.errs, err)
		s.chain.logger.Warn("provider stream failed, trying next",
			"provider_index", i,
			"error", err,
		)
	}
	return &ChainError{Errors: s.errs}
}

// Read returns the next chunk from the active provider.
func (s *chainStream) Read() ([]byte, error) {
	for {
		chunk, err := s.current.Read()
		if err == nil {
			if chunk != nil {
				s.delivered = true
			}
			return chunk, nil
		}
		if s.delivered || s.ctx.Err() != nil || !fallbackable(err) {
			return nil, err
		}

		s.errs = append(s.errs, err)
		s.chain.logger.Warn("provider stream broke before audio, trying next",
			"provider_index", s.index,
			"error", err,
		)
		s.current.Close()
		if openErr := s.open(s.index + 1); openErr != nil {
			return nil, openErr
		}
	}
}

// Close closes the active stream.
func (s *chainStream) Close() error {
	return s.current.Close()
}

// Format returns the active stream's format.
func (s *chainStream) Format() AudioFormat {
	return s.current.Format()
}

// Health checks all providers and returns error if all are unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, p := range c.providers {
		if err := p.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return fmt.Errorf("all %d providers unhealthy: %w", len(c.providers), lastErr)
	}

	c.logger.Debug("health check complete",
		"healthy", healthy,
		"total", len(c.providers),
	)

	return nil
}

// Close closes all providers.
func (c *Chain) Close() error {
	var lastErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Providers returns the list of providers in the chain.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// ChainError aggregates errors from all providers in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "tts chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: all %d providers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

// Verify Chain implements Provider at compile time.
var _ Provider = (*Chain)(nil)
