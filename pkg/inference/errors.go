package inference

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoModel                = errors.New("inference: model required")
	ErrProviderUnavailable    = errors.New("inference: provider unavailable")
	ErrStreamClosed           = errors.New("inference: stream closed")
	ErrEmbeddingsNotSupported = errors.New("inference: embeddings not supported by provider")
	ErrEmptyEmbedding         = errors.New("inference: empty embedding")
)

// codeContextLength is the error code OpenAI-compatible servers return when
// the prompt does not fit the model's context window.
const codeContextLength = "context_length_exceeded"

// APIError is a non-2xx answer from the model server. Code is the
// machine-readable error code when the server sends one.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	status := fmt.Sprintf("status %d", e.StatusCode)
	if e.Code != "" {
		status += " " + e.Code
	}
	return fmt.Sprintf("inference [%s]: %s: %s", e.Provider, status, e.Message)
}

func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// IsRetryable reports whether the same request may succeed later.
func (e *APIError) IsRetryable() bool { return e.IsRateLimited() || e.IsServerError() }

// IsContextLength reports whether the conversation outgrew the model's
// context window. Some servers only say so in the message.
func (e *APIError) IsContextLength() bool {
	if e.Code == codeContextLength {
		return true
	}
	return e.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(e.Message), "maximum context length")
}

// ProviderError tags an error with the client that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError returns nil for a nil err.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// IsRetryable reports whether err wraps a retryable APIError.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRetryable()
}

// IsContextLength reports whether err wraps a context-window APIError.
func IsContextLength(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsContextLength()
}
