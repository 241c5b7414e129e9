package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-callagent/internal/httpc"
)

const (
	cartesiaBaseURL  = "https://api.cartesia.ai"
	cartesiaVersion  = "2025-04-16"
	providerCartesia = "cartesia"
)

// Cartesia model IDs
const (
	// ModelSonic3 is the current low-latency multilingual model.
	ModelSonic3 = "sonic-3"

	// ModelSonic2 is the previous generation model.
	ModelSonic2 = "sonic-2"
)

// Cartesia implements Provider over the Cartesia HTTP bytes endpoint.
// Each call is a separate request, so it keeps working when the websocket
// provider cannot connect.
type Cartesia struct {
	config  *Config
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewCartesia creates a new Cartesia HTTP provider.
func NewCartesia(opts ...Option) (*Cartesia, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	return &Cartesia{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		stream:  httpc.NewClient(0),
		logger:  cfg.Logger.With("component", "tts.cartesia"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// cartesiaVoice selects a voice by id.
type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// cartesiaOutput describes raw PCM output.
type cartesiaOutput struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaRequest is the generation payload shared by HTTP and websocket.
type cartesiaRequest struct {
	ModelID      string         `json:"model_id"`
	Transcript   string         `json:"transcript"`
	Voice        cartesiaVoice  `json:"voice"`
	Language     string         `json:"language,omitempty"`
	OutputFormat cartesiaOutput `json:"output_format"`

	// Websocket only
	ContextID  string `json:"context_id,omitempty"`
	Continue   bool   `json:"continue,omitempty"`
	AddTimings bool   `json:"add_timestamps,omitempty"`
}

func newCartesiaRequest(cfg *Config, text string) cartesiaRequest {
	return cartesiaRequest{
		ModelID:    cfg.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: cfg.VoiceID},
		Language:   cfg.Language,
		OutputFormat: cartesiaOutput{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: SampleRateFromEncoding(cfg.OutputFormat),
		},
	}
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (c *Cartesia) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	resp, err := c.doWithRetry(ctx, c.client, text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerCartesia, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	c.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", c.config.ModelID,
	)

	format := PCMFormat(c.config.OutputFormat)
	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  PCMDuration(len(audio), format.SampleRate),
	}, nil
}

// Stream returns the response body as it arrives.
func (c *Cartesia) Stream(ctx context.Context, text string) (AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	resp, err := c.doWithRetry(ctx, c.stream, text)
	if err != nil {
		return nil, err
	}
	return &httpStream{
		body:   resp.Body,
		format: PCMFormat(c.config.OutputFormat),
	}, nil
}

// Health checks API connectivity by fetching the configured voice.
func (c *Cartesia) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices/"+c.config.VoiceID, nil)
	if err != nil {
		return WrapError(providerCartesia, err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return WrapError(providerCartesia, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseCartesiaError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (c *Cartesia) Close() error {
	c.client.CloseIdleConnections()
	c.stream.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice ID.
func (c *Cartesia) VoiceID() string {
	return c.config.VoiceID
}

func (c *Cartesia) setHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", c.config.APIKey)
	req.Header.Set("Cartesia-Version", c.config.Version)
	req.Header.Set("Content-Type", "application/json")
}

// doWithRetry posts to /tts/bytes, retrying rate limits and server errors.
func (c *Cartesia) doWithRetry(ctx context.Context, client *http.Client, text string) (*http.Response, error) {
	body, err := json.Marshal(newCartesiaRequest(c.config, text))
	if err != nil {
		return nil, WrapError(providerCartesia, fmt.Errorf("marshal payload: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
		if err != nil {
			return nil, WrapError(providerCartesia, fmt.Errorf("create request: %w", err))
		}
		c.setHeaders(req)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(providerCartesia, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := parseCartesiaError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		c.logger.Warn("retrying request",
			"attempt", attempt+1,
			"status", resp.StatusCode,
		)
	}

	return nil, lastErr
}

// parseCartesiaError reads and parses an error response.
func parseCartesiaError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Error != "":
			message = errResp.Error
		case errResp.Message != "":
			message = errResp.Message
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerCartesia,
	}
}

// httpStream wraps an HTTP response body as AudioStream.
type httpStream struct {
	body   io.ReadCloser
	format AudioFormat
	buf    [4096]byte
	eof    bool
}

// Read returns the next audio chunk.
func (s *httpStream) Read() ([]byte, error) {
	if s.eof {
		return nil, nil
	}
	n, err := s.body.Read(s.buf[:])
	if err == io.EOF {
		s.eof = true
		err = nil
	}
	if err != nil {
		return nil, WrapError(providerCartesia, err)
	}
	if n == 0 {
		if s.eof {
			return nil, nil
		}
		return []byte{}, nil
	}
	chunk := make([]byte, n)
	copy(chunk, s.buf[:n])
	return chunk, nil
}

// Close stops the stream.
func (s *httpStream) Close() error {
	return s.body.Close()
}

// Format returns the audio format.
func (s *httpStream) Format() AudioFormat {
	return s.format
}

// Verify Cartesia implements Provider at compile time.
var _ Provider = (*Cartesia)(nil)
