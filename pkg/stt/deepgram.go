package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	deepgramURL      = "wss://api.deepgram.com/v1/listen"
	providerDeepgram = "deepgram"
)

// Deepgram implements Provider with Deepgram live transcription.
type Deepgram struct {
	config *Config
	logger *slog.Logger
	dialer websocket.Dialer
}

// NewDeepgram creates a Deepgram provider.
func NewDeepgram(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Deepgram{
		config: cfg,
		logger: cfg.Logger.With("component", "stt.deepgram"),
		dialer: websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}, nil
}

// listenURL builds the websocket URL with recognition parameters.
func (d *Deepgram) listenURL() (string, error) {
	u, err := url.Parse(d.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.config.Model)
	q.Set("language", d.config.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", strconv.FormatBool(d.config.InterimResults))
	q.Set("vad_events", strconv.FormatBool(d.config.VADEvents))
	q.Set("punctuate", strconv.FormatBool(d.config.Punctuate))
	if d.config.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(d.config.UtteranceEndMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Stream opens a live transcription websocket.
func (d *Deepgram) Stream(ctx context.Context) (Stream, error) {
	endpoint, err := d.listenURL()
	if err != nil {
		return nil, WrapError(providerDeepgram, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.config.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body), Provider: providerDeepgram}
		}
		return nil, WrapError(providerDeepgram, fmt.Errorf("websocket dial: %w", err))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:     conn,
		language: d.config.Language,
		events:   make(chan Event, d.config.EventBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   d.logger,
	}

	go s.readLoop(ctx)
	go s.keepaliveLoop(ctx, d.config.KeepAliveInterval)
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	d.logger.Debug("stream opened", "model", d.config.Model, "language", d.config.Language)
	return s, nil
}

// Close releases resources. Streams are closed individually.
func (d *Deepgram) Close() error {
	return nil
}

// deepgramStream is one live websocket session.
type deepgramStream struct {
	conn     *websocket.Conn
	language string
	events   chan Event
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *slog.Logger

	writeMu  sync.Mutex
	lastSend time.Time

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Send writes a binary audio frame.
func (s *deepgramStream) Send(pcm []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.lastSend = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return WrapError(providerDeepgram, fmt.Errorf("send audio: %w", err))
	}
	return nil
}

func (s *deepgramStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Events implements Stream.
func (s *deepgramStream) Events() <-chan Event {
	return s.events
}

// Err implements Stream.
func (s *deepgramStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *deepgramStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Close asks the server to flush, then tears the session down.
func (s *deepgramStream) Close() error {
	_ = s.writeJSON(map[string]string{"type": "CloseStream"})
	s.cancel()
	<-s.done
	return nil
}

func (s *deepgramStream) shutdown() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
		close(s.done)
	})
}

// keepaliveLoop sends KeepAlive messages while no audio is flowing.
func (s *deepgramStream) keepaliveLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			idle := time.Since(s.lastSend) >= interval
			s.writeMu.Unlock()
			if !idle {
				continue
			}
			if err := s.writeJSON(map[string]string{"type": "KeepAlive"}); err != nil {
				s.logger.Warn("keepalive failed", "error", err)
				return
			}
		}
	}
}

// deepgramMessage covers the fields of every server message we consume.
type deepgramMessage struct {
	Type        string  `json:"type"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Timestamp   float64 `json:"timestamp"`
	LastWordEnd float64 `json:"last_word_end"`

	Channel json.RawMessage `json:"channel"`

	// Error frames
	Description string `json:"description"`
	Message     string `json:"message"`
}

type deepgramChannel struct {
	Alternatives []struct {
		Transcript string   `json:"transcript"`
		Confidence float64  `json:"confidence"`
		Languages  []string `json:"languages"`
	} `json:"alternatives"`
}

func seconds(f float64) time.Duration {
	return time.Duration(math.Round(f * float64(time.Second)))
}

// readLoop decodes server messages into Events until the socket closes.
func (s *deepgramStream) readLoop(ctx context.Context) {
	defer close(s.events)
	defer s.cancel()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error", "error", err)
				s.setErr(WrapError(providerDeepgram, err))
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("failed to parse message", "error", err)
			continue
		}

		ev, ok := s.decode(msg)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *deepgramStream) decode(msg deepgramMessage) (Event, bool) {
	now := time.Now()
	switch msg.Type {
	case "Results":
		var ch deepgramChannel
		if err := json.Unmarshal(msg.Channel, &ch); err != nil || len(ch.Alternatives) == 0 {
			return Event{}, false
		}
		alt := ch.Alternatives[0]
		ev := Event{
			Type:        EventInterim,
			Text:        alt.Transcript,
			Language:    s.language,
			Start:       seconds(msg.Start),
			Duration:    seconds(msg.Duration),
			Confidence:  alt.Confidence,
			SpeechFinal: msg.SpeechFinal,
			At:          now,
		}
		if len(alt.Languages) > 0 {
			ev.Language = alt.Languages[0]
		}
		if msg.IsFinal {
			ev.Type = EventFinal
		} else if ev.Text == "" {
			return Event{}, false
		}
		return ev, true

	case "SpeechStarted":
		return Event{Type: EventSpeechStarted, Language: s.language, Start: seconds(msg.Timestamp), At: now}, true

	case "UtteranceEnd":
		return Event{Type: EventUtteranceEnd, Language: s.language, Start: seconds(msg.LastWordEnd), At: now}, true

	case "Error":
		text := msg.Description
		if text == "" {
			text = msg.Message
		}
		s.logger.Error("server error", "message", text)
		s.setErr(WrapError(providerDeepgram, fmt.Errorf("server error: %s", text)))
		return Event{}, false

	default:
		return Event{}, false
	}
}

// Verify Deepgram implements Provider at compile time.
var _ Provider = (*Deepgram)(nil)
