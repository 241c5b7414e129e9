package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL       = "wss://api.cartesia.ai/tts/websocket"
	providerCartesiaWS  = "cartesia_ws"
	keepaliveInterval   = 30 * time.Second
	wsStreamBuffer      = 256
	wsHandshakeDeadline = 10 * time.Second
)

// CartesiaWS implements streaming TTS over a single Cartesia websocket.
// Every Stream call is a generation context on the shared connection, so
// cancelling one utterance leaves the connection warm for the next. The
// connection is dialed lazily and redialed after a failure.
type CartesiaWS struct {
	config *Config
	logger *slog.Logger
	dialer websocket.Dialer

	connMu  sync.Mutex
	conn    *websocket.Conn
	streams map[string]*wsStream
	closed  bool

	writeMu sync.Mutex
}

// NewCartesiaWS creates a new websocket-based Cartesia TTS provider.
func NewCartesiaWS(opts ...Option) (*CartesiaWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	return &CartesiaWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.cartesia_ws"),
		dialer:  websocket.Dialer{HandshakeTimeout: wsHandshakeDeadline},
		streams: make(map[string]*wsStream),
	}, nil
}

// Connect establishes the websocket connection ahead of the first
// utterance.
func (c *CartesiaWS) Connect(ctx context.Context) error {
	_, err := c.connection(ctx)
	return err
}

// connection returns the live connection, dialing if needed.
func (c *CartesiaWS) connection(ctx context.Context) (*websocket.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed {
		return nil, ErrStreamClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	headers := http.Header{}
	headers.Set("X-API-Key", c.config.APIKey)
	headers.Set("Cartesia-Version", c.config.Version)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.WSURL, headers)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(body)),
				Provider:   providerCartesiaWS,
			}
		}
		return nil, WrapError(providerCartesiaWS, fmt.Errorf("websocket dial: %w", err))
	}

	c.conn = conn
	go c.readLoop(conn)
	go c.keepaliveLoop(conn)

	c.logger.Info("websocket connected", "voice", c.config.VoiceID, "model", c.config.ModelID)
	return conn, nil
}

func (c *CartesiaWS) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Stream starts a generation context for text.
func (c *CartesiaWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	s := &wsStream{
		id:      uuid.NewString(),
		owner:   c,
		ctx:     ctx,
		events:  make(chan wsEvent, wsStreamBuffer),
		closed:  make(chan struct{}),
		broken:  make(chan struct{}),
		format:  PCMFormat(c.config.OutputFormat),
		timeout: c.config.StreamTimeout,
	}

	c.connMu.Lock()
	c.streams[s.id] = s
	c.connMu.Unlock()

	req := newCartesiaRequest(c.config, text)
	req.ContextID = s.id
	if err := c.writeJSON(conn, req); err != nil {
		c.unregister(s.id)
		c.drop(conn, err)
		return nil, WrapError(providerCartesiaWS, fmt.Errorf("send request: %w", err))
	}

	c.logger.Debug("generation started", "context_id", s.id, "chars", len(text))
	return s, nil
}

// Synthesize streams text and collects the complete audio.
func (c *CartesiaWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()
	stream, err := c.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var audio []byte
	var latency int64 = -1
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		if latency < 0 {
			latency = time.Since(start).Milliseconds()
		}
		audio = append(audio, chunk...)
	}

	format := stream.Format()
	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: max(latency, 0),
		Duration:  PCMDuration(len(audio), format.SampleRate),
	}, nil
}

// Health checks that the websocket can be opened.
func (c *CartesiaWS) Health(ctx context.Context) error {
	return c.Connect(ctx)
}

// IsConnected returns true if the websocket is connected.
func (c *CartesiaWS) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Close terminates the connection and fails open streams.
func (c *CartesiaWS) Close() error {
	c.connMu.Lock()
	c.closed = true
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.drop(conn, ErrStreamClosed)
	}
	return nil
}

// drop closes conn if it is still current and fails its streams.
func (c *CartesiaWS) drop(conn *websocket.Conn, cause error) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	streams := c.streams
	c.streams = make(map[string]*wsStream)
	c.connMu.Unlock()

	conn.Close()
	for _, s := range streams {
		s.fail(cause)
	}
}

func (c *CartesiaWS) unregister(id string) {
	c.connMu.Lock()
	delete(c.streams, id)
	c.connMu.Unlock()
}

func (c *CartesiaWS) lookup(id string) *wsStream {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.streams[id]
}

// cancel stops server-side generation for a context.
func (c *CartesiaWS) cancel(id string) {
	c.unregister(id)

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	msg := map[string]any{"context_id": id, "cancel": true}
	if err := c.writeJSON(conn, msg); err != nil {
		c.logger.Warn("cancel failed", "context_id", id, "error", err)
	}
}

// cartesiaMessage is a server message on the websocket.
type cartesiaMessage struct {
	Type       string `json:"type"`
	ContextID  string `json:"context_id"`
	Data       string `json:"data"`
	Done       bool   `json:"done"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

// readLoop routes server messages to their streams.
func (c *CartesiaWS) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("websocket read error", "error", err)
			}
			c.drop(conn, WrapError(providerCartesiaWS, fmt.Errorf("connection lost: %w", err)))
			return
		}

		var msg cartesiaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("failed to parse message", "error", err)
			continue
		}

		s := c.lookup(msg.ContextID)
		if s == nil {
			// Late frames for a cancelled context.
			continue
		}

		switch msg.Type {
		case "chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				c.logger.Warn("failed to decode audio", "error", err)
				continue
			}
			s.deliver(wsEvent{data: audio})
			if msg.Done {
				c.unregister(s.id)
				s.deliver(wsEvent{done: true})
			}
		case "done":
			c.unregister(s.id)
			s.deliver(wsEvent{done: true})
		case "error":
			c.unregister(s.id)
			s.deliver(wsEvent{err: &APIError{
				StatusCode: msg.StatusCode,
				Message:    msg.Error,
				Provider:   providerCartesiaWS,
			}})
		}
	}
}

// keepaliveLoop sends periodic pings to maintain the connection.
func (c *CartesiaWS) keepaliveLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.connMu.Lock()
		current := c.conn == conn
		c.connMu.Unlock()
		if !current {
			return
		}
		deadline := time.Now().Add(5 * time.Second)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			c.logger.Warn("keepalive ping failed", "error", err)
			c.drop(conn, WrapError(providerCartesiaWS, err))
			return
		}
	}
}

type wsEvent struct {
	data []byte
	done bool
	err  error
}

// wsStream is one generation context.
type wsStream struct {
	id      string
	owner   *CartesiaWS
	ctx     context.Context
	events  chan wsEvent
	format  AudioFormat
	timeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once

	broken   chan struct{}
	failOnce sync.Once
	failErr  error

	finished bool
}

func (s *wsStream) deliver(ev wsEvent) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *wsStream) fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		close(s.broken)
	})
}

// Read returns the next audio chunk, or nil once generation is done.
func (s *wsStream) Read() ([]byte, error) {
	if s.finished {
		return nil, nil
	}

	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ev := <-s.events:
		return s.handle(ev)
	default:
	}

	select {
	case ev := <-s.events:
		return s.handle(ev)
	case <-s.broken:
		s.finished = true
		return nil, s.failErr
	case <-s.closed:
		s.finished = true
		return nil, ErrStreamClosed
	case <-s.ctx.Done():
		s.Close()
		return nil, s.ctx.Err()
	case <-timeout:
		s.Close()
		return nil, ErrStreamTimeout
	}
}

func (s *wsStream) handle(ev wsEvent) ([]byte, error) {
	switch {
	case ev.err != nil:
		s.finished = true
		return nil, ev.err
	case ev.done:
		s.finished = true
		return nil, nil
	}
	return ev.data, nil
}

// Close cancels generation if it is still running.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		if s.owner.lookup(s.id) != nil {
			s.owner.cancel(s.id)
		}
		close(s.closed)
	})
	return nil
}

// Format returns the audio format.
func (s *wsStream) Format() AudioFormat {
	return s.format
}

// Verify CartesiaWS implements Provider at compile time.
var _ Provider = (*CartesiaWS)(nil)
