// Package session runs one phone call from room join to hangup.
//
// A Session joins the call's room, binds the first participant that shows
// up, starts a turn.Controller for them and greets them. It ends when the
// agent calls end_call, the caller leaves, the transport drops, nobody joins
// in time, or an operator hangs up. Hangup runs exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-callagent/pkg/audioio"
	"github.com/teslashibe/go-callagent/pkg/inference"
	"github.com/teslashibe/go-callagent/pkg/participant"
	"github.com/teslashibe/go-callagent/pkg/persona"
	"github.com/teslashibe/go-callagent/pkg/stt"
	"github.com/teslashibe/go-callagent/pkg/telephony"
	"github.com/teslashibe/go-callagent/pkg/tools"
	"github.com/teslashibe/go-callagent/pkg/tts"
	"github.com/teslashibe/go-callagent/pkg/turn"
	"github.com/teslashibe/go-callagent/pkg/vad"
)

const hangupTimeout = 5 * time.Second

var (
	ErrAlreadyStarted = errors.New("session: already started")
	ErrNoDialer       = errors.New("session: no dialer")
)

// Transport is a joined room.
type Transport interface {
	Events() <-chan participant.Event
	Bind(identity string)
	Audio() (audioio.Source, audioio.Sink)
	Close() error
}

// Dialer joins the named room.
type Dialer func(ctx context.Context, roomName string) (Transport, error)

// Deps are shared by every session.
type Deps struct {
	Dial      Dialer
	Telephony telephony.Connector
	LLM       inference.Provider
	TTS       tts.Provider
	STT       stt.Provider

	// Tools builds the toolset for one call. Nil runs without tools.
	Tools func(call tools.Call) turn.Toolset

	// TurnDetector decides when a transcript is a finished turn. It must
	// match the call language. Nil uses the combined word lists.
	TurnDetector vad.TurnDetector
}

// Config tunes the call lifecycle.
type Config struct {
	Turn    turn.Config
	Profile persona.Profile

	GreetingDelay      time.Duration
	ParticipantTimeout time.Duration

	// FarewellTimeout bounds how long End waits for the goodbye to play.
	FarewellTimeout time.Duration
	FarewellPause   time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the production lifecycle timings.
func DefaultConfig() Config {
	return Config{
		Turn:               turn.DefaultConfig(),
		Profile:            persona.DefaultProfile(),
		GreetingDelay:      time.Second,
		ParticipantTimeout: 60 * time.Second,
		FarewellTimeout:    10 * time.Second,
		FarewellPause:      500 * time.Millisecond,
		Logger:             slog.Default(),
	}
}

// Session is one call.
type Session struct {
	id     string
	room   string
	cfg    Config
	deps   Deps
	logger *slog.Logger

	state   atomic.Int32
	started atomic.Bool
	created time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	hangupOnce sync.Once
	hangupErr  error
	endOnce    sync.Once
	endErr     error

	mu          sync.Mutex
	transport   Transport
	participant string
	agent       *turn.Controller
	reason      string
	err         error

	onEvent func(Event)
}

// New creates a session for roomName. Nothing happens until Run.
func New(roomName string, cfg Config, deps Deps) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	id := uuid.NewString()
	s := &Session{
		id:      id,
		room:    roomName,
		cfg:     cfg,
		deps:    deps,
		logger:  cfg.Logger.With("component", "session", "session", id, "room", roomName),
		created: time.Now(),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// OnEvent sets the lifecycle observer. Set it before Run.
func (s *Session) OnEvent(fn func(Event)) { s.onEvent = fn }

func (s *Session) ID() string { return s.id }

// Room implements tools.Call.
func (s *Session) Room() string { return s.room }

// Participant implements tools.Call.
func (s *Session) Participant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session is terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Agent returns the turn controller, or nil before a participant joined.
func (s *Session) Agent() *turn.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Info is a snapshot for listings.
type Info struct {
	ID          string    `json:"id"`
	Room        string    `json:"room"`
	State       string    `json:"state"`
	Participant string    `json:"participant,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Turns       int       `json:"turns"`
	AvgLatency  string    `json:"avg_latency,omitempty"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:          s.id,
		Room:        s.room,
		State:       s.State().String(),
		Participant: s.participant,
		Reason:      s.reason,
		CreatedAt:   s.created,
	}
	agent := s.agent
	s.mu.Unlock()

	if agent != nil {
		m := agent.Metrics()
		if info.Turns = m.Turns(); info.Turns > 0 {
			info.AvgLatency = m.Average().TotalLatency.String()
		}
	}
	return info
}

// Run drives the call until it is terminated. The returned error is the
// cause of an abnormal end, or nil.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.terminate()

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	if s.deps.Dial == nil {
		s.fail("dial", ErrNoDialer)
		return ErrNoDialer
	}

	s.logger.Info("joining room")
	transport, err := s.deps.Dial(s.ctx, s.room)
	if err != nil {
		err = fmt.Errorf("join room %s: %w", s.room, err)
		s.fail("dial", err)
		return err
	}
	s.mu.Lock()
	s.transport = transport
	s.mu.Unlock()
	s.setState(AwaitingParticipant)

	timeout := time.NewTimer(s.cfg.ParticipantTimeout)
	defer timeout.Stop()

	var agentDone chan error
	events := transport.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setReason("cancelled")
			s.hangup()
			return s.cause()

		case <-timeout.C:
			if s.Participant() == "" {
				s.logger.Warn("no participant joined", "timeout", s.cfg.ParticipantTimeout)
				s.setReason("participant timeout")
				s.hangup()
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				s.setReason("transport closed")
				s.hangup()
				continue
			}
			if done := s.handleRoomEvent(ev); done != nil {
				agentDone = done
				timeout.Stop()
			}

		case err := <-agentDone:
			agentDone = nil
			if err != nil && s.ctx.Err() == nil {
				s.fail("agent", err)
			}
			s.setReason("agent stopped")
			s.hangup()
		}
	}
}

// handleRoomEvent returns the agent's exit channel when ev started it.
func (s *Session) handleRoomEvent(ev participant.Event) chan error {
	switch ev.Type {
	case participant.Joined:
		if s.Participant() != "" || s.State() != AwaitingParticipant {
			s.logger.Info("ignoring extra participant", "participant", ev.Identity)
			return nil
		}
		done, err := s.activate(ev.Identity)
		if err != nil {
			s.fail("start agent", err)
			s.hangup()
			return nil
		}
		return done

	case participant.Left:
		if ev.Identity != "" && ev.Identity == s.Participant() {
			s.logger.Info("participant left", "participant", ev.Identity)
			s.setReason("participant left")
			s.hangup()
		}

	case participant.Disconnected:
		s.setReason("transport lost")
		s.hangup()
	}
	return nil
}

// activate binds identity and starts the conversation.
func (s *Session) activate(identity string) (chan error, error) {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	transport.Bind(identity)
	source, sink := transport.Audio()

	var toolset turn.Toolset
	if s.deps.Tools != nil {
		toolset = s.deps.Tools(s)
	}
	cfg := s.cfg.Turn
	cfg.Logger = s.logger
	agent, err := turn.New(cfg, turn.Deps{
		LLM:    s.deps.LLM,
		TTS:    s.deps.TTS,
		STT:    s.deps.STT,
		Tools:  toolset,
		Turn:   s.deps.TurnDetector,
		Source: source,
		Sink:   sink,
	})
	if err != nil {
		return nil, err
	}
	agent.OnStateChange(func(from, to turn.State) {
		s.emit(Event{Type: EventTurnState, State: to.String()})
	})
	agent.OnTranscript(func(text string, final bool) {
		if final {
			s.emit(Event{Type: EventTranscript, Text: text})
		}
	})
	agent.OnToolCall(func(inv tools.Invocation, res tools.Result) {
		s.emit(Event{Type: EventToolCall, Tool: inv.Name, Text: res.Text, Error: string(res.Kind)})
	})

	s.mu.Lock()
	s.participant = identity
	s.agent = agent
	s.mu.Unlock()
	s.setState(Active)
	s.logger.Info("participant bound", "participant", identity, "sip", participant.IsSIP(identity))

	done := make(chan error, 1)
	go func() { done <- agent.Run(s.ctx) }()
	go s.greet(agent)
	return done, nil
}

func (s *Session) greet(agent *turn.Controller) {
	select {
	case <-agent.Ready():
	case <-s.ctx.Done():
		return
	}
	if s.cfg.GreetingDelay > 0 {
		t := time.NewTimer(s.cfg.GreetingDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.ctx.Done():
			return
		}
	}
	if s.State() != Active {
		return
	}
	s.logger.Info("greeting caller")
	agent.GenerateReply(s.cfg.Profile.Greeting)
}

// End says goodbye and hangs up. It implements tools.Call. Later calls
// return the first call's result.
func (s *Session) End(ctx context.Context) error {
	s.endOnce.Do(func() {
		s.endErr = s.end(context.WithoutCancel(ctx))
	})
	return s.endErr
}

func (s *Session) end(ctx context.Context) error {
	if !s.transition(Active, Ending) {
		s.logger.Info("end requested outside an active call", "state", s.State())
		return s.Hangup(ctx)
	}
	s.setReason("agent ended call")

	if agent := s.Agent(); agent != nil {
		speech := agent.GenerateReply(s.cfg.Profile.Farewell, turn.NotInterruptible(), turn.NoTools())
		wctx, cancel := context.WithTimeout(ctx, s.cfg.FarewellTimeout)
		if err := speech.Wait(wctx); err != nil {
			s.logger.Warn("farewell playout not confirmed", "error", err)
		}
		cancel()
	}
	if s.cfg.FarewellPause > 0 {
		time.Sleep(s.cfg.FarewellPause)
	}
	return s.Hangup(ctx)
}

// Hangup tears the call down once. Room deletion ends the call for every
// participant; when it fails the transport is closed instead. Every call
// returns the first call's error.
func (s *Session) Hangup(ctx context.Context) error {
	s.hangupOnce.Do(func() {
		s.transition(Active, Ending)
		s.transition(AwaitingParticipant, Ending)
		s.transition(Connecting, Ending)
		s.logger.Info("hanging up", "reason", s.Reason())

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hangupTimeout)
		defer cancel()

		var err error
		if s.deps.Telephony == nil {
			err = errors.New("session: no telephony connector")
		} else {
			err = s.deps.Telephony.DeleteRoom(dctx, s.room)
		}
		if err != nil {
			s.logger.Warn("room deletion failed, closing transport", "error", err)
			s.hangupErr = err
			s.closeTransport()
		}
		s.cancel()
	})
	return s.hangupErr
}

func (s *Session) hangup() {
	_ = s.Hangup(context.Background())
}

func (s *Session) closeTransport() {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		s.logger.Warn("transport close failed", "error", err)
	}
}

// terminate runs when Run returns.
func (s *Session) terminate() {
	s.cancel()
	if agent := s.Agent(); agent != nil {
		select {
		case <-agent.Done():
		case <-time.After(hangupTimeout):
			s.logger.Warn("agent did not stop")
		}
	}
	s.closeTransport()
	s.setState(Terminated)
	info := s.Info()
	s.logger.Info("session terminated", "reason", info.Reason, "turns", info.Turns, "duration", time.Since(s.created).Round(time.Millisecond))
	close(s.done)
}

func (s *Session) fail(stage string, err error) {
	s.logger.Error("session failed", "stage", stage, "error", err)
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	if s.reason == "" {
		s.reason = stage + " failed"
	}
	s.mu.Unlock()
	s.emit(Event{Type: EventError, Error: err.Error()})
}

func (s *Session) cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reason is why the session ended, or "" while it runs.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// setReason keeps the first reason.
func (s *Session) setReason(reason string) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
}

func (s *Session) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.logger.Info("session state", "from", from, "to", to)
	s.emit(Event{Type: EventState, State: to.String()})
	return true
}

// setState moves forward only.
func (s *Session) setState(to State) {
	for {
		from := s.State()
		if from >= to {
			return
		}
		if s.transition(from, to) {
			return
		}
	}
}

func (s *Session) emit(ev Event) {
	if s.onEvent == nil {
		return
	}
	ev.Session = s.id
	ev.Room = s.room
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.onEvent(ev)
}

var _ tools.Call = (*Session)(nil)
