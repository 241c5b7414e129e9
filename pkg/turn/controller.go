// Package turn decides who holds the floor on a call.
//
// A Controller consumes caller audio, runs it through speech-to-text and a
// voice activity detector, decides when the caller's turn has ended, asks
// the language model for a reply (running tool rounds on the way), and
// plays the reply through text-to-speech. Caller speech that passes the
// interruption thresholds cuts the reply off at once.
//
// Every state mutation happens on the goroutine running Run. Producers
// (audio, transcripts, model runs, synthesis, timers) only send events to
// it.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-callagent/pkg/audioio"
	"github.com/teslashibe/go-callagent/pkg/inference"
	"github.com/teslashibe/go-callagent/pkg/stt"
	"github.com/teslashibe/go-callagent/pkg/tools"
	"github.com/teslashibe/go-callagent/pkg/tts"
	"github.com/teslashibe/go-callagent/pkg/vad"
)

const eventBuffer = 256

var (
	ErrAlreadyRunning      = errors.New("turn: controller already running")
	ErrSourceClosed        = errors.New("turn: audio source closed")
	ErrTranscriptionClosed = errors.New("turn: transcription stream closed")
)

// Toolset exposes tools to the model.
type Toolset interface {
	Definitions() []inference.Tool
	Invoke(ctx context.Context, inv tools.Invocation) tools.Result
}

// Deps are the controller's collaborators. Tools and Turn are optional.
type Deps struct {
	LLM    inference.Provider
	TTS    tts.Provider
	STT    stt.Provider
	Tools  Toolset
	Turn   vad.TurnDetector
	Source audioio.Source
	Sink   audioio.Sink
}

func (d Deps) validate() error {
	var missing []string
	if d.LLM == nil {
		missing = append(missing, "llm")
	}
	if d.TTS == nil {
		missing = append(missing, "tts")
	}
	if d.STT == nil {
		missing = append(missing, "stt")
	}
	if d.Source == nil {
		missing = append(missing, "source")
	}
	if d.Sink == nil {
		missing = append(missing, "sink")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingDeps, strings.Join(missing, ", "))
	}
	return nil
}

// ReplyOption customizes GenerateReply.
type ReplyOption func(*replyOptions)

type replyOptions struct {
	uninterruptible bool
	noTools         bool
}

// NotInterruptible makes the reply immune to barge-in. Caller audio is
// ignored while it plays.
func NotInterruptible() ReplyOption {
	return func(o *replyOptions) { o.uninterruptible = true }
}

// NoTools makes the model answer without tools.
func NoTools() ReplyOption {
	return func(o *replyOptions) { o.noTools = true }
}

// run is one model turn in flight.
type run struct {
	id            uint64
	cancel        context.CancelFunc
	speech        *Speech
	userText      string
	committed     bool
	interruptible bool

	mu     sync.Mutex
	rounds int // tool rounds started and not yet recorded
}

// beginRound claims a tool round unless the run was cancelled.
func (r *run) beginRound(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.rounds++
	return true
}

func (r *run) endRound() {
	r.mu.Lock()
	r.rounds--
	r.mu.Unlock()
}

// stop cancels the run and reports whether a tool round is still being
// dispatched.
func (r *run) stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel()
	return r.rounds > 0
}

// draft is a preemptive model call made from final transcripts before the
// turn ended.
type draft struct {
	input  string
	cancel context.CancelFunc
	result chan draftResult
}

type draftResult struct {
	text  string
	calls bool
	err   error
}

// Controller runs turn taking for one call.
type Controller struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	writer  *writer
	metrics *MetricsCollector

	events  chan any
	running atomic.Bool
	ready   chan struct{}
	stopped chan struct{}
	state   atomic.Int32
	nextID  atomic.Uint64

	onStateChange func(from, to State)
	onTranscript  func(text string, final bool)
	onToolCall    func(inv tools.Invocation, res tools.Result)

	histMu  sync.Mutex
	history []inference.Message

	// Owned by the loop goroutine.
	runs        map[uint64]*run
	detached    map[uint64]*run
	speeches    map[uint64]*Speech
	draft       *draft
	userActive  bool
	userSpeech  time.Duration
	finals      []string
	interim     string
	carry       string
	endpointing bool
	minElapsed  bool
	endpointGen uint64
	minTimer    *time.Timer
	maxTimer    *time.Timer
}

// New creates a controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.VAD.ActivationThreshold == 0 {
		cfg.VAD = vad.DefaultConfig()
	}
	if cfg.VAD.Logger == nil {
		cfg.VAD.Logger = cfg.Logger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Turn == nil {
		deps.Turn = vad.NewTurnDetector("")
	}

	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		logger:   cfg.Logger.With("component", "turn"),
		metrics:  NewMetricsCollector(),
		events:   make(chan any, eventBuffer),
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
		runs:     make(map[uint64]*run),
		detached: make(map[uint64]*run),
		speeches: make(map[uint64]*Speech),
	}
	c.writer = newWriter(deps.Sink, cfg.OutputRate, cfg.Logger)
	c.writer.onFrame = func(*utterance) { c.metrics.MarkFirstAudio() }
	return c, nil
}

// OnStateChange sets a callback run on every state transition. It is called
// from the controller goroutine and must not block. Set it before Run.
func (c *Controller) OnStateChange(fn func(from, to State)) { c.onStateChange = fn }

// OnTranscript sets a callback for caller transcripts. Set it before Run.
func (c *Controller) OnTranscript(fn func(text string, final bool)) { c.onTranscript = fn }

// OnToolCall sets a callback run after each tool invocation, from the model
// run's goroutine. Set it before Run.
func (c *Controller) OnToolCall(fn func(inv tools.Invocation, res tools.Result)) { c.onToolCall = fn }

// State returns the current state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Ready is closed once Run accepts Say and GenerateReply requests.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.stopped }

// Metrics returns the latency collector.
func (c *Controller) Metrics() *MetricsCollector { return c.metrics }

// History returns a copy of the conversation so far.
func (c *Controller) History() []inference.Message {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]inference.Message(nil), c.history...)
}

func (c *Controller) appendHistory(msgs ...inference.Message) {
	c.histMu.Lock()
	c.history = append(c.history, msgs...)
	c.histMu.Unlock()
}

// Loop events.
type vadEvent struct{ ev vad.Event }

type vadProgress struct{ speech time.Duration }

type transcriptEvent struct{ ev stt.Event }

type endpointTimer struct {
	gen uint64
	max bool
}

type speechStarted struct{ s *Speech }

type speechDone struct{ s *Speech }

type toolRound struct {
	run  uint64
	msgs []inference.Message
}

type runDone struct {
	run uint64
	msg inference.Message
	err error
}

type sayRequest struct {
	text          string
	interruptible bool
	reply         chan *Speech
}

type replyRequest struct {
	instructions string
	opts         replyOptions
	reply        chan *Speech
}

type audioClosed struct{}

type transcriptionEnded struct{ err error }

// Say speaks fixed text. The returned handle is already done when the
// controller is not running.
func (c *Controller) Say(text string, interruptible bool) *Speech {
	reply := make(chan *Speech, 1)
	return c.request(sayRequest{text: text, interruptible: interruptible, reply: reply}, reply)
}

// GenerateReply runs a model turn with extra system instructions and speaks
// the answer.
func (c *Controller) GenerateReply(instructions string, opts ...ReplyOption) *Speech {
	var o replyOptions
	for _, opt := range opts {
		opt(&o)
	}
	reply := make(chan *Speech, 1)
	return c.request(replyRequest{instructions: instructions, opts: o, reply: reply}, reply)
}

func (c *Controller) request(ev any, reply chan *Speech) *Speech {
	if !c.running.Load() {
		return finishedSpeech()
	}
	select {
	case c.events <- ev:
	case <-c.stopped:
		return finishedSpeech()
	}
	select {
	case s := <-reply:
		return s
	case <-c.stopped:
		return finishedSpeech()
	}
}

func (c *Controller) post(ctx context.Context, ev any) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	case <-c.stopped:
	}
}

// Run drives the call until ctx is done or an input stream ends.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	detector, err := vad.NewDetector(c.cfg.VAD)
	if err != nil {
		return err
	}
	stream, err := c.deps.STT.Stream(ctx)
	if err != nil {
		return fmt.Errorf("turn: open transcription: %w", err)
	}
	defer stream.Close()

	go c.writer.run(ctx)
	go c.readAudio(ctx, stream, detector)
	go c.readTranscripts(ctx, stream)

	c.logger.Info("turn controller started",
		"min_endpointing", c.cfg.MinEndpointingDelay,
		"max_endpointing", c.cfg.MaxEndpointingDelay,
		"preemptive", c.cfg.PreemptiveGeneration)
	close(c.ready)

	err = c.loop(ctx)
	c.stopEndpointing()
	c.dropDraft()
	return err
}

func (c *Controller) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
			c.settle()
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev any) error {
	switch e := ev.(type) {
	case vadEvent:
		c.handleVAD(e.ev)
	case vadProgress:
		if c.inputBlocked() {
			return nil
		}
		c.userSpeech = e.speech
		c.maybeInterrupt()
	case transcriptEvent:
		c.handleTranscript(ctx, e.ev)
	case endpointTimer:
		c.handleTimer(ctx, e)
	case speechStarted:
		if _, ok := c.speeches[e.s.id]; !ok {
			return nil
		}
		if r, ok := c.runs[e.s.runID]; ok {
			c.commitUser(r)
		}
	case speechDone:
		c.handleSpeechDone(e.s)
	case toolRound:
		r, ok := c.runs[e.run]
		if !ok {
			if r, ok = c.detached[e.run]; !ok {
				return nil
			}
			delete(c.detached, e.run)
		}
		r.endRound()
		c.commitUser(r)
		if len(e.msgs) > 0 {
			c.appendHistory(e.msgs...)
		}
	case runDone:
		c.handleRunDone(e)
	case sayRequest:
		s := c.newSpeech(ctx, e.interruptible, 0)
		c.speeches[s.id] = s
		go func() {
			_ = s.push(e.text)
			s.finish()
		}()
		e.reply <- s
	case replyRequest:
		e.reply <- c.startRun(ctx, "", e.instructions, nil, e.opts)
	case audioClosed:
		return ErrSourceClosed
	case transcriptionEnded:
		if e.err != nil {
			return fmt.Errorf("%w: %w", ErrTranscriptionClosed, e.err)
		}
		return ErrTranscriptionClosed
	}
	return nil
}

func (c *Controller) handleVAD(ev vad.Event) {
	if c.inputBlocked() {
		c.userActive = false
		return
	}
	switch ev.Type {
	case vad.SpeechStart:
		prev := c.State()
		c.userActive = true
		c.userSpeech = 0
		c.stopEndpointing()
		switch prev {
		case Listening:
			c.finals, c.interim = nil, ""
		case Thinking:
			c.cancelThinking()
		}

	case vad.SpeechEnd:
		wasUser := c.userTurn()
		c.userActive = false
		c.userSpeech = 0
		if wasUser {
			c.metrics.MarkSpeechEnd()
			c.startEndpointing()
		}
	}
}

func (c *Controller) handleTranscript(ctx context.Context, ev stt.Event) {
	if c.inputBlocked() {
		return
	}
	switch ev.Type {
	case stt.EventInterim:
		c.interim = ev.Text
		if c.onTranscript != nil {
			c.onTranscript(ev.Text, false)
		}

	case stt.EventFinal:
		if strings.TrimSpace(ev.Text) == "" {
			return
		}
		c.finals = append(c.finals, strings.TrimSpace(ev.Text))
		c.interim = ""
		if c.onTranscript != nil {
			c.onTranscript(ev.Text, true)
		}

		switch c.State() {
		case Listening:
			c.startEndpointing()
		case Thinking:
			c.cancelThinking()
			c.startEndpointing()
		}
		if c.endpointing && c.minElapsed {
			c.tryCommit(ctx)
			return
		}
		if c.cfg.PreemptiveGeneration && c.userTurn() {
			c.startDraft(ctx)
		}

	default:
		return
	}
	c.maybeInterrupt()
}

func (c *Controller) handleTimer(ctx context.Context, t endpointTimer) {
	if t.gen != c.endpointGen || !c.endpointing {
		return
	}
	if t.max {
		c.logger.Debug("silence timeout ended turn")
		c.commit(ctx)
		return
	}
	c.minElapsed = true
	c.tryCommit(ctx)
}

func (c *Controller) handleSpeechDone(s *Speech) {
	if _, ok := c.speeches[s.id]; !ok {
		return
	}
	delete(c.speeches, s.id)
	if s.runID == 0 {
		if text := s.Text(); text != "" && !s.Interrupted() {
			c.appendHistory(inference.NewAssistantMessage(text))
		}
		return
	}
	if _, running := c.runs[s.runID]; !running {
		c.metrics.MarkDone()
	}
}

func (c *Controller) handleRunDone(e runDone) {
	r, ok := c.runs[e.run]
	if !ok {
		return
	}
	delete(c.runs, e.run)
	r.cancel()
	c.commitUser(r)
	if e.err != nil {
		c.logger.Error("reply failed", "turn", e.run, "error", e.err)
	}
	if strings.TrimSpace(e.msg.Content) != "" {
		c.appendHistory(e.msg)
	}
	if _, speaking := c.speeches[r.speech.id]; !speaking {
		c.metrics.MarkDone()
	}
}

// inputBlocked reports whether a non-interruptible reply owns the floor.
func (c *Controller) inputBlocked() bool {
	for _, s := range c.speeches {
		if !s.interruptible {
			return true
		}
	}
	return false
}

// audible reports whether assistant speech is under way.
func (c *Controller) audible() bool {
	for _, s := range c.speeches {
		if s.started.Load() {
			return true
		}
	}
	return false
}

func (c *Controller) userTurn() bool {
	return !c.audible() && (c.userActive || c.endpointing)
}

// derive computes the state from the loop's bookkeeping.
func (c *Controller) derive() State {
	switch {
	case c.audible():
		return AssistantSpeaking
	case c.userActive || c.endpointing:
		return UserSpeaking
	case len(c.runs) > 0 || len(c.speeches) > 0:
		return Thinking
	}
	return Listening
}

// settle moves to the derived state.
func (c *Controller) settle() {
	next := c.derive()
	prev := c.State()
	if next == prev {
		return
	}
	if prev == AssistantSpeaking && next == Listening {
		c.finals, c.interim = nil, ""
	}
	c.setState(next)
}

func (c *Controller) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	c.logger.Debug("state change", "from", prev, "to", next)
	if c.onStateChange != nil {
		c.onStateChange(prev, next)
	}
}

func (c *Controller) words() int {
	n := len(strings.Fields(c.interim))
	for _, f := range c.finals {
		n += len(strings.Fields(f))
	}
	return n
}

func (c *Controller) maybeInterrupt() {
	if !c.audible() || !c.userActive {
		return
	}
	if c.userSpeech < c.cfg.MinInterruptionDuration || c.words() < c.cfg.MinInterruptionWords {
		return
	}
	c.interrupt()
}

// interrupt cuts off every interruptible speech and run, keeps what the
// caller actually heard, and hands the floor to the caller.
func (c *Controller) interrupt() {
	for id, s := range c.speeches {
		if !s.interruptible {
			continue
		}
		heard := s.Heard()
		if r, ok := c.runs[s.runID]; ok {
			c.commitUser(r)
		}
		s.interrupt()
		delete(c.speeches, id)
		if heard != "" {
			c.appendHistory(inference.NewAssistantMessage(heard))
		}
		c.logger.Info("caller interrupted", "speech", id, "heard_len", len(heard), "text_len", len(s.Text()))
	}
	for id, r := range c.runs {
		if r.interruptible {
			c.abandon(r)
			delete(c.runs, id)
		}
	}
	c.dropDraft()
	c.setState(Interrupted)
}

// cancelThinking abandons runs that have not spoken yet. Text the model
// never saw is carried into the next commit.
func (c *Controller) cancelThinking() {
	for id, r := range c.runs {
		if !r.interruptible {
			continue
		}
		if !c.abandon(r) && !r.committed && r.userText != "" {
			c.carry = joinText(c.carry, r.userText)
		}
		r.speech.interrupt()
		delete(c.speeches, r.speech.id)
		delete(c.runs, id)
		c.logger.Debug("reply abandoned for new caller speech", "turn", id)
	}
	c.dropDraft()
}

// abandon cancels r. A run caught mid tool round keeps its user text and
// waits in detached for the round's completed results.
func (c *Controller) abandon(r *run) bool {
	if !r.stop() {
		return false
	}
	c.commitUser(r)
	c.detached[r.id] = r
	return true
}

func (c *Controller) commitUser(r *run) {
	if r.committed {
		return
	}
	r.committed = true
	if r.userText != "" {
		c.appendHistory(inference.NewUserMessage(r.userText))
	}
}

func (c *Controller) startEndpointing() {
	c.stopEndpointing()
	c.endpointing = true
	c.minElapsed = false
	gen := c.endpointGen
	c.minTimer = time.AfterFunc(c.cfg.MinEndpointingDelay, func() {
		c.post(context.Background(), endpointTimer{gen: gen})
	})
	c.maxTimer = time.AfterFunc(c.cfg.MaxEndpointingDelay, func() {
		c.post(context.Background(), endpointTimer{gen: gen, max: true})
	})
}

func (c *Controller) stopEndpointing() {
	c.endpointGen++
	c.endpointing = false
	c.minElapsed = false
	if c.minTimer != nil {
		c.minTimer.Stop()
		c.minTimer = nil
	}
	if c.maxTimer != nil {
		c.maxTimer.Stop()
		c.maxTimer = nil
	}
}

func joinText(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// turnText is the caller's text for the current turn.
func (c *Controller) turnText() string {
	said := strings.Join(c.finals, " ")
	if said == "" {
		said = c.interim
	}
	return joinText(c.carry, said)
}

func (c *Controller) tryCommit(ctx context.Context) {
	if c.deps.Turn.Complete(c.turnText()) {
		c.commit(ctx)
	}
}

// commit ends the caller's turn.
func (c *Controller) commit(ctx context.Context) {
	c.stopEndpointing()
	text := c.turnText()
	c.finals, c.interim, c.carry = nil, "", ""
	if text == "" {
		c.logger.Debug("turn ended without transcript")
		c.dropDraft()
		return
	}
	c.metrics.MarkCommit()
	c.startRun(ctx, text, "", c.takeDraft(text), replyOptions{})
}

func (c *Controller) newSpeech(ctx context.Context, interruptible bool, runID uint64) *Speech {
	sctx, cancel := context.WithCancel(ctx)
	id := c.nextID.Add(1)
	s := &Speech{
		id:            id,
		runID:         runID,
		interruptible: interruptible,
		ctx:           sctx,
		cancel:        cancel,
		writer:        c.writer,
		tts:           c.deps.TTS,
		logger:        c.logger.With("speech", id),
		items:         make(chan item, speechBuffer),
		done:          make(chan struct{}),
		onStart:       func(s *Speech) { c.post(ctx, speechStarted{s: s}) },
		onDone:        func(s *Speech) { c.post(ctx, speechDone{s: s}) },
	}
	go s.synthesize()
	return s
}

// messages builds a request from the history.
func (c *Controller) messages(userText, instructions string) []inference.Message {
	var msgs []inference.Message
	if c.cfg.Instructions != "" {
		msgs = append(msgs, inference.NewSystemMessage(c.cfg.Instructions))
	}
	msgs = append(msgs, inference.TrimHistory(c.History(), c.cfg.MaxHistory)...)
	if userText != "" {
		msgs = append(msgs, inference.NewUserMessage(userText))
	}
	if instructions != "" {
		msgs = append(msgs, inference.NewSystemMessage(instructions))
	}
	return msgs
}

func (c *Controller) startRun(ctx context.Context, userText, instructions string, d *draft, opts replyOptions) *Speech {
	id := c.nextID.Add(1)
	rctx, cancel := context.WithCancel(ctx)
	s := c.newSpeech(ctx, !opts.uninterruptible, id)
	r := &run{
		id:            id,
		cancel:        cancel,
		speech:        s,
		userText:      userText,
		interruptible: !opts.uninterruptible,
	}
	c.runs[id] = r
	c.speeches[s.id] = s

	c.logger.Info("reply started", "turn", id, "user_len", len(userText), "instructions", instructions != "", "preemptive", d != nil)
	go c.generate(rctx, r, c.messages(userText, instructions), s, d, opts)
	return s
}

func (c *Controller) startDraft(ctx context.Context) {
	input := c.turnText()
	if c.draft != nil && c.draft.input == input {
		return
	}
	c.dropDraft()

	dctx, cancel := context.WithCancel(ctx)
	d := &draft{input: input, cancel: cancel, result: make(chan draftResult, 1)}
	c.draft = d
	go c.prepare(dctx, d, c.messages(input, ""))
}

// takeDraft hands over the draft when it was made from text.
func (c *Controller) takeDraft(text string) *draft {
	d := c.draft
	c.draft = nil
	if d == nil {
		return nil
	}
	if d.input != text {
		d.cancel()
		return nil
	}
	return d
}

func (c *Controller) dropDraft() {
	if c.draft != nil {
		c.draft.cancel()
		c.draft = nil
	}
}
