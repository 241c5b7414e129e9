// Package tools is the bridge between tool calls issued by the language
// model and their effects: knowledge lookup, slot updates, booking, call
// transfer and hangup.
//
// Every invocation returns a Result whose text is safe to hand back to the
// model. Handlers never surface Go errors or panics to the caller; the
// Dispatcher converts them into Results of the matching Kind.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-callagent/pkg/booking"
	"github.com/teslashibe/go-callagent/pkg/inference"
	"github.com/teslashibe/go-callagent/pkg/knowledge"
	"github.com/teslashibe/go-callagent/pkg/persona"
	"github.com/teslashibe/go-callagent/pkg/scheduling"
	"github.com/teslashibe/go-callagent/pkg/telephony"
)

// Kind classifies a failed invocation.
type Kind string

const (
	KindPrecondition    Kind = "precondition"
	KindUnavailable     Kind = "unavailable"
	KindTransport       Kind = "transport"
	KindInvalidArgument Kind = "invalid_argument"
	KindUnknownTool     Kind = "unknown_tool"
	KindInternal        Kind = "internal"
)

// Result is the outcome of one invocation. A zero Kind means success.
type Result struct {
	Text string
	Kind Kind
}

// Ok returns a successful result.
func Ok(text string) Result {
	return Result{Text: text}
}

// Err returns a failed result. message is what the model reads.
func Err(kind Kind, message string) Result {
	return Result{Text: message, Kind: kind}
}

// IsErr reports whether the invocation failed.
func (r Result) IsErr() bool {
	return r.Kind != ""
}

func (r Result) String() string {
	return r.Text
}

// Invocation is a single tool call.
type Invocation struct {
	Name      string
	Arguments map[string]any

	// CallID correlates the call with its result message.
	CallID string
}

// FromToolCall decodes a model tool call. A call with no ID gets a fresh
// one. Malformed argument JSON is reported as an error so the caller can
// feed it back to the model.
func FromToolCall(call inference.ToolCall) (Invocation, error) {
	inv := Invocation{Name: call.Name, CallID: call.ID, Arguments: map[string]any{}}
	if inv.CallID == "" {
		inv.CallID = uuid.NewString()
	}
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" || raw == "null" {
		return inv, nil
	}
	if err := json.Unmarshal([]byte(raw), &inv.Arguments); err != nil {
		return inv, fmt.Errorf("decode arguments for %s: %w", call.Name, err)
	}
	return inv, nil
}

// Handler runs one tool.
type Handler func(ctx context.Context, args Args) Result

// Tool is a callable action exposed to the model.
type Tool struct {
	// Name is the canonical name. The model sees the profile's alias.
	Name        string
	Description string

	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any

	Handler Handler
}

// Searcher is the retrieval connector.
type Searcher interface {
	Configured() bool
	Search(ctx context.Context, question string) ([]knowledge.Snippet, error)
}

// Call is the live call the tools act on.
type Call interface {
	// Room is the transport room carrying the call.
	Room() string

	// Participant is the bound caller identity, or "" before anyone joins.
	Participant() string

	// End says goodbye and hangs up. It returns once teardown ran.
	End(ctx context.Context) error
}

// Deps are the collaborators a Dispatcher uses. Nil Knowledge, Scheduler
// or Telephony degrade their tools to fallback messages.
type Deps struct {
	Knowledge Searcher
	Scheduler scheduling.Scheduler
	Telephony telephony.Connector
	Slots     *booking.Tracker
	Call      Call

	// TransferTo is the phone number or SIP URI calls are transferred to.
	TransferTo string

	Profile persona.Profile
	Logger  *slog.Logger
}

// Dispatcher routes invocations to tools.
type Dispatcher struct {
	deps   Deps
	msgs   persona.Messages
	logger *slog.Logger

	tools map[string]*Tool
	alias map[string]string
	order []string
}

// NewDispatcher creates a dispatcher with the built-in tools registered.
func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Slots == nil {
		deps.Slots = booking.NewTracker()
	}
	if deps.Profile.Name == "" {
		deps.Profile = persona.DefaultProfile()
	}

	d := &Dispatcher{
		deps:   deps,
		msgs:   deps.Profile.Messages,
		logger: deps.Logger.With("component", "tools"),
		tools:  make(map[string]*Tool),
		alias:  make(map[string]string),
	}
	for _, t := range d.builtin() {
		d.Register(t)
	}
	return d
}

// Register adds or replaces a tool.
func (d *Dispatcher) Register(t Tool) {
	if _, exists := d.tools[t.Name]; !exists {
		d.order = append(d.order, t.Name)
	}
	tool := t
	d.tools[t.Name] = &tool
	d.alias[d.deps.Profile.ToolName(t.Name)] = t.Name
}

// Slots returns the booking tracker the tools fill.
func (d *Dispatcher) Slots() *booking.Tracker {
	return d.deps.Slots
}

// Names returns the names the model sees, in registration order.
func (d *Dispatcher) Names() []string {
	names := make([]string, len(d.order))
	for i, n := range d.order {
		names[i] = d.deps.Profile.ToolName(n)
	}
	return names
}

// Definitions returns the tool schemas for a chat request.
func (d *Dispatcher) Definitions() []inference.Tool {
	defs := make([]inference.Tool, 0, len(d.order))
	for _, n := range d.order {
		t := d.tools[n]
		defs = append(defs, inference.NewTool(d.deps.Profile.ToolName(n), t.Description, t.Parameters))
	}
	return defs
}

// resolve maps a model-facing or canonical name to a tool.
func (d *Dispatcher) resolve(name string) (*Tool, bool) {
	if canonical, ok := d.alias[name]; ok {
		return d.tools[canonical], true
	}
	t, ok := d.tools[name]
	return t, ok
}

// Invoke runs a tool. It never panics and never returns a Go error.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation) (res Result) {
	start := time.Now()
	logger := d.logger.With("tool", inv.Name, "call_id", inv.CallID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool panicked", "panic", r, "stack", string(debug.Stack()))
			res = Err(KindInternal, d.msgs.InternalError)
		}
		attrs := []any{"latency_ms", time.Since(start).Milliseconds()}
		if res.IsErr() {
			logger.Warn("tool refused or failed", append(attrs, "kind", res.Kind, "result", res.Text)...)
			return
		}
		logger.Info("tool completed", attrs...)
	}()

	t, ok := d.resolve(inv.Name)
	if !ok {
		return Err(KindUnknownTool, fmt.Sprintf(d.msgs.UnknownTool, inv.Name))
	}
	logger.Info("tool invoked", "args", inv.Arguments)
	return t.Handler(ctx, Args(inv.Arguments))
}
