package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/teslashibe/go-callagent/internal/httpc"
	"github.com/teslashibe/go-callagent/pkg/booking"
)

// Remote tool names exposed by the scheduling MCP server.
const (
	ToolEngineerAvailability = "consultar_disponibilidad_ingenieros"
	ToolSaveProspect         = "guardar_prospecto"
	ToolAvailableSlots       = "consultar_horarios_disponibles"
	ToolBookAppointment      = "agendar_cita"
)

// MCPConfig configures the MCP backend.
type MCPConfig struct {
	// Endpoint is the streamable HTTP URL of the server.
	Endpoint string

	// Token is sent in the "token" header on every request.
	Token string

	// Timeout bounds each tool call.
	Timeout time.Duration

	// SessionTimeout bounds connecting and initializing a session.
	SessionTimeout time.Duration

	Logger *slog.Logger
}

// MCP implements Scheduler by calling tools on an MCP server.
// The session is opened lazily and reopened after a transport failure.
type MCP struct {
	cfg       MCPConfig
	client    *mcpsdk.Client
	transport func() mcpsdk.Transport
	logger    *slog.Logger

	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

// NewMCP creates an MCP scheduler. No connection is made until the first call.
func NewMCP(cfg MCPConfig) *MCP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &MCP{
		cfg:    cfg,
		client: mcpsdk.NewClient(&mcpsdk.Implementation{Name: "go-callagent", Version: "1.0.0"}, nil),
		logger: cfg.Logger.With("component", "scheduling.mcp"),
	}
	m.transport = func() mcpsdk.Transport {
		return &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.Endpoint,
			HTTPClient: httpc.WithHeaders(httpc.NewClient(0), map[string]string{"token": cfg.Token}),
		}
	}
	return m
}

// newMCPWithTransport is used by tests to supply in-memory transports.
func newMCPWithTransport(cfg MCPConfig, transport func() mcpsdk.Transport) *MCP {
	m := NewMCP(cfg)
	m.transport = transport
	return m
}

func (m *MCP) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SessionTimeout)
	defer cancel()

	session, err := m.client.Connect(ctx, m.transport(), nil)
	if err != nil {
		return nil, fmt.Errorf("mcp connect: %w", err)
	}
	m.logger.Info("mcp session opened", "endpoint", m.cfg.Endpoint)
	m.session = session
	return session, nil
}

// drop forgets a broken session so the next call reconnects.
func (m *MCP) drop(session *mcpsdk.ClientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == session {
		_ = m.session.Close()
		m.session = nil
	}
}

// call invokes a remote tool and returns its text content.
func (m *MCP) call(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := m.connect(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if ctx.Err() == nil {
			m.drop(session)
		}
		return "", fmt.Errorf("mcp call %s: %w", name, err)
	}

	text := contentText(result.Content)
	m.logger.Debug("mcp tool called", "tool", name, "latency_ms", time.Since(start).Milliseconds(), "error", result.IsError)
	if result.IsError {
		return "", &RemoteError{Tool: name, Message: text}
	}
	return text, nil
}

func contentText(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CheckEngineerAvailability implements Scheduler.
func (m *MCP) CheckEngineerAvailability(ctx context.Context, date string) (string, error) {
	return m.call(ctx, ToolEngineerAvailability, map[string]any{"fecha": date})
}

// SaveProspect implements Scheduler.
func (m *MCP) SaveProspect(ctx context.Context, p Prospect) (string, error) {
	return m.call(ctx, ToolSaveProspect, map[string]any{
		"nombre":   p.Name,
		"telefono": p.Phone,
	})
}

// ListAvailableSlots implements Scheduler.
func (m *MCP) ListAvailableSlots(ctx context.Context) (string, error) {
	return m.call(ctx, ToolAvailableSlots, map[string]any{})
}

// BookAppointment implements Scheduler.
func (m *MCP) BookAppointment(ctx context.Context, s booking.Slots) (string, error) {
	if !s.IsComplete() {
		return "", ErrIncomplete
	}
	return m.call(ctx, ToolBookAppointment, map[string]any{
		"nombre":    s.CustomerName,
		"telefono":  s.CustomerPhone,
		"servicio":  s.Service,
		"modalidad": s.Modality,
		"fecha":     s.Date,
		"hora":      s.Time,
	})
}

// Close ends the session, if any.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

var _ Scheduler = (*MCP)(nil)
