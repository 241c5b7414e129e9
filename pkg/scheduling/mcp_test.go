package scheduling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-callagent/pkg/booking"
)

// fakeServer records the arguments each remote tool receives.
type fakeServer struct {
	mu   sync.Mutex
	args map[string]map[string]any
}

func (f *fakeServer) handler(name, reply string, isError bool) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var payload map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &payload); err != nil {
				return nil, err
			}
		}
		f.mu.Lock()
		f.args[name] = payload
		f.mu.Unlock()
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: reply}},
			IsError: isError,
		}, nil
	}
}

func (f *fakeServer) received(name string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args[name]
}

func setupMCP(t *testing.T, bookError bool) (*MCP, *fakeServer) {
	t.Helper()

	fake := &fakeServer{args: make(map[string]map[string]any)}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "agenda", Version: "test"}, nil)
	schema := map[string]any{"type": "object", "properties": map[string]any{}}

	server.AddTool(&mcpsdk.Tool{Name: ToolEngineerAvailability, InputSchema: schema},
		fake.handler(ToolEngineerAvailability, "Ingenieros disponibles por la mañana.", false))
	server.AddTool(&mcpsdk.Tool{Name: ToolSaveProspect, InputSchema: schema},
		fake.handler(ToolSaveProspect, "Prospecto guardado.", false))
	server.AddTool(&mcpsdk.Tool{Name: ToolAvailableSlots, InputSchema: schema},
		fake.handler(ToolAvailableSlots, "Martes 10:00, Miércoles 15:00.", false))
	server.AddTool(&mcpsdk.Tool{Name: ToolBookAppointment, InputSchema: schema},
		fake.handler(ToolBookAppointment, "Cita registrada.", bookError))

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		session, err := server.Connect(ctx, serverTransport, nil)
		if err != nil {
			return
		}
		<-ctx.Done()
		_ = session.Close()
	}()

	m := newMCPWithTransport(MCPConfig{Endpoint: "inmemory", Timeout: 2 * time.Second}, func() mcpsdk.Transport {
		return clientTransport
	})
	t.Cleanup(func() {
		_ = m.Close()
		cancel()
		<-done
	})
	return m, fake
}

func completeSlots() booking.Slots {
	return booking.Slots{
		CustomerName:  "Ana Pérez",
		CustomerPhone: "+56912345678",
		Service:       "Automatización",
		Modality:      "video-call",
		Date:          "2026-10-20",
		Time:          "10:00",
	}
}

func TestMCPToolCalls(t *testing.T) {
	m, fake := setupMCP(t, false)
	ctx := context.Background()

	out, err := m.CheckEngineerAvailability(ctx, "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, "Ingenieros disponibles por la mañana.", out)
	assert.Equal(t, "2026-10-20", fake.received(ToolEngineerAvailability)["fecha"])

	out, err = m.SaveProspect(ctx, Prospect{Name: "Ana", Phone: "+56912345678"})
	require.NoError(t, err)
	assert.Equal(t, "Prospecto guardado.", out)
	assert.Equal(t, map[string]any{"nombre": "Ana", "telefono": "+56912345678"}, fake.received(ToolSaveProspect))

	out, err = m.ListAvailableSlots(ctx)
	require.NoError(t, err)
	assert.Contains(t, out, "Martes")

	out, err = m.BookAppointment(ctx, completeSlots())
	require.NoError(t, err)
	assert.Equal(t, "Cita registrada.", out)
	got := fake.received(ToolBookAppointment)
	assert.Equal(t, "video-call", got["modalidad"])
	assert.Equal(t, "10:00", got["hora"])
	assert.Equal(t, "Automatización", got["servicio"])
}

func TestMCPRemoteError(t *testing.T) {
	m, _ := setupMCP(t, true)

	_, err := m.BookAppointment(context.Background(), completeSlots())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "Cita registrada.")
}

func TestMCPIncompleteBookingNeverCalls(t *testing.T) {
	m, fake := setupMCP(t, false)

	s := completeSlots()
	s.Time = ""
	_, err := m.BookAppointment(context.Background(), s)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Nil(t, fake.received(ToolBookAppointment))
}

func TestMCPConnectFailure(t *testing.T) {
	m := NewMCP(MCPConfig{
		Endpoint:       "http://127.0.0.1:1/mcp",
		Token:          "secret",
		SessionTimeout: 500 * time.Millisecond,
	})
	defer m.Close()

	_, err := m.ListAvailableSlots(context.Background())
	assert.Error(t, err)
}
