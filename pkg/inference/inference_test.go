package inference

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMockProvider(t *testing.T) {
	ctx := context.Background()
	mock := NewMock()

	resp, err := mock.Chat(ctx, &ChatRequest{
		Messages: []Message{NewUserMessage("Hola")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content == "" {
		t.Error("Expected content in response")
	}
	if resp.FinishReason != "stop" {
		t.Errorf("Expected finish_reason 'stop', got %s", resp.FinishReason)
	}

	emb, err := mock.Embed(ctx, &EmbedRequest{Input: []string{"a", "b"}, Dimensions: 4})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(emb.Embeddings) != 2 || len(emb.Embeddings[0]) != 4 {
		t.Errorf("unexpected embedding shape: %d x %d", len(emb.Embeddings), len(emb.Embeddings[0]))
	}

	if mock.CallCount("Chat") != 1 {
		t.Errorf("Expected 1 Chat call, got %d", mock.CallCount("Chat"))
	}
	if len(mock.Calls()) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(mock.Calls()))
	}
	if len(mock.Requests()) != 1 {
		t.Errorf("Expected 1 recorded request, got %d", len(mock.Requests()))
	}

	mock.Reset()
	if len(mock.Calls()) != 0 || len(mock.Requests()) != 0 {
		t.Error("Expected no calls after reset")
	}
}

func TestMockStreamReplaysChat(t *testing.T) {
	mock := NewMock()
	mock.ChatFunc = func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{
			Message:      NewToolCallMessage("", []ToolCall{{ID: "c1", Name: "end_call", Arguments: "{}"}}),
			FinishReason: "tool_calls",
		}, nil
	}

	stream, err := mock.Stream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if !chunk.Done || len(chunk.ToolCalls) != 1 || chunk.ToolCalls[0].Name != "end_call" {
		t.Errorf("unexpected chunk: %+v", chunk)
	}
}

func TestMockWithError(t *testing.T) {
	ctx := context.Background()
	testErr := errors.New("test error")
	mock := WithError(testErr)

	if _, err := mock.Chat(ctx, &ChatRequest{}); err != testErr {
		t.Errorf("Expected test error, got %v", err)
	}
	if _, err := mock.Stream(ctx, &ChatRequest{}); err != testErr {
		t.Errorf("Expected test error, got %v", err)
	}
	if err := mock.Health(ctx); err != testErr {
		t.Errorf("Expected test error, got %v", err)
	}
}

func TestChunkStream(t *testing.T) {
	s := NewChunkStream(StreamChunk{Delta: "Hola, "}, StreamChunk{Delta: "¿en qué te ayudo?"})

	var text string
	for {
		chunk, err := s.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		text += chunk.Delta
		if chunk.Done {
			break
		}
	}
	if text != "Hola, ¿en qué te ayudo?" {
		t.Errorf("text = %q", text)
	}

	s.Close()
	if _, err := s.Recv(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apply(
		WithBaseURL("http://localhost:8000/v1"),
		WithAPIKey("test-key"),
		WithModel("llama3"),
		WithEmbedModel("text-embedding-3-small"),
		WithEmbedDimensions(512),
		WithMaxTokens(256),
		WithTemperature(0.2),
		WithTimeout(5*time.Second),
		WithRetry(1, time.Millisecond),
	)

	if cfg.BaseURL != "http://localhost:8000/v1" {
		t.Errorf("BaseURL = %s", cfg.BaseURL)
	}
	if cfg.APIKey != "test-key" || cfg.Model != "llama3" {
		t.Errorf("APIKey/Model = %s/%s", cfg.APIKey, cfg.Model)
	}
	if cfg.EmbedModel != "text-embedding-3-small" || cfg.EmbedDimensions != 512 {
		t.Errorf("Embed = %s/%d", cfg.EmbedModel, cfg.EmbedDimensions)
	}
	if cfg.MaxTokens != 256 || cfg.Temperature != 0.2 {
		t.Errorf("MaxTokens/Temperature = %d/%v", cfg.MaxTokens, cfg.Temperature)
	}
	if cfg.Timeout != 5*time.Second || cfg.MaxRetries != 1 {
		t.Errorf("Timeout/MaxRetries = %v/%d", cfg.Timeout, cfg.MaxRetries)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("Expected OpenAI URL, got %s", cfg.BaseURL)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("Expected gpt-4o-mini, got %s", cfg.Model)
	}
	if cfg.EmbedModel != "text-embedding-3-large" {
		t.Errorf("Expected text-embedding-3-large, got %s", cfg.EmbedModel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg.Model = ""
	if err := cfg.Validate(); !errors.Is(err, ErrNoModel) {
		t.Errorf("expected ErrNoModel, got %v", err)
	}
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 429, Message: "rate limited", Provider: "test"}
	if !err.IsRateLimited() || !err.IsRetryable() {
		t.Error("429 should be rate limited and retryable")
	}

	err = &APIError{StatusCode: 401, Message: "unauthorized", Provider: "test"}
	if !err.IsUnauthorized() || err.IsRetryable() {
		t.Error("401 should be unauthorized and not retryable")
	}

	err = &APIError{StatusCode: 503, Message: "unavailable", Provider: "test"}
	if !err.IsServerError() || !err.IsRetryable() {
		t.Error("503 should be a retryable server error")
	}

	wrapped := fmt.Errorf("turn: %w", err)
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable should see through wrapping")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestIsContextLength(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"code", &APIError{StatusCode: 400, Code: "context_length_exceeded"}, true},
		{"message only", &APIError{StatusCode: 400, Message: "This model's maximum context length is 128000 tokens."}, true},
		{"other bad request", &APIError{StatusCode: 400, Message: "invalid tool schema"}, false},
		{"wrapped", WrapError("client", &APIError{StatusCode: 400, Code: "context_length_exceeded"}), true},
		{"plain", errors.New("maximum context length"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsContextLength(tt.err); got != tt.want {
				t.Errorf("IsContextLength = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("x", nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}
	err := WrapError("client", ErrEmptyEmbedding)
	if !errors.Is(err, ErrEmptyEmbedding) {
		t.Error("wrapped error should unwrap to sentinel")
	}
}

func TestMessageHelpers(t *testing.T) {
	if m := NewSystemMessage("Eres Gabriela"); m.Role != RoleSystem || m.Content != "Eres Gabriela" {
		t.Error("NewSystemMessage failed")
	}
	if m := NewUserMessage("Hola"); m.Role != RoleUser {
		t.Error("NewUserMessage failed")
	}
	if m := NewAssistantMessage("Buenos días"); m.Role != RoleAssistant {
		t.Error("NewAssistantMessage failed")
	}
	if m := NewToolMessage("call-123", "ok"); m.Role != RoleTool || m.ToolCallID != "call-123" {
		t.Error("NewToolMessage failed")
	}
	m := NewToolCallMessage("", []ToolCall{{ID: "1", Name: "end_call"}})
	if m.Role != RoleAssistant || len(m.ToolCalls) != 1 {
		t.Error("NewToolCallMessage failed")
	}
}

func TestNewTool(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
	}

	tool := NewTool("search_knowledge", "Busca en la base de conocimiento", params)
	if tool.Type != "function" {
		t.Errorf("Expected type 'function', got %s", tool.Type)
	}
	if tool.Function.Name != "search_knowledge" {
		t.Errorf("Expected name 'search_knowledge', got %s", tool.Function.Name)
	}
}

func TestMockLastCall(t *testing.T) {
	mock := NewMock()

	if mock.LastCall() != nil {
		t.Error("Expected nil LastCall before any calls")
	}

	mock.Chat(context.Background(), &ChatRequest{})

	last := mock.LastCall()
	if last == nil {
		t.Fatal("Expected non-nil LastCall after call")
	}
	if last.Method != "Chat" {
		t.Errorf("Expected method 'Chat', got %s", last.Method)
	}
}

func TestTrimHistory(t *testing.T) {
	sys := NewSystemMessage("Eres Gabriela.")
	history := []Message{
		sys,
		NewAssistantMessage("Hola, soy Gabriela."),
		NewUserMessage("Quiero una cita."),
		NewToolCallMessage("", []ToolCall{{ID: "c1", Name: "horarios_disponibles"}}),
		NewToolMessage("c1", "lunes 10:00"),
		NewAssistantMessage("Tengo el lunes a las diez."),
		NewUserMessage("Perfecto."),
		NewAssistantMessage("Listo."),
		NewSystemMessage("Despidete."),
	}

	if got := TrimHistory(history, 0); len(got) != len(history) {
		t.Errorf("max 0 should not trim, got %d messages", len(got))
	}
	if got := TrimHistory(history, 7); len(got) != len(history) {
		t.Errorf("history within max should be unchanged, got %d messages", len(got))
	}

	// Four messages back lands on the tool result; the cut moves forward
	// to the next user message instead of orphaning it.
	got := TrimHistory(history, 4)
	want := []Message{sys, NewUserMessage("Perfecto."), NewAssistantMessage("Listo."), NewSystemMessage("Despidete.")}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	got = TrimHistory(history, 6)
	if got[1].Role != RoleUser || got[1].Content != "Quiero una cita." {
		t.Errorf("expected the cut at the first user message, got %+v", got[1])
	}

	got = TrimHistory(history, 1)
	if len(got) != 2 || got[0].Role != RoleSystem || got[1].Role != RoleSystem {
		t.Errorf("with no user message in range only system messages remain, got %+v", got)
	}
}
