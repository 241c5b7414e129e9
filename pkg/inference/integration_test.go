//go:build integration

package inference

import (
	"context"
	"os"
	"testing"
	"time"
)

// Integration tests for real API calls.
// Run with: go test -tags=integration -v ./pkg/inference/...

func TestOpenAIIntegration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	client, err := NewClient(
		WithAPIKey(apiKey),
		WithModel("gpt-4o-mini"),
		WithEmbedDimensions(1536),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("Health", func(t *testing.T) {
		if err := client.Health(ctx); err != nil {
			t.Errorf("Health check failed: %v", err)
		}
	})

	t.Run("Chat", func(t *testing.T) {
		resp, err := client.Chat(ctx, &ChatRequest{
			Messages: []Message{
				NewSystemMessage("Eres una asistente telefónica. Responde en una frase."),
				NewUserMessage("¿Cuánto es 2+2?"),
			},
			MaxTokens: 50,
		})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if resp.Message.Content == "" {
			t.Error("Expected non-empty response")
		}
		t.Logf("Response: %s", resp.Message.Content)
	})

	t.Run("Embed", func(t *testing.T) {
		resp, err := client.Embed(ctx, &EmbedRequest{Input: []string{"horario de atención"}})
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		if len(resp.Embeddings[0]) != 1536 {
			t.Errorf("expected 1536 dims, got %d", len(resp.Embeddings[0]))
		}
	})

	t.Run("StreamTools", func(t *testing.T) {
		stream, err := client.Stream(ctx, &ChatRequest{
			Messages: []Message{
				NewSystemMessage("Usa la herramienta search_knowledge para cualquier pregunta."),
				NewUserMessage("¿Qué servicios ofrecen?"),
			},
			Tools: []Tool{
				NewTool("search_knowledge", "Busca en la base de conocimiento", map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
					},
					"required": []string{"question"},
				}),
			},
			ToolChoice: "auto",
			MaxTokens:  100,
		})
		if err != nil {
			t.Fatalf("Stream failed: %v", err)
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if err != nil {
				t.Fatalf("Stream recv error: %v", err)
			}
			if chunk.Done {
				for _, tc := range chunk.ToolCalls {
					t.Logf("Tool call: %s(%s)", tc.Name, tc.Arguments)
				}
				break
			}
		}
	})
}
