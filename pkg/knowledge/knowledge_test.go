package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-callagent/pkg/inference"
)

func TestRetrieverNotConfigured(t *testing.T) {
	r := NewRetriever(inference.NewMock(), nil)
	assert.False(t, r.Configured())

	_, err := r.Search(context.Background(), "horario")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRetrieverEmptyQuestion(t *testing.T) {
	r := NewRetriever(inference.NewMock(), NewMockStore())
	_, err := r.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestRetrieverOrdersBySimilarityStable(t *testing.T) {
	store := NewMockStore(
		Snippet{ID: "a", Similarity: 0.5, Content: "A"},
		Snippet{ID: "b", Similarity: 0.9, Content: "B"},
		Snippet{ID: "c", Similarity: 0.5, Content: "C"},
		Snippet{ID: "d", Similarity: 0.7, Content: "D"},
	)
	embedder := inference.NewMock()
	r := NewRetriever(embedder, store, WithTopK(3), WithDimensions(4))

	got, err := r.Search(context.Background(), "¿Qué servicios ofrecen?")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"b", "d", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
	for i, s := range got {
		assert.Equal(t, i+1, s.Rank)
	}
	assert.Equal(t, 1, store.Calls())
	assert.Equal(t, 1, embedder.CallCount("Embed"))
}

func TestRetrieverEmbedFailure(t *testing.T) {
	store := NewMockStore()
	r := NewRetriever(inference.WithError(errors.New("boom")), store)

	_, err := r.Search(context.Background(), "hola")
	require.Error(t, err)
	assert.Equal(t, 0, store.Calls())
}

func TestFormat(t *testing.T) {
	out := Format([]Snippet{
		{ID: "12", Similarity: 0.87654, Content: "  Línea uno\r\nLínea dos  "},
		{Similarity: 0.5, Content: "Otro"},
	})

	want := "1. **referencia 1 - Inicio**\n" +
		"id: 12\n" +
		"similarity: 0.8765\n" +
		"content: Línea uno\nLínea dos\n" +
		"**fin de referencia 1**\n\n" +
		"2. **referencia 2 - Inicio**\n" +
		"id: N/A\n" +
		"similarity: 0.5000\n" +
		"content: Otro\n" +
		"**fin de referencia 2**\n\n"
	assert.Equal(t, want, out)
	assert.Empty(t, Format(nil))
}

func TestSupabaseStoreMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/match_documents", r.URL.Path)
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["match_count"])
		assert.Equal(t, map[string]any{}, body["filter"])
		assert.Len(t, body["query_embedding"], 2)

		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 42, "content": "Mantenimiento industrial", "similarity": 0.91},
			{"id": "doc-7", "content": "Automatización", "similarity": 0.80},
		})
	}))
	defer server.Close()

	store := NewSupabaseStore(server.URL+"/", "service-key")
	defer store.Close()

	got, err := store.Match(context.Background(), []float64{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "42", got[0].ID)
	assert.Equal(t, "doc-7", got[1].ID)
	assert.InDelta(t, 0.91, got[0].Similarity, 1e-9)
}

func TestSupabaseStoreError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"function not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewSupabaseStore(server.URL, "k").Match(context.Background(), []float64{1}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSupabaseStoreUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewSupabaseStore(url, "k").Match(context.Background(), []float64{1}, 1)
	assert.Error(t, err)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.1,-2,3.5e-07]", vectorLiteral([]float64{0.1, -2, 3.5e-7}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "", idString(nil))
	assert.Equal(t, "7", idString(float64(7)))
	assert.Equal(t, "7.5", idString(7.5))
	assert.Equal(t, "abc", idString("abc"))
}
