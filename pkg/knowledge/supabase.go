package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-callagent/internal/httpc"
)

// matchFunction is the SQL function both stores call.
const matchFunction = "match_documents"

// SupabaseStore calls match_documents through the Supabase REST RPC endpoint.
type SupabaseStore struct {
	url  string
	key  string
	http *http.Client
}

// NewSupabaseStore creates a store for the project at url.
func NewSupabaseStore(url, key string) *SupabaseStore {
	return &SupabaseStore{
		url:  strings.TrimSuffix(url, "/"),
		key:  key,
		http: httpc.NewClient(10 * time.Second),
	}
}

type matchRow struct {
	ID         any     `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Match implements Store.
func (s *SupabaseStore) Match(ctx context.Context, embedding []float64, k int) ([]Snippet, error) {
	body, err := json.Marshal(map[string]any{
		"query_embedding": embedding,
		"match_count":     k,
		"filter":          map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/rest/v1/rpc/"+matchFunction, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase rpc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("supabase rpc: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rows []matchRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rpc: %w", err)
	}

	snippets := make([]Snippet, len(rows))
	for i, r := range rows {
		snippets[i] = Snippet{ID: idString(r.ID), Content: r.Content, Similarity: r.Similarity}
	}
	return snippets, nil
}

// Close implements Store.
func (s *SupabaseStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

// idString renders numeric and text ids alike. JSON numbers decode as
// float64, so integral values are printed without a fraction.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%g", id)
	default:
		return fmt.Sprint(id)
	}
}

var _ Store = (*SupabaseStore)(nil)
