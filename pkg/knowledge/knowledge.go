// Package knowledge answers caller questions from a vector knowledge base.
//
// A Retriever embeds the question through an inference.Provider, asks a
// Store for the nearest documents and returns them ordered by similarity.
// Two stores are provided: Supabase (REST RPC) and Postgres (pgx), both
// calling the match_documents function owned by the knowledge base.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/teslashibe/go-callagent/pkg/inference"
)

// Snippet is one retrieved document.
type Snippet struct {
	Rank       int     `json:"rank"`
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

// Store performs nearest-neighbour search over stored embeddings.
type Store interface {
	Match(ctx context.Context, embedding []float64, k int) ([]Snippet, error)
	Close() error
}

var (
	ErrNotConfigured = errors.New("knowledge: not configured")
	ErrEmptyQuestion = errors.New("knowledge: empty question")
)

// Config holds retriever configuration.
type Config struct {
	TopK       int
	EmbedModel string
	Dimensions int
	Logger     *slog.Logger
}

// Option is a functional option for configuring the retriever.
type Option func(*Config)

// WithTopK sets the number of snippets returned.
func WithTopK(k int) Option {
	return func(c *Config) { c.TopK = k }
}

// WithEmbedModel sets the embedding model.
func WithEmbedModel(model string) Option {
	return func(c *Config) { c.EmbedModel = model }
}

// WithDimensions sets the embedding size.
func WithDimensions(n int) Option {
	return func(c *Config) { c.Dimensions = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() *Config {
	return &Config{
		TopK:       3,
		EmbedModel: "text-embedding-3-large",
		Dimensions: 1536,
		Logger:     slog.Default(),
	}
}

// Retriever is the retrieval connector.
type Retriever struct {
	embedder inference.Provider
	store    Store
	config   *Config
	logger   *slog.Logger
}

// NewRetriever creates a retriever. A nil store yields a retriever that
// reports ErrNotConfigured on every search.
func NewRetriever(embedder inference.Provider, store Store, opts ...Option) *Retriever {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		config:   cfg,
		logger:   cfg.Logger.With("component", "knowledge.retriever"),
	}
}

// Configured reports whether searches can run.
func (r *Retriever) Configured() bool {
	return r != nil && r.store != nil && r.embedder != nil
}

// Search returns at most TopK snippets for question, most similar first.
// Equal similarities keep the store's order.
func (r *Retriever) Search(ctx context.Context, question string) ([]Snippet, error) {
	if !r.Configured() {
		return nil, ErrNotConfigured
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	emb, err := r.embedder.Embed(ctx, &inference.EmbedRequest{
		Input:      []string{question},
		Model:      r.config.EmbedModel,
		Dimensions: r.config.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(emb.Embeddings) == 0 {
		return nil, inference.ErrEmptyEmbedding
	}

	snippets, err := r.store.Match(ctx, emb.Embeddings[0], r.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("match documents: %w", err)
	}

	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Similarity > snippets[j].Similarity
	})
	if len(snippets) > r.config.TopK {
		snippets = snippets[:r.config.TopK]
	}
	for i := range snippets {
		snippets[i].Rank = i + 1
	}

	r.logger.Debug("knowledge search", "results", len(snippets))
	return snippets, nil
}

// Close releases the store.
func (r *Retriever) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

// Format renders snippets as the numbered reference list read by the model.
func Format(snippets []Snippet) string {
	var b strings.Builder
	for i, s := range snippets {
		n := i + 1
		content := strings.TrimSpace(strings.ReplaceAll(s.Content, "\r\n", "\n"))
		id := s.ID
		if id == "" {
			id = "N/A"
		}
		fmt.Fprintf(&b, "%d. **referencia %d - Inicio**\n", n, n)
		fmt.Fprintf(&b, "id: %s\n", id)
		fmt.Fprintf(&b, "similarity: %.4f\n", s.Similarity)
		fmt.Fprintf(&b, "content: %s\n", content)
		fmt.Fprintf(&b, "**fin de referencia %d**\n\n", n)
	}
	return b.String()
}
