package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore calls match_documents directly over a pgx connection pool.
// The function signature is match_documents(vector, int, jsonb).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect knowledge db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping knowledge db: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const matchQuery = `select id::text, content, similarity from ` + matchFunction + `($1::vector, $2, '{}'::jsonb)`

// Match implements Store.
func (s *PostgresStore) Match(ctx context.Context, embedding []float64, k int) ([]Snippet, error) {
	rows, err := s.pool.Query(ctx, matchQuery, vectorLiteral(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", matchFunction, err)
	}
	defer rows.Close()

	var snippets []Snippet
	for rows.Next() {
		var sn Snippet
		if err := rows.Scan(&sn.ID, &sn.Content, &sn.Similarity); err != nil {
			return nil, fmt.Errorf("scan %s: %w", matchFunction, err)
		}
		snippets = append(snippets, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", matchFunction, err)
	}
	return snippets, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders an embedding in pgvector text form, e.g. "[0.1,0.2]".
func vectorLiteral(v []float64) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

var _ Store = (*PostgresStore)(nil)
