// Package knowledge stores repair guides and how-to articles as embedded
// documents in PostgreSQL and serves vector similarity search over them.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/lilybot/lily/internal/log"
)

// VectorDimension is the width of the documents embedding column. Gemini
// embedding models output more dimensions by default and are truncated to
// this width via OutputDimensionality (Matryoshka Representation Learning).
const VectorDimension = 768

// Source values for stored documents.
const (
	// SourceRepair marks repair guides and troubleshooting stories.
	SourceRepair = "repair"

	// SourceBlog marks how-to and maintenance articles.
	SourceBlog = "blog"
)

// Document is one searchable knowledge entry.
type Document struct {
	ID        string
	Source    string
	Title     string
	URL       string
	Content   string
	CreatedAt time.Time
}

// Result pairs a document with its similarity to the query.
type Result struct {
	Document   Document
	Similarity float32 // cosine similarity, 0 to 1
}

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SearchOption configures a search via functional options.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	source  string
	timeout time.Duration
}

// WithTopK caps the number of results. Default 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithSource restricts results to one source value.
func WithSource(source string) SearchOption {
	return func(c *searchConfig) { c.source = source }
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{topK: 5, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Store manages embedded documents. Safe for concurrent use.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   log.Logger
}

// NewStore creates a Store over the given pool and embedder.
func NewStore(db DB, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, embedder: embedder, logger: logger}
}

// Add embeds the document content and upserts it by ID.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document ID is required")
	}

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (id, source, title, url, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		doc.ID, doc.Source, doc.Title, doc.URL, doc.Content, embedding, createdAt)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("document stored", "id", doc.ID, "source", doc.Source, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents most similar to the query, best first.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// <=> is cosine distance; similarity = 1 - distance.
	var rows pgx.Rows
	if cfg.source != "" {
		rows, err = s.db.Query(ctx, `
			SELECT id, source, title, url, content, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM documents
			WHERE source = $2
			ORDER BY embedding <=> $1
			LIMIT $3`,
			embedding, cfg.source, cfg.topK)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, source, title, url, content, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM documents
			ORDER BY embedding <=> $1
			LIMIT $2`,
			embedding, cfg.topK)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var similarity float64
		if err := rows.Scan(&r.Document.ID, &r.Document.Source, &r.Document.Title,
			&r.Document.URL, &r.Document.Content, &r.Document.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Similarity = float32(similarity)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	s.logger.Debug("vector search completed", "query_length", len(query), "results", len(results), "source", cfg.source)
	return results, nil
}

// Count reports the number of stored documents, optionally for one source.
func (s *Store) Count(ctx context.Context, source string) (int, error) {
	var count int
	var err error
	if source != "" {
		err = s.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE source = $1`, source).Scan(&count)
	} else {
		err = s.db.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// Delete removes a document by ID. Missing documents are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	return nil
}

// embed produces the pgvector embedding for one text, truncated to the
// documents column width.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := int32(VectorDimension)
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{{Content: []*ai.Part{ai.NewTextPart(text)}}},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned no embedding")
	}
	embedding := resp.Embeddings[0].Embedding
	if len(embedding) != VectorDimension {
		return pgvector.Vector{}, fmt.Errorf("embedder returned %d dimensions, want %d", len(embedding), VectorDimension)
	}
	return pgvector.NewVector(embedding), nil
}
