package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/lilybot/lily/internal/knowledge"
	"github.com/lilybot/lily/internal/log"
)

// DocSearcher is the document search the knowledge store provides.
type DocSearcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Grader scores a document's relevance to a query on [0, 1]. Implemented by
// the model client; treated as advisory.
type Grader interface {
	Grade(ctx context.Context, query, doc string) (float64, error)
}

// defaultGradeOnError is assumed when the grader itself fails. Grading
// filters noise; a broken grader must not empty the evidence set.
const defaultGradeOnError = 0.6

// SearchConfig tunes both document search tools.
type SearchConfig struct {
	TopK   int     // documents fetched per search, default 5
	Cutoff float64 // minimum relevance grade to keep a document
	Grader Grader  // nil disables grading
}

// DocSearchTool serves one document source (repairs or blogs) as a
// dispatchable tool, with optional per-document relevance grading.
type DocSearchTool struct {
	name        string
	description string
	source      string
	searcher    DocSearcher
	cfg         SearchConfig
	logger      log.Logger
}

// NewRepairSearch builds the search_repairs tool over repair guides.
func NewRepairSearch(searcher DocSearcher, cfg SearchConfig, logger log.Logger) *DocSearchTool {
	return newDocSearch(
		"search_repairs",
		"Search repair guides and troubleshooting documentation for refrigerators and dishwashers.",
		knowledge.SourceRepair, searcher, cfg, logger)
}

// NewBlogSearch builds the search_blogs tool over how-to articles.
func NewBlogSearch(searcher DocSearcher, cfg SearchConfig, logger log.Logger) *DocSearchTool {
	return newDocSearch(
		"search_blogs",
		"Search how-to and maintenance articles for refrigerators and dishwashers.",
		knowledge.SourceBlog, searcher, cfg, logger)
}

func newDocSearch(name, description, source string, searcher DocSearcher, cfg SearchConfig, logger log.Logger) *DocSearchTool {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Cutoff <= 0 {
		cfg.Cutoff = 0.5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &DocSearchTool{
		name:        name,
		description: description,
		source:      source,
		searcher:    searcher,
		cfg:         cfg,
		logger:      logger,
	}
}

// Name implements the dispatchable tool interface.
func (t *DocSearchTool) Name() string { return t.name }

// Description implements the dispatchable tool interface.
func (t *DocSearchTool) Description() string { return t.description }

// Call runs the vector search and, when a grader is configured, drops
// documents graded below the cutoff. Grading fails open: an erroring grader
// keeps the document with a default grade.
func (t *DocSearchTool) Call(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}

	results, err := t.searcher.Search(ctx, query,
		knowledge.WithTopK(t.cfg.TopK),
		knowledge.WithSource(t.source))
	if err != nil {
		return "", fmt.Errorf("searching %s documents: %w", t.source, err)
	}

	kept := t.grade(ctx, query, results)
	if len(kept) == 0 {
		return fmt.Sprintf("No relevant %s documents found for %q.", t.source, query), nil
	}

	var b strings.Builder
	for i, r := range kept {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.Document.Title != "" {
			fmt.Fprintf(&b, "## %s\n", r.Document.Title)
		}
		b.WriteString(r.Document.Content)
		if r.Document.URL != "" {
			fmt.Fprintf(&b, "\nSource: %s", r.Document.URL)
		}
	}
	return b.String(), nil
}

// grade filters results by relevance grade, keeping everything when no
// grader is configured.
func (t *DocSearchTool) grade(ctx context.Context, query string, results []knowledge.Result) []knowledge.Result {
	if t.cfg.Grader == nil {
		return results
	}

	kept := results[:0]
	for _, r := range results {
		score, err := t.cfg.Grader.Grade(ctx, query, r.Document.Content)
		if err != nil {
			t.logger.Warn("relevance grading failed, keeping document",
				"tool", t.name,
				"document", r.Document.ID,
				"error", err)
			score = defaultGradeOnError
		}
		if score > t.cfg.Cutoff {
			kept = append(kept, r)
		} else {
			t.logger.Debug("document graded out",
				"tool", t.name,
				"document", r.Document.ID,
				"score", score)
		}
	}
	return kept
}
