// Package genai implements the model roles of the orchestration loop on top
// of Genkit: query analysis, answer drafting, answer judging, and document
// relevance grading. One Client serves all roles against one provider.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/lilybot/lily/internal/agent"
	"github.com/lilybot/lily/internal/log"
)

// Per-role call timeouts. Drafting streams a full answer and gets the most
// room; grading runs once per retrieved document and must stay cheap.
const (
	analyzeTimeout = 15 * time.Second
	draftTimeout   = 90 * time.Second
	judgeTimeout   = 30 * time.Second
	gradeTimeout   = 10 * time.Second
)

// fallbackAnswer replaces a structurally valid but empty model response.
const fallbackAnswer = "I'm sorry, I couldn't put together an answer just now. Please try rephrasing your question."

// Config carries the Client's dependencies.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Logger    log.Logger

	// Resilience knobs. Zero values select defaults.
	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimiter    *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Client is the Genkit-backed implementation of the analyzer, drafter and
// judge roles, plus relevance grading for retrieval. Stateless per call and
// safe for concurrent use.
type Client struct {
	g         *genkit.Genkit
	modelName string
	logger    log.Logger

	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter
}

// New creates a Client. Zero-value resilience config falls back to defaults:
// 10 req/s with burst 30, three retries, a shared circuit breaker.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	return &Client{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		logger:    ensureLogger(cfg.Logger),
		retry:     retry,
		breaker:   NewCircuitBreaker(cfg.CircuitBreaker),
		limiter:   limiter,
	}, nil
}

// Analyze classifies the latest query. Errors wrap agent.ErrAnalysis; the
// loop controller recovers from them by assuming in-scope with retrieval.
func (c *Client) Analyze(ctx context.Context, history []agent.Message, query string) (agent.QueryAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	msgs := append(renderHistory(history), ai.NewUserMessage(ai.NewTextPart(analyzeUserMessage(query))))

	resp, err := c.withRetry(ctx, "analyzer", func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, c.g,
			ai.WithModelName(c.modelName),
			ai.WithSystem(analyzerSystemPrompt),
			ai.WithMessages(msgs...),
			ai.WithOutputType(agent.QueryAnalysis{}),
		)
	})
	if err != nil {
		return agent.QueryAnalysis{}, fmt.Errorf("%w: %v", agent.ErrAnalysis, err)
	}

	var analysis agent.QueryAnalysis
	if err := resp.Output(&analysis); err != nil {
		return agent.QueryAnalysis{}, fmt.Errorf("%w: parsing output: %v", agent.ErrAnalysis, err)
	}
	return analysis, nil
}

// Draft produces one candidate answer, forwarding tokens to onToken as the
// model streams them. Errors wrap agent.ErrGeneration and are fatal to the
// turn.
func (c *Client) Draft(ctx context.Context, req agent.DraftRequest, onToken agent.TokenFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, draftTimeout)
	defer cancel()

	msgs := append(renderHistory(req.History), ai.NewUserMessage(ai.NewTextPart(draftUserMessage(req.Query, req.Evidence))))

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(drafterSystemPrompt),
		ai.WithMessages(msgs...),
	}
	if onToken != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				if err := onToken(ctx, part.Text); err != nil {
					return err
				}
			}
			return nil
		}))
	}

	resp, err := c.withRetry(ctx, "drafter", func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, c.g, opts...)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", agent.ErrGeneration, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		c.logger.Warn("drafter returned empty response")
		text = fallbackAnswer
		if onToken != nil {
			if err := onToken(ctx, text); err != nil {
				return "", fmt.Errorf("%w: %v", agent.ErrGeneration, err)
			}
		}
	}
	return text, nil
}

// Judge validates a candidate answer. Errors wrap agent.ErrValidation; the
// loop controller recovers by accepting the candidate unvetted.
func (c *Client) Judge(ctx context.Context, req agent.JudgeRequest) (agent.ResponseValidation, error) {
	ctx, cancel := context.WithTimeout(ctx, judgeTimeout)
	defer cancel()

	// Deliberately no conversation history: the judge sees only the query,
	// the evidence and the candidate, so it cannot inherit the drafter's
	// framing.
	resp, err := c.withRetry(ctx, "judge", func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, c.g,
			ai.WithModelName(c.modelName),
			ai.WithSystem(judgeSystemPrompt),
			ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(judgeUserMessage(req)))),
			ai.WithOutputType(agent.ResponseValidation{}),
		)
	})
	if err != nil {
		return agent.ResponseValidation{}, fmt.Errorf("%w: %v", agent.ErrValidation, err)
	}

	var verdict agent.ResponseValidation
	if err := resp.Output(&verdict); err != nil {
		return agent.ResponseValidation{}, fmt.Errorf("%w: parsing output: %v", agent.ErrValidation, err)
	}
	return verdict, nil
}

// relevanceScore is the grader's structured output.
type relevanceScore struct {
	Score float64 `json:"score"`
}

// Grade scores a retrieved document's relevance to the query on [0, 1].
// Callers treat grading as advisory and fail open on error.
func (c *Client) Grade(ctx context.Context, query, doc string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, gradeTimeout)
	defer cancel()

	input := fmt.Sprintf("Query:\n%s\n\nDocument:\n%s", query, doc)

	resp, err := c.withRetry(ctx, "grader", func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, c.g,
			ai.WithModelName(c.modelName),
			ai.WithSystem(graderSystemPrompt),
			ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(input))),
			ai.WithOutputType(relevanceScore{}),
		)
	})
	if err != nil {
		return 0, fmt.Errorf("grading relevance: %w", err)
	}

	var out relevanceScore
	if err := resp.Output(&out); err != nil {
		return 0, fmt.Errorf("grading relevance: parsing output: %w", err)
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("grading relevance: score %v out of range", out.Score)
	}
	return out.Score, nil
}
