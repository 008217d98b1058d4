package genai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/lilybot/lily/internal/log"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups transient error substrings by category. Matched
// case-insensitively against err.Error() because the provider SDKs do not
// expose typed errors for these failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

// retryableError reports whether err is transient and worth retrying.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// generateFn is one model invocation attempt.
type generateFn func(ctx context.Context) (*ai.ModelResponse, error)

// withRetry runs fn with exponential backoff on transient errors. Each
// attempt waits on the rate limiter first so retries cannot amplify an
// overload that caused the failure.
func (c *Client) withRetry(ctx context.Context, role string, fn generateFn) (*ai.ModelResponse, error) {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("circuit breaker rejecting model call",
			"role", role,
			"state", c.breaker.State().String())
		return nil, fmt.Errorf("model unavailable: %w", err)
	}

	var lastErr error
	delay := c.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := fn(ctx)
		if err == nil {
			c.breaker.Success()
			c.logger.Debug("model call succeeded",
				"role", role,
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) {
			c.breaker.Failure()
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying model call",
			"role", role,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	c.breaker.Failure()
	return nil, fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		c.retry.MaxRetries, time.Since(start), lastErr)
}

// ensureLogger returns a usable logger for optional config fields.
func ensureLogger(l log.Logger) log.Logger {
	if l == nil {
		return log.NewNop()
	}
	return l
}
