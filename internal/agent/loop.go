package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lilybot/lily/internal/log"
)

// DefaultMaxRetries is the number of additional draft rounds the controller
// may spend after the first candidate is rejected.
const DefaultMaxRetries = 2

// lowConfidenceNotice is streamed before a response that survived judging
// only because the retry budget ran out or the judge gave nothing to act on.
const lowConfidenceNotice = "Heads up: I could not fully verify this answer against my sources, so please double-check the details."

// Controller drives one conversational turn through the analyze, retrieve,
// draft, judge and commit stages. It owns the retry budget and the decision
// of what, if anything, enters history; collaborators stay stateless.
type Controller struct {
	analyzer   Analyzer
	dispatcher *Dispatcher
	drafter    Drafter
	judge      Judge
	logger     log.Logger

	maxRetries   int
	defaultTools []string
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMaxRetries overrides the redraft budget. Negative values are clamped
// to zero, which disables retries entirely.
func WithMaxRetries(n int) ControllerOption {
	return func(c *Controller) {
		if n < 0 {
			n = 0
		}
		c.maxRetries = n
	}
}

// WithDefaultTools sets the tools dispatched when the analyzer asks for
// retrieval without naming any calls. Each named tool receives the raw query
// as its "query" argument.
func WithDefaultTools(names ...string) ControllerOption {
	return func(c *Controller) { c.defaultTools = names }
}

// NewController wires the four collaborators into a turn controller.
func NewController(analyzer Analyzer, dispatcher *Dispatcher, drafter Drafter, judge Judge, logger log.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = log.NewNop()
	}

	c := &Controller{
		analyzer:   analyzer,
		dispatcher: dispatcher,
		drafter:    drafter,
		judge:      judge,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one full turn: analyze the query, optionally retrieve
// evidence, draft a streamed response, have the judge vet it, and retry
// within budget with the judge's feedback folded back into the evidence.
//
// On success exactly one user/agent message pair is appended to hist and the
// committed agent message is returned. On failure or cancellation nothing is
// committed and the sink is finalized before returning.
func (c *Controller) Run(ctx context.Context, hist History, query string, sink Sink) (Message, error) {
	if sink == nil {
		sink = NopSink{}
	}

	start := time.Now()
	snapshot := hist.Snapshot()

	analysis := c.analyze(ctx, snapshot, query)
	if err := ctx.Err(); err != nil {
		return c.abort(ctx, sink, err)
	}

	var evidence []ToolResult
	if analysis.InScope && analysis.NeedsRetrieval {
		evidence = c.retrieve(ctx, analysis, query)
		if err := ctx.Err(); err != nil {
			return c.abort(ctx, sink, err)
		}
	}

	final, lowConfidence, err := c.draftLoop(ctx, snapshot, query, analysis, evidence, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return c.abort(ctx, sink, err)
		}
		c.logger.Error("turn failed", "elapsed", time.Since(start), "error", err)
		if emitErr := sink.Emit(ctx, Event{Kind: EventError, Text: "Something went wrong while composing a reply. Please try again."}); emitErr != nil {
			c.logger.Warn("error event not delivered", "error", emitErr)
		}
		c.finalize(ctx, sink)
		return Message{}, err
	}

	if err := ctx.Err(); err != nil {
		return c.abort(ctx, sink, err)
	}

	now := time.Now()
	committed := Message{
		Role:          RoleAgent,
		Content:       final,
		Timestamp:     now,
		LowConfidence: lowConfidence,
	}
	hist.Append(
		Message{Role: RoleUser, Content: query, Timestamp: now},
		committed,
	)
	c.finalize(ctx, sink)

	c.logger.Info("turn committed",
		"elapsed", time.Since(start),
		"in_scope", analysis.InScope,
		"evidence", len(evidence),
		"low_confidence", lowConfidence)

	return committed, nil
}

// analyze classifies the query, failing open to a retrieval-backed in-scope
// turn when the analyzer itself breaks.
func (c *Controller) analyze(ctx context.Context, history []Message, query string) QueryAnalysis {
	analysis, err := c.analyzer.Analyze(ctx, history, query)
	if err != nil {
		c.logger.Warn("analysis failed, assuming in-scope with retrieval", "error", err)
		return QueryAnalysis{InScope: true, NeedsRetrieval: true}
	}

	c.logger.Debug("query analyzed",
		"in_scope", analysis.InScope,
		"needs_retrieval", analysis.NeedsRetrieval,
		"hints", len(analysis.RetrievalHints))
	return analysis
}

// retrieve dispatches the analyzer's hinted calls, or the configured default
// batch when the analyzer asked for retrieval without naming any.
func (c *Controller) retrieve(ctx context.Context, analysis QueryAnalysis, query string) []ToolResult {
	batch := BatchToolCall(analysis.RetrievalHints)
	if len(batch) == 0 {
		for _, name := range c.defaultTools {
			batch = append(batch, ToolCall{Name: name, Arguments: map[string]any{"query": query}})
		}
	}
	if len(batch) == 0 {
		return nil
	}
	return c.dispatcher.Dispatch(ctx, batch)
}

// draftLoop produces candidates until the judge accepts one or the budget
// runs out. It reports whether the surviving answer is low confidence.
func (c *Controller) draftLoop(ctx context.Context, history []Message, query string, analysis QueryAnalysis, evidence []ToolResult, sink Sink) (string, bool, error) {
	onToken := func(ctx context.Context, token string) error {
		return sink.Emit(ctx, Event{Kind: EventToken, Text: token})
	}

	for round := 0; ; round++ {
		req := DraftRequest{
			History:  history,
			Query:    query,
			Analysis: analysis,
			Evidence: evidence,
		}

		candidate, err := c.drafter.Draft(ctx, req, onToken)
		if err != nil {
			// The drafter wraps provider errors opaquely; consult the turn
			// context directly so cancellation takes the abort path instead
			// of being reported as a generation failure.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", false, ctxErr
			}
			return "", false, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		verdict, err := c.judge.Judge(ctx, JudgeRequest{
			Query:     query,
			Candidate: candidate,
			Analysis:  analysis,
			Evidence:  evidence,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", false, ctxErr
			}
			c.logger.Warn("judge unavailable, accepting candidate unvetted", "round", round, "error", err)
			return candidate, false, nil
		}

		if verdict.Accepted {
			return candidate, false, nil
		}

		c.logger.Info("candidate rejected",
			"round", round,
			"in_scope", verdict.InScope,
			"hallucination", verdict.Hallucination,
			"actionable", verdict.Actionable())

		if round >= c.maxRetries || !verdict.Actionable() {
			c.notifyLowConfidence(ctx, sink)
			return candidate, true, nil
		}

		// Clear the rejected stream before the next round starts over.
		if err := sink.Emit(ctx, Event{Kind: EventRetract}); err != nil {
			c.logger.Warn("retract event not delivered", "error", err)
		}
		evidence = append(evidence, SyntheticResult(verdict.Feedback))
	}
}

func (c *Controller) notifyLowConfidence(ctx context.Context, sink Sink) {
	if err := sink.Emit(ctx, Event{Kind: EventNotice, Text: lowConfidenceNotice}); err != nil {
		c.logger.Warn("notice event not delivered", "error", err)
	}
}

// abort finalizes the sink and surfaces the cancellation without touching
// history.
func (c *Controller) abort(ctx context.Context, sink Sink, err error) (Message, error) {
	c.logger.Info("turn cancelled", "error", err)
	c.finalize(ctx, sink)
	return Message{}, err
}

// finalize closes the sink with a detached context so the close still runs
// after cancellation.
func (c *Controller) finalize(ctx context.Context, sink Sink) {
	fctx := context.WithoutCancel(ctx)
	if err := sink.Finalize(fctx); err != nil {
		c.logger.Warn("sink finalize failed", "error", err)
	}
}
