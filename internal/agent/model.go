package agent

import "context"

// The three model roles the loop depends on. They are deliberately separate
// interfaces with separate request shapes: drafting and judging must remain
// structurally distinct call sites, not one polymorphic "ask the model"
// helper, so the judge never shares the drafter's generative context.

// Analyzer classifies a new user query against the conversation so far:
// is it in scope, and does answering it need retrieval. Must not mutate
// history. One external model invocation per call.
type Analyzer interface {
	Analyze(ctx context.Context, history []Message, query string) (QueryAnalysis, error)
}

// TokenFunc receives incremental draft text as the model produces it.
// Returning an error aborts the stream.
type TokenFunc func(ctx context.Context, token string) error

// Drafter produces a candidate answer. Tokens are forwarded to onToken as
// they arrive; the complete text is returned because the judge operates on
// whole answers, not partial streams. onToken may be nil for non-streaming
// callers.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest, onToken TokenFunc) (string, error)
}

// Judge validates a candidate answer for scope adherence, consistency with
// the retrieved evidence, and appropriateness, folding the three checks into
// one verdict.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (ResponseValidation, error)
}
