package agent

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks messages written by the human asking questions.
	RoleUser Role = "user"

	// RoleAgent marks messages produced by the assistant.
	RoleAgent Role = "agent"
)

// Message is one entry in a conversation history. Messages are immutable
// once appended; ordering is the order of appends.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time

	// LowConfidence is set when the answer was committed after the retry
	// budget ran out or the judge rejected it without usable feedback.
	LowConfidence bool
}

// QueryAnalysis is the analyzer's classification of one user turn.
// It is produced once per turn and discarded after the turn commits.
type QueryAnalysis struct {
	InScope        bool       `json:"in_scope"`
	NeedsRetrieval bool       `json:"needs_retrieval"`
	Rationale      string     `json:"rationale"`
	RetrievalHints []ToolCall `json:"retrieval_hints"`
}

// ToolCall is a single retrieval request: which tool to run and with what
// arguments. It is a value object with no identity beyond the turn.
type ToolCall struct {
	Name      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// BatchToolCall is an ordered set of tool calls issued concurrently for one
// turn. The dispatcher preserves this order in its results.
type BatchToolCall []ToolCall

// ToolResult is the normalized outcome of one retrieval call, or a piece of
// judge feedback folded back into the evidence set (Synthetic=true). The
// synthetic tag must survive so retry rounds stay auditable.
type ToolResult struct {
	Source    string
	Payload   string
	Failed    bool
	Synthetic bool
}

// FailureResult builds the failure-marked result for a tool call that
// errored or timed out. The batch continues; drafting sees the marker.
func FailureResult(source string, err error) ToolResult {
	return ToolResult{
		Source:  source,
		Payload: fmt.Sprintf("retrieval failed: %v", err),
		Failed:  true,
	}
}

// SyntheticResult wraps judge feedback as evidence for the next draft round.
func SyntheticResult(feedback string) ToolResult {
	return ToolResult{
		Source:    "judge-feedback",
		Payload:   feedback,
		Synthetic: true,
	}
}

// ResponseValidation is the judge's verdict on one candidate answer.
type ResponseValidation struct {
	Accepted      bool   `json:"accepted"`
	InScope       bool   `json:"in_scope"`
	Hallucination bool   `json:"hallucination_detected"`
	Feedback      string `json:"feedback"`
}

// Actionable reports whether a rejection carries feedback the drafter could
// act on. A rejection without feedback terminates the retry path.
func (v ResponseValidation) Actionable() bool {
	return v.Feedback != ""
}

// DraftRequest carries everything the drafter needs for one candidate:
// full history, the analyzer's classification, and all evidence gathered so
// far in the turn, synthetic feedback included. Corrective feedback travels
// through Evidence, not through a dedicated parameter.
type DraftRequest struct {
	History  []Message
	Query    string
	Analysis QueryAnalysis
	Evidence []ToolResult
}

// JudgeRequest is the validator's input. It is deliberately narrower than
// DraftRequest: the judge sees the candidate and the evidence, not the full
// conversation, so validation is not self-assessment by the drafting context.
type JudgeRequest struct {
	Query     string
	Candidate string
	Analysis  QueryAnalysis
	Evidence  []ToolResult
}
