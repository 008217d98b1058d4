package genai

import (
	"strings"
	"testing"

	"github.com/lilybot/lily/internal/agent"
)

func TestRenderEvidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		evidence []agent.ToolResult
		contains []string
		empty    bool
	}{
		{
			name:  "no evidence",
			empty: true,
		},
		{
			name: "successful results keep source and payload",
			evidence: []agent.ToolResult{
				{Source: "search_repairs", Payload: "Replace the door gasket."},
				{Source: "lookup_parts", Payload: "PS11752778 $54.95"},
			},
			contains: []string{"[1] search_repairs", "Replace the door gasket.", "[2] lookup_parts", "PS11752778"},
		},
		{
			name: "failed result is marked unavailable",
			evidence: []agent.ToolResult{
				{Source: "search_blogs", Payload: "retrieval failed: timeout", Failed: true},
			},
			contains: []string{"search_blogs", "no data available"},
		},
		{
			name: "synthetic result is labeled reviewer feedback",
			evidence: []agent.ToolResult{
				{Source: "judge-feedback", Payload: "cite the retrieved part number", Synthetic: true},
			},
			contains: []string{"reviewer feedback", "cite the retrieved part number"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := renderEvidence(tt.evidence)
			if tt.empty {
				if got != "" {
					t.Errorf("renderEvidence() = %q, want empty", got)
				}
				return
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("renderEvidence() missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestDraftUserMessage(t *testing.T) {
	t.Parallel()

	if got := draftUserMessage("my fridge leaks", nil); got != "my fridge leaks" {
		t.Errorf("without evidence = %q, want the bare query", got)
	}

	got := draftUserMessage("my fridge leaks", []agent.ToolResult{
		{Source: "search_repairs", Payload: "Check the defrost drain."},
	})
	if !strings.HasPrefix(got, "my fridge leaks") {
		t.Errorf("query should lead the message, got %q", got)
	}
	if !strings.Contains(got, "Check the defrost drain.") {
		t.Errorf("evidence payload missing from %q", got)
	}
}

func TestJudgeUserMessage(t *testing.T) {
	t.Parallel()

	req := agent.JudgeRequest{
		Query:     "what part number is the gasket",
		Candidate: "The gasket is part PS123.",
		Analysis:  agent.QueryAnalysis{InScope: true},
		Evidence: []agent.ToolResult{
			{Source: "lookup_parts", Payload: "PS123 door gasket"},
		},
	}

	got := judgeUserMessage(req)
	for _, want := range []string{"what part number is the gasket", "PS123 door gasket", "The gasket is part PS123."} {
		if !strings.Contains(got, want) {
			t.Errorf("judge message missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "out of scope") {
		t.Error("in-scope request should not carry the out-of-scope note")
	}

	req.Analysis.InScope = false
	req.Evidence = nil
	got = judgeUserMessage(req)
	if !strings.Contains(got, "out of scope") {
		t.Error("out-of-scope request should note the expected decline")
	}
	if !strings.Contains(got, "none was retrieved") {
		t.Error("empty evidence should be stated explicitly")
	}
}

func TestRenderHistorySkipsUnknownRoles(t *testing.T) {
	t.Parallel()

	msgs := renderHistory([]agent.Message{
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleAgent, Content: "hello"},
		{Role: agent.Role("system"), Content: "ignored"},
	})

	if len(msgs) != 2 {
		t.Fatalf("renderHistory() produced %d messages, want 2", len(msgs))
	}
}
