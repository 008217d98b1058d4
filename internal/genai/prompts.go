package genai

import (
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/lilybot/lily/internal/agent"
)

// System prompts for the three model roles plus the relevance grader. The
// assistant's domain is refrigerator and dishwasher parts and repairs;
// everything else is out of scope.

const analyzerSystemPrompt = `You are the query classifier for a customer assistant that helps with
refrigerator and dishwasher parts, repairs, installation and compatibility.

Classify the user's latest message against the conversation so far and reply
with JSON only:
- in_scope: true when the message concerns refrigerator or dishwasher parts,
  repairs, troubleshooting, part compatibility, installation or ordering.
  Greetings and follow-ups to an in-scope conversation are in scope.
  Anything else (other appliances, general chit-chat on unrelated topics,
  coding help) is out of scope.
- needs_retrieval: true when answering needs product or repair documentation
  rather than conversation context alone. Greetings, thanks and questions
  already answered earlier in the conversation do not need retrieval.
- rationale: one short sentence explaining the classification.
- retrieval_hints: when needs_retrieval is true, the lookups to run. Each
  hint has "tool" and "arguments". Available tools:
  - search_repairs {"query": string}: repair guides and troubleshooting
  - search_blogs {"query": string}: how-to and maintenance articles
  - lookup_parts {"part_number": string} or {"query": string}: part catalog
  - common_symptoms {"product": string, "symptom": string}: how often a
    failure is reported and which parts usually fix it
  - fetch_guide {"url": string}: fetch a product or repair page the
    conversation already references by URL
  Prefer specific part numbers over free text when the user gives one.`

const drafterSystemPrompt = `You are a customer assistant for refrigerator and dishwasher parts and
repairs. Answer the user's question using the conversation and the evidence
provided with it.

Rules:
- Ground every factual claim (part numbers, prices, compatibility, repair
  steps) in the evidence. Never invent part numbers or prices.
- If the evidence is thin or a retrieval failed, say what you could not
  verify instead of guessing.
- If the question is outside refrigerator and dishwasher parts and repairs,
  decline briefly and steer back to what you can help with.
- Entries marked as reviewer feedback point out problems with your previous
  attempt. Fix every issue they raise.
- Be concise and practical. Use plain language a homeowner can follow, and
  numbered steps for repair instructions.`

const judgeSystemPrompt = `You review draft answers from an appliance parts assistant before they reach
the customer. You are given the user's question, the evidence the drafter
saw, and the candidate answer.

Reject the candidate when any of these hold:
- It states part numbers, prices, compatibility or repair facts that the
  evidence does not support (hallucination).
- It wanders outside refrigerator and dishwasher parts and repairs, or
  answers an out-of-scope question instead of declining.
- It is unsafe, misleading, or ignores what the user actually asked.

Reply with JSON only:
- accepted: overall verdict.
- in_scope: whether the candidate stays on topic.
- hallucination_detected: whether it asserts unsupported facts.
- feedback: when rejecting, concrete instructions the drafter can act on
  (what to remove, what to cite, what to fix). Leave empty when accepting,
  or when the candidate is beyond repair and a retry would not help.`

const graderSystemPrompt = `Rate how relevant the document is to the user's query about appliance parts
and repairs. Reply with JSON only: {"score": <0.0 to 1.0>}. Use 0.0 for
unrelated, 1.0 for directly on point.`

// renderHistory converts committed conversation messages to model messages.
func renderHistory(history []agent.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case agent.RoleUser:
			out = append(out, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case agent.RoleAgent:
			out = append(out, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		}
	}
	return out
}

// renderEvidence formats tool results for prompt inclusion. Failed calls are
// surfaced as such so the drafter can acknowledge gaps, and synthetic
// entries are labeled as reviewer feedback so the drafter treats them as
// corrections rather than source material.
func renderEvidence(evidence []agent.ToolResult) string {
	if len(evidence) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Evidence:\n")
	for i, ev := range evidence {
		switch {
		case ev.Synthetic:
			fmt.Fprintf(&b, "[%d] reviewer feedback on your previous attempt:\n%s\n", i+1, ev.Payload)
		case ev.Failed:
			fmt.Fprintf(&b, "[%d] %s: lookup failed, no data available (%s)\n", i+1, ev.Source, ev.Payload)
		default:
			fmt.Fprintf(&b, "[%d] %s:\n%s\n", i+1, ev.Source, ev.Payload)
		}
	}
	return b.String()
}

// draftUserMessage builds the final user turn the drafter sees: the query
// plus the evidence block gathered for it.
func draftUserMessage(query string, evidence []agent.ToolResult) string {
	rendered := renderEvidence(evidence)
	if rendered == "" {
		return query
	}
	return query + "\n\n" + rendered
}

// judgeUserMessage builds the judge's single input message.
func judgeUserMessage(req agent.JudgeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User question:\n%s\n\n", req.Query)
	if rendered := renderEvidence(req.Evidence); rendered != "" {
		b.WriteString(rendered)
		b.WriteString("\n")
	} else {
		b.WriteString("Evidence: none was retrieved for this turn.\n\n")
	}
	if !req.Analysis.InScope {
		b.WriteString("Note: the query was classified out of scope; the candidate should decline.\n\n")
	}
	fmt.Fprintf(&b, "Candidate answer:\n%s", req.Candidate)
	return b.String()
}

// analyzeUserMessage builds the analyzer's input for the latest query.
func analyzeUserMessage(query string) string {
	return "Latest user message:\n" + query
}
