package agent

import "errors"

// Sentinel errors for the orchestration loop. Wrap with
// fmt.Errorf("...: %w", err) and check with errors.Is().
var (
	// ErrAnalysis indicates the analyzer model call failed or returned
	// output that could not be parsed. Recovered locally: the loop
	// defaults to in-scope + retrieval-required and proceeds.
	ErrAnalysis = errors.New("query analysis failed")

	// ErrGeneration indicates the drafter model call itself failed (not a
	// bad answer). Fatal to the turn: surfaced to the caller, nothing
	// committed to history.
	ErrGeneration = errors.New("draft generation failed")

	// ErrValidation indicates the judge model call failed or returned
	// unparsable output. Recovered locally: treated as acceptance so a
	// broken judge cannot trap the loop, but logged distinguishably.
	ErrValidation = errors.New("response validation failed")

	// ErrUnknownTool indicates a dispatched call named a tool that is not
	// registered. Produces a failure-marked result, not a batch abort.
	ErrUnknownTool = errors.New("unknown tool")
)
