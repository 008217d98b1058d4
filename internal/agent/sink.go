package agent

import "context"

// EventKind classifies events written to a Sink.
type EventKind string

const (
	// EventToken is a partial text chunk of the draft being generated.
	EventToken EventKind = "token"

	// EventRetract tells the consumer to discard partial output from the
	// current round; a corrective redraft is about to start.
	EventRetract EventKind = "retract"

	// EventNotice is advisory text, e.g. that the committed answer is a
	// lower-confidence result.
	EventNotice EventKind = "notice"

	// EventError reports a fatal turn error. At most one per turn, and
	// only for generation failures.
	EventError EventKind = "error"
)

// Event is one item written to a Sink during a turn.
type Event struct {
	Kind EventKind
	Text string
}

// Sink is the output channel a turn streams into. The loop controller calls
// Emit zero or more times while drafting and Finalize exactly once, on
// commit or on cancellation. How events reach a caller (SSE, terminal,
// test buffer) is the sink's business.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Finalize(ctx context.Context) error
}

// NopSink discards all events. Useful for non-streaming callers that only
// want the returned Message.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) error { return nil }

// Finalize implements Sink.
func (NopSink) Finalize(context.Context) error { return nil }
