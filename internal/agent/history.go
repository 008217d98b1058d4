package agent

// History is the append-only conversation log a turn reads from and commits
// into. Implementations must make Snapshot a consistent read-only copy and
// Reset atomic with respect to concurrent readers.
type History interface {
	// Append adds messages to the end of the log.
	Append(msgs ...Message)

	// Snapshot returns an ordered copy of all messages. Callers may retain
	// and mutate the returned slice freely.
	Snapshot() []Message

	// Len reports the current number of messages.
	Len() int
}
