// Package history provides the in-memory conversation log backing a session.
package history

import (
	"sync"

	"github.com/lilybot/lily/internal/agent"
)

// Store is an append-only, concurrency-safe conversation log. Committed
// messages are never edited or removed; Reset replaces the log wholesale.
type Store struct {
	mu   sync.RWMutex
	msgs []agent.Message
}

// NewStore returns an empty log.
func NewStore() *Store {
	return &Store{}
}

// Append adds messages to the end of the log.
func (s *Store) Append(msgs ...agent.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msgs...)
}

// Snapshot returns an ordered copy of the log. The copy is detached; callers
// may retain and mutate it without affecting the store.
func (s *Store) Snapshot() []agent.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len reports the number of committed messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Reset atomically discards all messages. Concurrent snapshots observe
// either the full prior log or the empty one, never a partial state.
// Resetting an empty store is a no-op.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}
