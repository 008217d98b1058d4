// Package session tracks per-conversation state: the history log, the
// single-turn-at-a-time guarantee, and the last query for regeneration.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lilybot/lily/internal/history"
)

// Introduction greets a fresh or reset conversation.
const Introduction = "Hi! I'm Lily, your appliance parts assistant. I can help you find refrigerator and dishwasher parts, check compatibility, and walk you through repairs. What can I help you with?"

// ErrTurnInFlight is returned when a turn is requested while another turn
// on the same session is still running.
var ErrTurnInFlight = errors.New("a turn is already in progress for this session")

// ErrNoLastQuery is returned by regeneration on a session that has not
// completed a turn yet.
var ErrNoLastQuery = errors.New("no previous query to regenerate")

// Session is one conversation. Turns on a session are serialized: BeginTurn
// admits at most one caller until its EndTurn runs. History is append-only
// and shared with concurrent readers.
type Session struct {
	ID        uuid.UUID
	History   *history.Store
	CreatedAt time.Time

	mu        sync.Mutex
	inFlight  bool
	lastQuery string
}

// NewSession creates an empty session with a fresh identifier.
func NewSession() *Session {
	return &Session{
		ID:        uuid.New(),
		History:   history.NewStore(),
		CreatedAt: time.Now(),
	}
}

// BeginTurn claims the session for one turn. It fails fast with
// ErrTurnInFlight instead of queueing; the caller decides whether to retry.
func (s *Session) BeginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.inFlight = true
	return nil
}

// EndTurn releases the session. committed records whether the turn reached
// history; only committed queries become regeneration targets.
func (s *Session) EndTurn(query string, committed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if committed {
		s.lastQuery = query
	}
}

// LastQuery returns the most recently committed query for regeneration.
func (s *Session) LastQuery() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastQuery == "" {
		return "", ErrNoLastQuery
	}
	return s.lastQuery, nil
}

// Reset clears the conversation. It refuses while a turn is running so a
// commit cannot land in a half-cleared log.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.History.Reset()
	s.lastQuery = ""
	return nil
}

// Registry hands out sessions by ID, creating them on first use.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Get returns the session with the given ID, or nil if it does not exist.
func (r *Registry) Get(id uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// GetOrCreate returns the session with the given ID, creating it if needed.
// A zero ID always creates a fresh session.
func (r *Registry) GetOrCreate(id uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != uuid.Nil {
		if s, ok := r.sessions[id]; ok {
			return s
		}
	}

	s := NewSession()
	if id != uuid.Nil {
		s.ID = id
	}
	r.sessions[s.ID] = s
	return s
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
