package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lilybot/lily/internal/agent"
)

func TestBeginTurnSerializes(t *testing.T) {
	t.Parallel()

	s := NewSession()

	if err := s.BeginTurn(); err != nil {
		t.Fatalf("first BeginTurn() = %v", err)
	}
	if err := s.BeginTurn(); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("second BeginTurn() = %v, want ErrTurnInFlight", err)
	}

	s.EndTurn("q", true)
	if err := s.BeginTurn(); err != nil {
		t.Fatalf("BeginTurn() after EndTurn = %v", err)
	}
}

func TestBeginTurnConcurrentAdmitsOne(t *testing.T) {
	t.Parallel()

	s := NewSession()

	const workers = 16
	var admitted, rejected int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.BeginTurn()
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else {
				rejected++
			}
		}()
	}
	wg.Wait()

	if admitted != 1 || rejected != workers-1 {
		t.Errorf("admitted = %d, rejected = %d, want 1 and %d", admitted, rejected, workers-1)
	}
}

func TestLastQueryTracksCommits(t *testing.T) {
	t.Parallel()

	s := NewSession()

	if _, err := s.LastQuery(); !errors.Is(err, ErrNoLastQuery) {
		t.Fatalf("LastQuery() on fresh session = %v, want ErrNoLastQuery", err)
	}

	// A failed turn leaves no regeneration target.
	if err := s.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	s.EndTurn("failed question", false)
	if _, err := s.LastQuery(); !errors.Is(err, ErrNoLastQuery) {
		t.Fatalf("LastQuery() after uncommitted turn = %v, want ErrNoLastQuery", err)
	}

	if err := s.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	s.EndTurn("good question", true)
	got, err := s.LastQuery()
	if err != nil || got != "good question" {
		t.Errorf("LastQuery() = %q, %v", got, err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := NewSession()
	s.History.Append(
		agent.Message{Role: agent.RoleUser, Content: "q", Timestamp: time.Now()},
		agent.Message{Role: agent.RoleAgent, Content: "a", Timestamp: time.Now()},
	)
	if err := s.BeginTurn(); err != nil {
		t.Fatal(err)
	}
	s.EndTurn("q", true)

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() = %v", err)
	}
	if s.History.Len() != 0 {
		t.Error("reset should clear history")
	}
	if _, err := s.LastQuery(); !errors.Is(err, ErrNoLastQuery) {
		t.Error("reset should clear the regeneration target")
	}

	// Idempotent.
	if err := s.Reset(); err != nil {
		t.Fatalf("second Reset() = %v", err)
	}
}

func TestResetRefusesDuringTurn(t *testing.T) {
	t.Parallel()

	s := NewSession()
	if err := s.BeginTurn(); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("Reset() during turn = %v, want ErrTurnInFlight", err)
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	// Zero ID always mints a new session.
	a := r.GetOrCreate(uuid.Nil)
	b := r.GetOrCreate(uuid.Nil)
	if a.ID == b.ID {
		t.Error("zero-ID creates should produce distinct sessions")
	}

	// A known ID is stable.
	if got := r.GetOrCreate(a.ID); got != a {
		t.Error("GetOrCreate with an existing ID should return the same session")
	}

	// An unknown non-zero ID is adopted.
	id := uuid.New()
	c := r.GetOrCreate(id)
	if c.ID != id {
		t.Errorf("adopted session ID = %v, want %v", c.ID, id)
	}
	if got := r.Get(id); got != c {
		t.Error("Get should find the adopted session")
	}

	if r.Get(uuid.New()) != nil {
		t.Error("Get with an unknown ID should return nil")
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistryConcurrentGetOrCreate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := uuid.New()

	var wg sync.WaitGroup
	results := make([]*Session, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate(id)
		}(i)
	}
	wg.Wait()

	for i, s := range results {
		if s != results[0] {
			t.Fatalf("goroutine %d got a different session instance", i)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
