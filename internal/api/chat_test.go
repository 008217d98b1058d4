package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lilybot/lily/internal/agent"
	"github.com/lilybot/lily/internal/log"
	"github.com/lilybot/lily/internal/session"
)

// fakeRunner scripts turn outcomes and records the queries it saw.
type fakeRunner struct {
	mu      sync.Mutex
	queries []string
	run     func(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error)
}

func (f *fakeRunner) Run(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.run(ctx, hist, query, sink)
}

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// answering returns a runner that streams the answer word by word, commits
// the exchange to history, and finalizes the sink like the real loop does.
func answering(answer string) *fakeRunner {
	return &fakeRunner{run: func(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error) {
		for _, word := range strings.SplitAfter(answer, " ") {
			if err := sink.Emit(ctx, agent.Event{Kind: agent.EventToken, Text: word}); err != nil {
				return agent.Message{}, err
			}
		}
		now := time.Now()
		msg := agent.Message{Role: agent.RoleAgent, Content: answer, Timestamp: now}
		hist.Append(
			agent.Message{Role: agent.RoleUser, Content: query, Timestamp: now},
			msg,
		)
		_ = sink.Finalize(ctx)
		return msg, nil
	}}
}

type sseEvent struct {
	name string
	data string
}

// parseSSE splits a response body into its event frames.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if s, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = s
			}
			if s, ok := strings.CutPrefix(line, "data: "); ok {
				ev.data += s
			}
		}
		if ev.name == "" {
			t.Fatalf("frame without event name: %q", block)
		}
		events = append(events, ev)
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}

func newTestServer(runner Runner, sessions *session.Registry, opts Options) http.Handler {
	return NewServer(runner, sessions, nil, log.NewNop(), opts).Handler()
}

func postChat(handler http.Handler, sessionID, query string) *httptest.ResponseRecorder {
	body := strings.NewReader(fmt.Sprintf(`{"query": %q}`, query))
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestChat_StreamsAndCommits(t *testing.T) {
	t.Parallel()

	runner := answering("Check the water inlet valve.")
	sessions := session.NewRegistry()
	handler := newTestServer(runner, sessions, Options{})

	w := postChat(handler, "", "my ice maker stopped working")

	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}

	events := parseSSE(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("got %d events, want chunks plus done", len(events))
	}

	last := events[len(events)-1]
	if last.name != "done" {
		t.Fatalf("last event = %q, want done", last.name)
	}
	var done DoneData
	if err := json.Unmarshal([]byte(last.data), &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.Response != "Check the water inlet valve." {
		t.Errorf("done.Response = %q", done.Response)
	}
	if _, err := uuid.Parse(done.SessionID); err != nil {
		t.Errorf("done.SessionID = %q is not a uuid: %v", done.SessionID, err)
	}
	if done.LowConfidence {
		t.Error("done.LowConfidence = true, want false")
	}

	var streamed strings.Builder
	for _, ev := range events[:len(events)-1] {
		if ev.name != "chunk" {
			t.Fatalf("unexpected event %q before done", ev.name)
		}
		var chunk ChunkData
		if err := json.Unmarshal([]byte(ev.data), &chunk); err != nil {
			t.Fatalf("unmarshal chunk: %v", err)
		}
		streamed.WriteString(chunk.Text)
	}
	if streamed.String() != "Check the water inlet valve." {
		t.Errorf("streamed text = %q", streamed.String())
	}

	// The exchange landed in the session's history.
	sess := sessions.Get(uuid.MustParse(done.SessionID))
	if sess == nil {
		t.Fatal("session not registered")
	}
	if got := sess.History.Len(); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestChat_SessionReuse(t *testing.T) {
	t.Parallel()

	runner := answering("ok")
	sessions := session.NewRegistry()
	handler := newTestServer(runner, sessions, Options{})

	first := parseSSE(t, postChat(handler, "", "first").Body.String())
	var done DoneData
	if err := json.Unmarshal([]byte(first[len(first)-1].data), &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}

	postChat(handler, done.SessionID, "second")

	if got := sessions.Len(); got != 1 {
		t.Errorf("registry has %d sessions, want 1", got)
	}
	sess := sessions.Get(uuid.MustParse(done.SessionID))
	if got := sess.History.Len(); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
}

func TestChat_BadRequests(t *testing.T) {
	t.Parallel()

	handler := newTestServer(answering("ok"), session.NewRegistry(), Options{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed JSON", body: `{"query":`, code: "INVALID_REQUEST"},
		{name: "empty query", body: `{"query": ""}`, code: "MISSING_QUERY"},
		{name: "missing query field", body: `{}`, code: "MISSING_QUERY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal error response: %v", err)
			}
			if resp.Error != tt.code {
				t.Errorf("error code = %q, want %q", resp.Error, tt.code)
			}
		})
	}
}

func TestChat_RejectsConcurrentTurn(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error) {
		close(started)
		<-release
		_ = sink.Finalize(ctx)
		return agent.Message{Role: agent.RoleAgent, Content: "done"}, nil
	}}
	sessions := session.NewRegistry()
	sess := sessions.GetOrCreate(uuid.Nil)
	handler := newTestServer(runner, sessions, Options{})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		postChat(handler, sess.ID.String(), "slow question")
	}()

	<-started
	w := postChat(handler, sess.ID.String(), "impatient question")
	close(release)
	<-firstDone

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if resp.Error != "TURN_IN_FLIGHT" {
		t.Errorf("error code = %q, want TURN_IN_FLIGHT", resp.Error)
	}
}

func TestRegenerate(t *testing.T) {
	t.Parallel()

	runner := answering("the answer")
	sessions := session.NewRegistry()
	handler := newTestServer(runner, sessions, Options{})

	t.Run("without prior turn", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/regenerate", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("reruns last query", func(t *testing.T) {
		first := parseSSE(t, postChat(handler, "", "original question").Body.String())
		var done DoneData
		if err := json.Unmarshal([]byte(first[len(first)-1].data), &done); err != nil {
			t.Fatalf("unmarshal done: %v", err)
		}

		req := httptest.NewRequest(http.MethodPost, "/api/regenerate", nil)
		req.Header.Set(sessionHeader, done.SessionID)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		events := parseSSE(t, w.Body.String())
		if events[len(events)-1].name != "done" {
			t.Fatalf("last event = %q, want done", events[len(events)-1].name)
		}

		seen := runner.seen()
		if len(seen) != 2 || seen[1] != "original question" {
			t.Errorf("runner queries = %v, want original question rerun", seen)
		}
	})
}

func TestReset(t *testing.T) {
	t.Parallel()

	runner := answering("noted")
	sessions := session.NewRegistry()
	handler := newTestServer(runner, sessions, Options{})

	first := parseSSE(t, postChat(handler, "", "hello").Body.String())
	var done DoneData
	if err := json.Unmarshal([]byte(first[len(first)-1].data), &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	sess := sessions.Get(uuid.MustParse(done.SessionID))
	if sess.History.Len() == 0 {
		t.Fatal("history empty before reset")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	req.Header.Set(sessionHeader, done.SessionID)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp resetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal reset response: %v", err)
	}
	if resp.Response != session.Introduction {
		t.Errorf("reset response = %q, want the introduction", resp.Response)
	}
	if resp.SessionID != done.SessionID {
		t.Errorf("reset sessionId = %q, want %q", resp.SessionID, done.SessionID)
	}
	if got := sess.History.Len(); got != 0 {
		t.Errorf("history length after reset = %d, want 0", got)
	}
}

func TestChat_RetryEventsReachClient(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: func(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error) {
		_ = sink.Emit(ctx, agent.Event{Kind: agent.EventToken, Text: "bad draft"})
		_ = sink.Emit(ctx, agent.Event{Kind: agent.EventRetract})
		_ = sink.Emit(ctx, agent.Event{Kind: agent.EventToken, Text: "good draft"})
		_ = sink.Emit(ctx, agent.Event{Kind: agent.EventNotice, Text: "heads up"})
		_ = sink.Finalize(ctx)
		return agent.Message{Role: agent.RoleAgent, Content: "good draft", LowConfidence: true}, nil
	}}
	handler := newTestServer(runner, session.NewRegistry(), Options{})

	events := parseSSE(t, postChat(handler, "", "q").Body.String())

	want := []string{"chunk", "retract", "chunk", "notice", "done"}
	names := eventNames(events)
	if len(names) != len(want) {
		t.Fatalf("event names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("event names = %v, want %v", names, want)
		}
	}

	var done DoneData
	if err := json.Unmarshal([]byte(events[len(events)-1].data), &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if !done.LowConfidence {
		t.Error("done.LowConfidence = false, want true")
	}
}

func TestChat_GenerationFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: func(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error) {
		err := fmt.Errorf("%w: model unavailable", agent.ErrGeneration)
		_ = sink.Emit(ctx, agent.Event{Kind: agent.EventError, Text: err.Error()})
		_ = sink.Finalize(ctx)
		return agent.Message{}, err
	}}
	handler := newTestServer(runner, session.NewRegistry(), Options{})

	events := parseSSE(t, postChat(handler, "", "q").Body.String())

	errorCount := 0
	for _, ev := range events {
		if ev.name == "done" {
			t.Error("done event after a failed turn")
		}
		if ev.name == "error" {
			errorCount++
		}
	}
	if errorCount != 1 {
		t.Errorf("error events = %d, want exactly 1", errorCount)
	}
}

func TestChat_TurnTimeout(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: func(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error) {
		<-ctx.Done()
		_ = sink.Finalize(ctx)
		return agent.Message{}, ctx.Err()
	}}
	handler := newTestServer(runner, session.NewRegistry(), Options{TurnTimeout: 20 * time.Millisecond})

	events := parseSSE(t, postChat(handler, "", "q").Body.String())

	if len(events) != 1 || events[0].name != "error" {
		t.Fatalf("events = %v, want a single error frame", eventNames(events))
	}
	var data ErrorData
	if err := json.Unmarshal([]byte(events[0].data), &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if data.Code != "TURN_TIMEOUT" {
		t.Errorf("error code = %q, want TURN_TIMEOUT", data.Code)
	}
}

func TestChat_FailedTurnDoesNotSetLastQuery(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: func(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error) {
		_ = sink.Finalize(ctx)
		return agent.Message{}, errors.New("boom")
	}}
	sessions := session.NewRegistry()
	sess := sessions.GetOrCreate(uuid.Nil)
	handler := newTestServer(runner, sessions, Options{})

	postChat(handler, sess.ID.String(), "doomed")

	if _, err := sess.LastQuery(); !errors.Is(err, session.ErrNoLastQuery) {
		t.Errorf("LastQuery error = %v, want ErrNoLastQuery", err)
	}
}
