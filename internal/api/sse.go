package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/lilybot/lily/internal/agent"
)

// SSE event payloads. Every event carries a small JSON object in its
// data field so clients never have to sniff plain-text frames.

// ChunkData is the payload of "chunk" events: one partial text fragment
// of the answer being drafted.
type ChunkData struct {
	Text string `json:"text"`
}

// RetractData is the payload of "retract" events. The client must discard
// all chunks received since the last retract (or since the stream began);
// a corrected draft follows.
type RetractData struct {
	Reason string `json:"reason,omitempty"`
}

// NoticeData is the payload of "notice" events, advisory text shown
// alongside the answer.
type NoticeData struct {
	Text string `json:"text"`
}

// DoneData is the payload of the final "done" event.
type DoneData struct {
	Response      string `json:"response"`
	SessionID     string `json:"sessionId"`
	LowConfidence bool   `json:"lowConfidence,omitempty"`
}

// ErrorData is the payload of "error" events.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sseWriter serializes Server-Sent Events onto an http.ResponseWriter.
// The mutex guards against interleaved frames when a handler and the
// streaming sink race on the same connection.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the SSE response headers and wraps w. It fails when
// the underlying writer cannot flush, which means streaming is impossible.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent marshals data and writes one complete SSE frame, flushing
// immediately so chunks reach the client without buffering delay.
func (s *sseWriter) writeEvent(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// streamSink adapts an sseWriter to the agent.Sink interface. Token events
// become "chunk" frames, retractions tell the client to clear accumulated
// text, and the loop's single error event is forwarded verbatim. The done
// frame is NOT written here: the handler owns it, because the committed
// message only exists after the turn returns.
type streamSink struct {
	w *sseWriter

	mu         sync.Mutex
	finalized  bool
	errEmitted bool
}

func newStreamSink(w *sseWriter) *streamSink {
	return &streamSink{w: w}
}

// Emit implements agent.Sink.
func (s *streamSink) Emit(ctx context.Context, ev agent.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	switch ev.Kind {
	case agent.EventToken:
		return s.w.writeEvent("chunk", ChunkData{Text: ev.Text})
	case agent.EventRetract:
		return s.w.writeEvent("retract", RetractData{Reason: ev.Text})
	case agent.EventNotice:
		return s.w.writeEvent("notice", NoticeData{Text: ev.Text})
	case agent.EventError:
		s.mu.Lock()
		s.errEmitted = true
		s.mu.Unlock()
		return s.w.writeEvent("error", ErrorData{Code: "GENERATION_FAILED", Message: ev.Text})
	default:
		return nil
	}
}

// Finalize implements agent.Sink. The SSE connection is closed by the
// handler returning, so there is nothing to release here; the flag only
// records that the turn finished its streaming phase.
func (s *streamSink) Finalize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	return nil
}

// errorEmitted reports whether the turn already wrote an error frame,
// so the handler does not duplicate it.
func (s *streamSink) errorEmitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errEmitted
}
