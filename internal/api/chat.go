package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lilybot/lily/internal/agent"
	"github.com/lilybot/lily/internal/log"
	"github.com/lilybot/lily/internal/session"
)

// Runner executes one conversational turn, streaming into sink and
// returning the committed agent message. *agent.Controller satisfies it;
// tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, hist agent.History, query string, sink agent.Sink) (agent.Message, error)
}

// sessionHeader carries the client's session identity. A missing or
// malformed value mints a fresh session, whose ID comes back in the
// done event so the client can stick with it.
const sessionHeader = "X-Session-ID"

// ChatHandler serves the conversational endpoints.
//
// Endpoints:
//   - POST /api/chat       - run one turn, streamed as SSE
//   - POST /api/regenerate - rerun the session's last query as a fresh turn
//   - POST /api/reset      - wipe session history, return the introduction
type ChatHandler struct {
	runner      Runner
	sessions    *session.Registry
	turnTimeout time.Duration
	logger      log.Logger
}

// NewChatHandler creates a chat handler. turnTimeout bounds a whole turn,
// analysis through commit; zero disables the deadline.
func NewChatHandler(runner Runner, sessions *session.Registry, turnTimeout time.Duration, logger log.Logger) *ChatHandler {
	return &ChatHandler{
		runner:      runner,
		sessions:    sessions,
		turnTimeout: turnTimeout,
		logger:      logger,
	}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/regenerate", h.handleRegenerate)
	mux.HandleFunc("POST /api/reset", h.handleReset)
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Query string `json:"query"`
}

// resetResponse is the POST /api/reset body.
type resetResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON with a query field")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "query is required")
		return
	}

	sess := h.resolveSession(r)
	h.runTurn(w, r, sess, req.Query)
}

func (h *ChatHandler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sess := h.resolveSession(r)

	query, err := sess.LastQuery()
	if err != nil {
		writeError(w, http.StatusBadRequest, "NO_LAST_QUERY", "nothing to regenerate yet")
		return
	}

	h.runTurn(w, r, sess, query)
}

func (h *ChatHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := h.resolveSession(r)

	if err := sess.Reset(); err != nil {
		writeError(w, http.StatusConflict, "TURN_IN_FLIGHT", "cannot reset while a turn is running")
		return
	}

	h.logger.Info("session reset", "sessionId", sess.ID)
	writeJSON(w, http.StatusOK, resetResponse{
		Response:  session.Introduction,
		SessionID: sess.ID.String(),
	})
}

// runTurn serializes on the session, streams the turn over SSE, and writes
// the terminal done or error frame. Turn admission happens before the SSE
// headers go out so rejections stay plain JSON.
func (h *ChatHandler) runTurn(w http.ResponseWriter, r *http.Request, sess *session.Session, query string) {
	if err := sess.BeginTurn(); err != nil {
		writeError(w, http.StatusConflict, "TURN_IN_FLIGHT", "a turn is already running for this session")
		return
	}

	committed := false
	defer func() { sess.EndTurn(query, committed) }()

	sw, err := newSSEWriter(w)
	if err != nil {
		h.logger.Error("streaming unsupported", "error", err)
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if h.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.turnTimeout)
		defer cancel()
	}

	sink := newStreamSink(sw)
	h.logger.Info("turn started", "sessionId", sess.ID, "queryLen", len(query))

	msg, err := h.runner.Run(ctx, sess.History, query, sink)
	if err != nil {
		h.finishError(sw, sink, sess, err)
		return
	}

	committed = true
	if err := sw.writeEvent("done", DoneData{
		Response:      msg.Content,
		SessionID:     sess.ID.String(),
		LowConfidence: msg.LowConfidence,
	}); err != nil {
		h.logger.Warn("done event not delivered", "sessionId", sess.ID, "error", err)
		return
	}
	h.logger.Info("turn completed",
		"sessionId", sess.ID,
		"responseLen", len(msg.Content),
		"lowConfidence", msg.LowConfidence)
}

// finishError writes the terminal error frame for a failed turn, unless the
// loop already emitted one through the sink.
func (h *ChatHandler) finishError(sw *sseWriter, sink *streamSink, sess *session.Session, err error) {
	h.logger.Error("turn failed", "sessionId", sess.ID, "error", err)

	switch {
	case sink.errorEmitted():
		// generation failure already reached the client
	case errors.Is(err, context.DeadlineExceeded):
		_ = sw.writeEvent("error", ErrorData{Code: "TURN_TIMEOUT", Message: "the assistant took too long to respond"})
	case errors.Is(err, context.Canceled):
		// client went away, nobody is listening
	default:
		_ = sw.writeEvent("error", ErrorData{Code: "TURN_FAILED", Message: err.Error()})
	}
}

// resolveSession maps the session header to a live session. Absent or
// invalid IDs silently start a new session.
func (h *ChatHandler) resolveSession(r *http.Request) *session.Session {
	id, err := uuid.Parse(r.Header.Get(sessionHeader))
	if err != nil {
		id = uuid.Nil
	}
	return h.sessions.GetOrCreate(id)
}
