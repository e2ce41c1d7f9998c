// Package httpapi is the HTTP edge: the chi router, SSE chat stream, health
// checks, and thin proxies to the external thread store (spec §6.3). It owns
// no pipeline logic itself — every substantive decision happens inside
// internal/coordinator; this package only turns process_query's Outcome into
// wire events and drives clarification resumption across turns.
//
// Grounded on the teacher's internal/api/server.go (chi router + middleware
// chain) and internal/api/handlers/chat.go (SSE streaming shape), generalized
// from MediSync's thinking/sql_preview/result event vocabulary to the
// step/status/content/tool_call schema spec §6.1 names.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nl2sqlcore/pipeline/internal/assistant"
	"github.com/nl2sqlcore/pipeline/internal/coordinator"
	"github.com/nl2sqlcore/pipeline/internal/pipelineerr"
	"github.com/nl2sqlcore/pipeline/internal/progress"
)

// streamEvent is one `data:` line of the chat stream, per spec §6.1.
type streamEvent struct {
	Step       string         `json:"step,omitempty"`
	Status     string         `json:"status,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	IsParent   *bool          `json:"is_parent,omitempty"`
	Content    string         `json:"content,omitempty"`
	ToolCall   *toolCallEvent `json:"tool_call,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
	Done       bool           `json:"done,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// toolCallEvent carries the NL2SQLResult payload (§6.2) or a clarification.
type toolCallEvent struct {
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
	Args       any    `json:"args,omitempty"`
	Result     any    `json:"result"`
}

// clarificationKeySentinel is the fixed turn slot used to look up a pending
// clarification for a thread: the HTTP edge doesn't know the prior turn's ID
// up front, so the HTTP edge saves and loads pending state under a
// per-thread "current pending turn" slot rather than a turn ID the client
// would have to round-trip.
const clarificationKeySentinel = "current"

// handleChatStream implements GET /api/chat/stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	message := r.URL.Query().Get("message")
	threadID := r.URL.Query().Get("thread_id")
	if message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if threadID == "" {
		threadID = uuid.New().String()
	}
	turnID := uuid.New().String()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	req := s.buildRequest(ctx, message, threadID, turnID)

	if req.Resume == nil && s.assistant != nil {
		kind, err := s.assistant.ClassifyIntent(ctx, message, threadID)
		if err != nil {
			s.logger.Warn("intent classification failed, falling back to the data pipeline", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		} else if kind == assistant.IntentChat {
			s.handleChatTurn(ctx, w, flusher, message, threadID)
			return
		}
	}

	queue := progress.NewQueue(32, s.logger)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range queue.Events() {
			writeSSE(w, flusher, stepEvent(ev))
		}
	}()

	outcome, err := coordinator.ProcessQuery(ctx, req, s.deps, queue)
	queue.Close()
	<-done

	if err != nil {
		s.logger.Error("process_query failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		writeSSE(w, flusher, streamEvent{Error: friendlyError(err), ThreadID: threadID, Done: true})
		return
	}

	s.finalizeOutcome(ctx, w, flusher, threadID, turnID, outcome)
}

// friendlyError surfaces a pipeline error's user-safe message when err wraps
// one, never the raw error text, per spec §7's "never expose raw error to
// the user." process_query is expected to have already converted every
// recoverable or terminal stage failure into a successful Outcome carrying
// a friendly Response.Error; this is the backstop for whatever doesn't.
func friendlyError(err error) string {
	var pErr *pipelineerr.Error
	if errors.As(err, &pErr) {
		return pErr.Friendly
	}
	return "something went wrong processing your request"
}

// handleChatTurn answers a non-data turn directly from the LLM, short-
// circuiting process_query entirely: per spec §4.9 the Data Assistant
// "does not coordinate executors" for chat turns, so no coordinator
// dependency (template search, validator, executor) is ever touched here.
func (s *Server) handleChatTurn(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, message, threadID string) {
	reply, err := s.deps.LLM.Run(ctx, "Respond conversationally and briefly to: "+message, threadID)
	if err != nil {
		s.logger.Error("chat reply failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		writeSSE(w, flusher, streamEvent{Error: "something went wrong processing your request", ThreadID: threadID, Done: true})
		return
	}
	writeSSE(w, flusher, streamEvent{Content: reply})
	writeSSE(w, flusher, streamEvent{ThreadID: threadID, Done: true})
}

// buildRequest assembles a coordinator.Request, resolving any pending
// clarification for threadID per spec §4.1's resumption rule: the HTTP edge
// detects the pending key and folds the user's reply in as the resume state
// instead of starting a fresh process_query call.
func (s *Server) buildRequest(ctx context.Context, message, threadID, turnID string) coordinator.Request {
	req := coordinator.Request{
		UserText:  message,
		ThreadID:  threadID,
		TurnID:    turnID,
		SessionID: threadID,
	}

	if s.clarification == nil {
		return req
	}

	pending, err := s.clarification.Load(ctx, threadID, clarificationKeySentinel)
	if err != nil {
		s.logger.Warn("clarification lookup failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		return req
	}
	if pending == nil {
		return req
	}

	req.Resume = pending
	if err := s.clarification.Clear(ctx, threadID, clarificationKeySentinel); err != nil {
		s.logger.Warn("clarification clear failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
	}
	return req
}

// finalizeOutcome writes the terminal tool_call + done events, persisting a
// new pending clarification if the turn didn't resolve.
func (s *Server) finalizeOutcome(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, threadID, turnID string, outcome coordinator.Outcome) {
	if outcome.Clarification != nil {
		if s.clarification != nil {
			if err := s.clarification.Save(ctx, threadID, clarificationKeySentinel, outcome.Clarification.PendingState); err != nil {
				s.logger.Warn("clarification save failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
			}
		}
		writeSSE(w, flusher, streamEvent{
			Content: outcome.Clarification.Question,
			ToolCall: &toolCallEvent{
				ToolName:   "nl2sql_clarification",
				ToolCallID: turnID,
				Result:     outcome.Clarification,
			},
		})
		writeSSE(w, flusher, streamEvent{ThreadID: threadID, Done: true})
		return
	}

	writeSSE(w, flusher, streamEvent{
		ToolCall: &toolCallEvent{
			ToolName:   "nl2sql_query",
			ToolCallID: turnID,
			Result:     outcome.Response,
		},
	})
	writeSSE(w, flusher, streamEvent{ThreadID: threadID, Done: true})
}

func stepEvent(ev progress.Event) streamEvent {
	isParent := ev.IsParent
	status := "started"
	if ev.Status == progress.StatusCompleted {
		status = "completed"
	}
	return streamEvent{
		Step:       ev.Name,
		Status:     status,
		DurationMS: ev.DurationMS,
		IsParent:   &isParent,
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev streamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
