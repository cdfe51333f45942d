package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edulab-ai/agent-hub/internal/chat"
	"github.com/edulab-ai/agent-hub/internal/middleware"
	"github.com/edulab-ai/agent-hub/internal/model"
	"github.com/edulab-ai/agent-hub/pkg/logger"
	"github.com/edulab-ai/agent-hub/pkg/metrics"
)

// ChatHandler exposes the live chat surface: session activation, the SSE
// message stream, and the session snapshot.
type ChatHandler struct {
	orchestrator *chat.Orchestrator
	catalog      ToolResolver
	logger       *logger.Logger
}

// ToolResolver looks catalog entries up by ID.
type ToolResolver interface {
	Get(id string) (model.Tool, bool)
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(orch *chat.Orchestrator, cat ToolResolver, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		orchestrator: orch,
		catalog:      cat,
		logger:       log,
	}
}

// StartSessionRequest selects the tool to chat with. An empty tool_id
// activates the general assistant.
type StartSessionRequest struct {
	ToolID string `json:"tool_id"`
}

// SessionResponse describes an active session. SessionID addresses the
// session on later calls; authenticated callers may omit it since the token
// already identifies them.
type SessionResponse struct {
	SessionID string          `json:"session_id"`
	ToolID    string          `json:"tool_id,omitempty"`
	State     chat.State      `json:"state"`
	Messages  []model.Message `json:"messages"`
}

// SendMessageRequest carries one user message. SessionID is required for
// unauthenticated callers.
type SendMessageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// StartSession handles POST /api/v1/chat/session
func (h *ChatHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var tool *model.Tool
	if req.ToolID != "" {
		t, ok := h.catalog.Get(req.ToolID)
		if !ok {
			writeError(w, http.StatusNotFound, "tool not found")
			return
		}
		tool = &t
	}

	studentID := middleware.GetStudentID(r.Context())
	owner := studentID
	if owner == "" {
		owner = uuid.Must(uuid.NewV7()).String()
	}

	sess, err := h.orchestrator.Activate(owner, studentID, tool)
	if err != nil {
		if errors.Is(err, chat.ErrExternalTool) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		SessionID: owner,
		ToolID:    req.ToolID,
		State:     sess.State(),
		Messages:  sess.Messages(),
	})
}

// EndSession handles DELETE /api/v1/chat/session
func (h *ChatHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	owner := h.ownerKey(r, r.URL.Query().Get("session_id"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	h.orchestrator.Close(owner)
	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /api/v1/chat/messages
// Returns the session's current message snapshot.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	owner := h.ownerKey(r, r.URL.Query().Get("session_id"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	sess, ok := h.orchestrator.Get(owner)
	if !ok {
		writeError(w, http.StatusNotFound, "no active chat session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":    sess.State(),
		"messages": sess.Messages(),
	})
}

// SendMessage handles POST /api/v1/chat/message
// Streams the reply over SSE: a "message" event with the growing reply after
// every fragment, then a terminal "done" event with the frozen message.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner := h.ownerKey(r, req.SessionID)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	if _, ok := h.orchestrator.Get(owner); !ok {
		writeError(w, http.StatusNotFound, "no active chat session")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	final, err := h.orchestrator.Send(ctx, owner, req.Content, func(msg model.Message) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sendSSEEvent(w, flusher, "message", msg)
	})
	if err != nil {
		if errors.Is(err, chat.ErrSendInFlight) {
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "send_in_flight",
				"message": err.Error(),
			})
			return
		}
		h.logger.Error("send failed", zap.Error(err))
		sendSSEEvent(w, flusher, "error", map[string]string{
			"code":    "send_error",
			"message": err.Error(),
		})
		return
	}

	sendSSEEvent(w, flusher, "done", final)
}

// ownerKey resolves the session key: the student identity when the caller is
// authenticated, otherwise the anonymous session ID handed out at activation.
func (h *ChatHandler) ownerKey(r *http.Request, sessionID string) string {
	if studentID := middleware.GetStudentID(r.Context()); studentID != "" {
		return studentID
	}
	return sessionID
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
