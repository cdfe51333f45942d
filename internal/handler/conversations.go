package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/edulab-ai/agent-hub/internal/middleware"
	"github.com/edulab-ai/agent-hub/internal/store"
	"github.com/edulab-ai/agent-hub/pkg/logger"
	"github.com/edulab-ai/agent-hub/pkg/metrics"
)

// ConversationHandler persists and serves recorded chat turns.
type ConversationHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st *store.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  st,
		logger: log,
	}
}

// Create handles POST /api/v1/conversations
// The body carries one completed turn; accuracy is optional.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var turn store.Conversation
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.store.InsertTurn(r.Context(), &turn)

	var missing *store.MissingFieldError
	if errors.As(err, &missing) {
		metrics.TurnsRecordedTotal.WithLabelValues(turn.AgentID, "rejected").Inc()
		writeError(w, http.StatusBadRequest, missing.Error())
		return
	}
	if err != nil {
		metrics.TurnsRecordedTotal.WithLabelValues(turn.AgentID, "error").Inc()
		h.logger.Error("failed to insert turn",
			zap.String("student_id", turn.StudentID),
			zap.String("agent_id", turn.AgentID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.TurnsRecordedTotal.WithLabelValues(turn.AgentID, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// List handles GET /api/v1/conversations
// Returns the authenticated student's turns, newest first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	studentID := middleware.GetStudentID(r.Context())
	if studentID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	turns, err := h.store.ListTurns(r.Context(), studentID, limit)
	if err != nil {
		h.logger.Error("failed to list turns",
			zap.String("student_id", studentID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": turns,
		"total":         len(turns),
	})
}
