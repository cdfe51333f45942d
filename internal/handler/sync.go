package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/edulab-ai/agent-hub/internal/syncer"
	"github.com/edulab-ai/agent-hub/pkg/logger"
)

// SyncHandler triggers the conversation-log reconciler on demand.
type SyncHandler struct {
	reconciler *syncer.Reconciler
	botIDs     []string
	logger     *logger.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(rec *syncer.Reconciler, botIDs []string, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		reconciler: rec,
		botIDs:     botIDs,
		logger:     log,
	}
}

// Trigger handles POST /api/v1/sync
// Runs one reconciliation pass over the configured bots and reports the
// per-bot outcome.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil || len(h.botIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"ok":    false,
			"error": "no sync bots configured",
		})
		return
	}

	results, err := h.reconciler.Run(r.Context(), h.botIDs)
	if err != nil {
		h.logger.Error("manual sync run failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": results,
	})
}
