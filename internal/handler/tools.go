package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edulab-ai/agent-hub/internal/catalog"
)

// ToolsHandler serves the read-only agent catalog.
type ToolsHandler struct {
	catalog *catalog.Catalog
}

// NewToolsHandler creates a new tools handler.
func NewToolsHandler(cat *catalog.Catalog) *ToolsHandler {
	return &ToolsHandler{
		catalog: cat,
	}
}

// List handles GET /api/v1/tools
// Supports ?category= and ?q= filters.
func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	query := r.URL.Query().Get("q")

	tools := h.catalog.Filter(category, query)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": tools,
		"total": len(tools),
	})
}

// Get handles GET /api/v1/tools/:id
func (h *ToolsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tool, ok := h.catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "tool not found")
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// Categories handles GET /api/v1/tools/categories
func (h *ToolsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": h.catalog.Categories(),
	})
}
