package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// ProviderInfo is the read-only model configuration surfaced to clients.
type ProviderInfo struct {
	Provider      string `json:"provider"`
	SmallModel    string `json:"small_model"`
	LargeModel    string `json:"large_model"`
	ImageProvider string `json:"image_provider"`
}

// HealthHandler serves liveness, readiness, and provider info.
type HealthHandler struct {
	info      ProviderInfo
	retriever KnowledgeBackend
	logger    *zap.Logger
}

// NewHealthHandler creates the health handler. retriever may be nil.
func NewHealthHandler(info ProviderInfo, retriever KnowledgeBackend, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		info:      info,
		retriever: retriever,
		logger:    logger.With(zap.String("handler", "health")),
	}
}

// HandleHealth reports service status and the indexed document count.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	count := 0
	if h.retriever != nil {
		if n, err := h.retriever.Count(r.Context(), h.retriever.Active()); err == nil {
			count = n
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"document_count": count,
	})
}

// HandleVersion reports build information.
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// HandleProvider reports the configured provider and model classes.
func (h *HealthHandler) HandleProvider(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.info)
}
