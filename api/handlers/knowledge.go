package handlers

import (
	"context"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/api"
)

// KnowledgeBackend is the retriever surface the knowledge endpoints consume.
type KnowledgeBackend interface {
	Active() string
	Corpora() []string
	Count(ctx context.Context, corpus string) (int, error)
	SetActive(corpus string) error
}

// KnowledgeHandler exposes corpus inspection and switching.
type KnowledgeHandler struct {
	retriever KnowledgeBackend
	logger    *zap.Logger
}

// NewKnowledgeHandler creates the knowledge-base handler.
func NewKnowledgeHandler(retriever KnowledgeBackend, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		retriever: retriever,
		logger:    logger.With(zap.String("handler", "knowledge")),
	}
}

// HandleInfo reports the active corpus and per-corpus document counts.
func (h *KnowledgeHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	corpora := h.retriever.Corpora()
	sort.Strings(corpora)

	available := make([]map[string]any, 0, len(corpora))
	for _, corpus := range corpora {
		count, err := h.retriever.Count(r.Context(), corpus)
		if err != nil {
			h.logger.Warn("count failed", zap.String("corpus", corpus), zap.Error(err))
			count = 0
		}
		available = append(available, map[string]any{
			"id":             corpus,
			"document_count": count,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"active":    h.retriever.Active(),
		"available": available,
	})
}

// HandleSwitch switches the active corpus.
func (h *KnowledgeHandler) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req api.KnowledgeBaseRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}

	if err := h.retriever.SetActive(req.KnowledgeBase); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"active":  req.KnowledgeBase,
		"message": "Switched to " + req.KnowledgeBase + " knowledge base",
	})
}
