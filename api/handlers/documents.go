package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/rag"
	"github.com/BaSui01/graphflow/rag/loader"
	"github.com/BaSui01/graphflow/types"
)

// DocumentsHandler manages corpus documents on the file backend: uploads are
// written as markdown files and the corpus is re-synced.
type DocumentsHandler struct {
	store        rag.Store
	loader       *loader.Loader
	registrar    corpusRegistrar
	documentsDir string
	logger       *zap.Logger
}

// corpusRegistrar re-registers a corpus's documents after a change.
type corpusRegistrar interface {
	RegisterCorpus(corpus string, documents []rag.Document)
}

// NewDocumentsHandler creates the document management handler.
func NewDocumentsHandler(store rag.Store, l *loader.Loader, registrar corpusRegistrar, documentsDir string, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		store:        store,
		loader:       l,
		registrar:    registrar,
		documentsDir: documentsDir,
		logger:       logger.With(zap.String("handler", "documents")),
	}
}

// HandleUpload writes one document into its corpus directory and re-syncs.
func (h *DocumentsHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req api.DocumentUploadRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "title and content are required").
			WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	if req.KnowledgeBase == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "knowledge_base is required").
			WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	dir := filepath.Join(h.documentsDir, req.KnowledgeBase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "create corpus directory").WithCause(err), h.logger)
		return
	}

	filename := strings.ReplaceAll(strings.ReplaceAll(req.Title, " ", "_"), "/", "-") + ".md"
	path := filepath.Join(dir, filename)
	body := "# " + req.Title + "\n\n" + req.Content
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "write document").WithCause(err), h.logger)
		return
	}

	documents, err := h.loader.LoadCorpus(req.KnowledgeBase, dir)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "reload corpus").WithCause(err), h.logger)
		return
	}
	if _, err := h.store.Sync(r.Context(), req.KnowledgeBase, documents); err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "sync corpus").WithCause(err), h.logger)
		return
	}
	if h.registrar != nil {
		h.registrar.RegisterCorpus(req.KnowledgeBase, documents)
	}

	docID := "doc_" + strings.TrimSuffix(filename, ".md")
	h.logger.Info("document uploaded",
		zap.String("corpus", req.KnowledgeBase),
		zap.String("doc_id", docID),
	)

	WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"document_id": docID,
	})
}
