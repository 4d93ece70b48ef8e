package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pipewrench-ai/pipewrench/internal/api"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

type IngestService interface {
	IndexDocument(ctx context.Context, id, text string, revision int64) (*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

type IngestHandler struct {
	svc IngestService
}

func NewIngestHandler(svc IngestService) *IngestHandler {
	return &IngestHandler{svc: svc}
}

type IndexDocumentRequest struct {
	Text     string `json:"text"`
	Revision int64  `json:"revision"`
}

type DocumentResponse struct {
	ID         string `json:"id"`
	Revision   int64  `json:"revision"`
	ChunkCount int    `json:"chunk_count"`
	IndexedAt  string `json:"indexed_at"`
}

// Index handles the document-management collaborator's indexed callback:
// the document's extracted text at a given revision replaces whatever was
// indexed before.
func (h *IngestHandler) Index(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req IndexDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	doc, err := h.svc.IndexDocument(r.Context(), id, req.Text, req.Revision)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, &DocumentResponse{
		ID:         doc.ID,
		Revision:   doc.Revision,
		ChunkCount: doc.ChunkCount,
		IndexedAt:  doc.IndexedAt.UTC().Format(time.RFC3339),
	})
}

// Delete removes a document's vectors and registry entry.
func (h *IngestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.DeleteDocument(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusNoContent, nil)
}
