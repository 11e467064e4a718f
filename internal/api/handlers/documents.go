package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tessera-labs/tessera/internal/api"
	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/pagination"
)

type DocumentService interface {
	Ingest(ctx context.Context, docs []domain.Document) []domain.IngestResult
	DeleteDocument(ctx context.Context, id string) error
}

type DocumentLister interface {
	Documents(ctx context.Context, afterID string, limit int) ([]domain.DocumentRecord, error)
}

type DocumentsHandler struct {
	svc    DocumentService
	lister DocumentLister
}

func NewDocumentsHandler(svc DocumentService, lister DocumentLister) *DocumentsHandler {
	return &DocumentsHandler{svc: svc, lister: lister}
}

type DocumentPayload struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type IngestRequest struct {
	Documents []DocumentPayload `json:"documents"`
}

type IngestResultResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

type IngestResponse struct {
	Results []IngestResultResponse `json:"results"`
}

func (h *DocumentsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		api.Error(w, http.StatusBadRequest, "documents is required")
		return
	}

	docs := make([]domain.Document, len(req.Documents))
	for i, payload := range req.Documents {
		docs[i] = domain.Document{
			ID:      payload.ID,
			Source:  payload.Source,
			Title:   payload.Title,
			Content: payload.Content,
		}
	}

	results := h.svc.Ingest(r.Context(), docs)

	responses := make([]IngestResultResponse, len(results))
	for i, result := range results {
		responses[i] = IngestResultResponse{
			DocumentID: result.DocumentID,
			Status:     string(result.Status),
			ChunkCount: result.ChunkCount,
		}
		if result.Err != nil {
			responses[i].Error = result.Err.Error()
		}
	}

	api.Success(w, http.StatusOK, IngestResponse{Results: responses})
}

type DocumentResponse struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Title       string `json:"title"`
	Fingerprint string `json:"fingerprint"`
	ChunkCount  int    `json:"chunk_count"`
	UpdatedAt   string `json:"updated_at"`
}

func documentToResponse(record domain.DocumentRecord) DocumentResponse {
	return DocumentResponse{
		ID:          record.ID,
		Source:      record.Source,
		Title:       record.Title,
		Fingerprint: record.Fingerprint,
		ChunkCount:  record.ChunkCount,
		UpdatedAt:   record.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

type DocumentListResponse struct {
	Items   []DocumentResponse `json:"items"`
	Cursor  string             `json:"cursor,omitempty"`
	HasMore bool               `json:"has_more"`
}

func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limitStr := r.URL.Query().Get("limit")
	limit := 20
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	afterID := ""
	if decoded, err := pagination.DecodeCursor(cursor); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid cursor")
		return
	} else if decoded != nil {
		afterID = decoded.LastID
	}

	records, err := h.lister.Documents(r.Context(), afterID, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]DocumentResponse, len(records))
	for i, record := range records {
		items[i] = documentToResponse(record)
	}

	next := pagination.CreateNextCursor(records, limit, func(record domain.DocumentRecord) string {
		return record.ID
	})

	api.Success(w, http.StatusOK, DocumentListResponse{
		Items:   items,
		Cursor:  next,
		HasMore: next != "",
	})
}

type DeleteDocumentResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Delete removes one document. The route uses a wildcard because document
// ids are relative paths and may contain slashes.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.DeleteDocument(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DeleteDocumentResponse{ID: id, Deleted: true})
}
