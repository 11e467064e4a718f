package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tessera-labs/tessera/internal/api"
	"github.com/tessera-labs/tessera/internal/domain"
)

type QueryService interface {
	Answer(ctx context.Context, query domain.Query) (*domain.Answer, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	Question string   `json:"question"`
	TopK     int      `json:"top_k"`
	Lambda   *float64 `json:"lambda"`
	Provider string   `json:"provider"`
}

type SourceResponse struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

type TimingsResponse struct {
	RetrievalSeconds  float64 `json:"retrieval_seconds"`
	GenerationSeconds float64 `json:"generation_seconds"`
	TotalSeconds      float64 `json:"total_seconds"`
}

type QueryResponse struct {
	Answer      string           `json:"answer"`
	Blocked     bool             `json:"blocked"`
	BlockReason string           `json:"block_reason,omitempty"`
	Sources     []SourceResponse `json:"sources"`
	Timings     TimingsResponse  `json:"timings"`
}

func answerToResponse(a *domain.Answer) *QueryResponse {
	sources := make([]SourceResponse, len(a.Citations))
	for i, c := range a.Citations {
		sources[i] = SourceResponse{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Source:     c.Source,
			Title:      c.Title,
			Score:      c.Score,
			Snippet:    c.Snippet,
		}
	}

	return &QueryResponse{
		Answer:      a.Text,
		Blocked:     a.Blocked,
		BlockReason: a.BlockReason,
		Sources:     sources,
		Timings: TimingsResponse{
			RetrievalSeconds:  a.Timings.Retrieval.Seconds(),
			GenerationSeconds: a.Timings.Generation.Seconds(),
			TotalSeconds:      a.Timings.Total.Seconds(),
		},
	}
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	query := domain.Query{
		Question: req.Question,
		TopK:     req.TopK,
		Lambda:   req.Lambda,
		Provider: req.Provider,
	}

	answer, err := h.svc.Answer(r.Context(), query)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, answerToResponse(answer))
}
