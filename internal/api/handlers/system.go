package handlers

import (
	"context"
	"net/http"

	"github.com/tessera-labs/tessera/internal/api"
	"github.com/tessera-labs/tessera/internal/domain"
)

type StatsSource interface {
	Stats(ctx context.Context) (domain.IndexStats, error)
}

type Syncer interface {
	Sync(ctx context.Context) ([]domain.IngestResult, error)
}

// SystemInfo carries the static configuration reported by the status endpoint
type SystemInfo struct {
	Backend           string
	EmbeddingProvider string
	LLMProvider       string
	SearchMode        string
}

type SystemHandler struct {
	stats  StatsSource
	syncer Syncer
	info   SystemInfo
}

// NewSystemHandler creates the status and sync handler. syncer may be nil
// when no corpus directory is configured.
func NewSystemHandler(stats StatsSource, syncer Syncer, info SystemInfo) *SystemHandler {
	return &SystemHandler{stats: stats, syncer: syncer, info: info}
}

type StatusResponse struct {
	Documents         int    `json:"documents"`
	Chunks            int    `json:"chunks"`
	Dimension         int    `json:"dimension"`
	Backend           string `json:"backend"`
	EmbeddingProvider string `json:"embedding_provider"`
	LLMProvider       string `json:"llm_provider"`
	SearchMode        string `json:"search_mode"`
}

func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, StatusResponse{
		Documents:         stats.Documents,
		Chunks:            stats.Chunks,
		Dimension:         stats.Dimension,
		Backend:           h.info.Backend,
		EmbeddingProvider: h.info.EmbeddingProvider,
		LLMProvider:       h.info.LLMProvider,
		SearchMode:        h.info.SearchMode,
	})
}

type SyncResponse struct {
	Indexed int                    `json:"indexed"`
	Skipped int                    `json:"skipped"`
	Removed int                    `json:"removed"`
	Failed  int                    `json:"failed"`
	Results []IngestResultResponse `json:"results"`
}

func (h *SystemHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		api.Error(w, http.StatusBadRequest, "no corpus directory configured")
		return
	}

	results, err := h.syncer.Sync(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SyncResponse{Results: make([]IngestResultResponse, len(results))}
	for i, result := range results {
		resp.Results[i] = IngestResultResponse{
			DocumentID: result.DocumentID,
			Status:     string(result.Status),
			ChunkCount: result.ChunkCount,
		}
		if result.Err != nil {
			resp.Results[i].Error = result.Err.Error()
		}
		switch result.Status {
		case domain.IngestStatusIndexed:
			resp.Indexed++
		case domain.IngestStatusSkipped:
			resp.Skipped++
		case domain.IngestStatusRemoved:
			resp.Removed++
		case domain.IngestStatusFailed:
			resp.Failed++
		}
	}

	api.Success(w, http.StatusOK, resp)
}
