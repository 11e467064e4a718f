package service

import (
	"context"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/ratelimit"
	"github.com/tessera-labs/tessera/internal/telemetry"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

const defaultEmbedBatchSize = 100

// EmbeddingService turns document chunks into index entries by embedding
// their text in provider-sized batches.
type EmbeddingService struct {
	client    EmbeddingClient
	limiter   *ratelimit.Limiter
	batchSize int
}

// NewEmbeddingService creates a new EmbeddingService instance
func NewEmbeddingService(client EmbeddingClient) *EmbeddingService {
	return NewEmbeddingServiceWithOptions(client, nil, defaultEmbedBatchSize)
}

// NewEmbeddingServiceWithOptions creates a new EmbeddingService with a rate
// limiter and an explicit batch size
func NewEmbeddingServiceWithOptions(client EmbeddingClient, limiter *ratelimit.Limiter, batchSize int) *EmbeddingService {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	return &EmbeddingService{
		client:    client,
		limiter:   limiter,
		batchSize: batchSize,
	}
}

// Dimensions reports the vector width of the configured provider
func (s *EmbeddingService) Dimensions() int {
	return s.client.Dimensions()
}

// EmbedChunks embeds every chunk of a document and pairs each vector with its
// chunk metadata. A provider failure fails the whole document: partial entry
// sets are never returned.
func (s *EmbeddingService) EmbedChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) ([]domain.IndexEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "EmbeddingService.EmbedChunks", telemetry.SpanAttributes{
		DocumentID: doc.ID,
		Operation:  "embed",
	})
	defer span.End()

	if len(chunks) == 0 {
		return []domain.IndexEntry{}, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := s.client.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		if len(batch) != end-start {
			return nil, domain.NewDomainError(domain.ErrCodeInternalError, "embedding provider returned a mismatched batch")
		}
		vectors = append(vectors, batch...)
	}

	entries := make([]domain.IndexEntry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = domain.IndexEntry{
			ChunkID:     chunk.ID,
			DocumentID:  chunk.DocumentID,
			Seq:         chunk.Seq,
			Text:        chunk.Text,
			Source:      doc.Source,
			Title:       doc.Title,
			StartOffset: chunk.StartOffset,
			EndOffset:   chunk.EndOffset,
			Embedding:   vectors[i],
		}
	}

	return entries, nil
}

// EmbedQuery embeds a single query string
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := s.client.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, domain.NewDomainError(domain.ErrCodeInternalError, "embedding provider returned a mismatched batch")
	}
	return vectors[0], nil
}
