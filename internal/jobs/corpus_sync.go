package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/tessera-labs/tessera/internal/domain"
)

// DocumentSource defines the interface for listing the documents of a corpus
type DocumentSource interface {
	Load(ctx context.Context) ([]domain.Document, error)
}

// Ingester defines the pipeline operations a sync run drives
type Ingester interface {
	Ingest(ctx context.Context, docs []domain.Document) []domain.IngestResult
	DeleteDocument(ctx context.Context, id string) error
}

// DocumentLister defines the interface for paging through stored document records
type DocumentLister interface {
	Documents(ctx context.Context, afterID string, limit int) ([]domain.DocumentRecord, error)
}

const listPageSize = 200

// CorpusSyncer mirrors a document source into the index. When a source is
// configured it is the system of record: documents that disappear from it
// are removed from the index on the next sync.
type CorpusSyncer struct {
	source   DocumentSource
	ingester Ingester
	lister   DocumentLister
}

// NewCorpusSyncer creates a new CorpusSyncer instance
func NewCorpusSyncer(source DocumentSource, ingester Ingester, lister DocumentLister) *CorpusSyncer {
	return &CorpusSyncer{
		source:   source,
		ingester: ingester,
		lister:   lister,
	}
}

// Sync loads the corpus, ingests every document and removes stored documents
// the source no longer holds. Unchanged documents are skipped by the
// pipeline's fingerprint check, so a sync over a quiet corpus is cheap.
func (s *CorpusSyncer) Sync(ctx context.Context) ([]domain.IngestResult, error) {
	docs, err := s.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	results := s.ingester.Ingest(ctx, docs)

	present := make(map[string]bool, len(docs))
	for _, doc := range docs {
		present[doc.ID] = true
	}

	removed, err := s.prune(ctx, present)
	if err != nil {
		return nil, err
	}

	return append(results, removed...), nil
}

// Process implements the Processor interface
func (s *CorpusSyncer) Process(ctx context.Context) error {
	results, err := s.Sync(ctx)
	if err != nil {
		return err
	}

	var indexed, skipped, removed, failed int
	for _, result := range results {
		switch result.Status {
		case domain.IngestStatusIndexed:
			indexed++
		case domain.IngestStatusSkipped:
			skipped++
		case domain.IngestStatusRemoved:
			removed++
		case domain.IngestStatusFailed:
			failed++
		}
	}

	log.Printf("sync: %d indexed, %d skipped, %d removed, %d failed", indexed, skipped, removed, failed)
	return nil
}

// prune deletes stored documents absent from the source. The listing is
// paged so a large index never loads at once.
func (s *CorpusSyncer) prune(ctx context.Context, present map[string]bool) ([]domain.IngestResult, error) {
	var results []domain.IngestResult

	afterID := ""
	for {
		records, err := s.lister.Documents(ctx, afterID, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list stored documents: %w", err)
		}
		if len(records) == 0 {
			return results, nil
		}

		for _, record := range records {
			if present[record.ID] {
				continue
			}
			if err := s.ingester.DeleteDocument(ctx, record.ID); err != nil {
				log.Printf("sync: remove %s failed: %v", record.ID, err)
				results = append(results, domain.IngestResult{
					DocumentID: record.ID,
					Status:     domain.IngestStatusFailed,
					Err:        err,
				})
				continue
			}
			log.Printf("sync: removed %s", record.ID)
			results = append(results, domain.IngestResult{
				DocumentID: record.ID,
				Status:     domain.IngestStatusRemoved,
			})
		}

		afterID = records[len(records)-1].ID
		if len(records) < listPageSize {
			return results, nil
		}
	}
}
