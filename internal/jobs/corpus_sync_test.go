package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tessera-labs/tessera/internal/domain"
)

// MockDocumentSource is a mock implementation of DocumentSource
type MockDocumentSource struct {
	mock.Mock
}

func (m *MockDocumentSource) Load(ctx context.Context) ([]domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Document), args.Error(1)
}

// MockIngester is a mock implementation of Ingester
type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, docs []domain.Document) []domain.IngestResult {
	args := m.Called(ctx, docs)
	return args.Get(0).([]domain.IngestResult)
}

func (m *MockIngester) DeleteDocument(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockDocumentLister is a mock implementation of DocumentLister
type MockDocumentLister struct {
	mock.Mock
}

func (m *MockDocumentLister) Documents(ctx context.Context, afterID string, limit int) ([]domain.DocumentRecord, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DocumentRecord), args.Error(1)
}

func TestCorpusSyncerIngestsLoadedDocuments(t *testing.T) {
	ctx := context.Background()

	source := new(MockDocumentSource)
	ingester := new(MockIngester)
	lister := new(MockDocumentLister)

	docs := []domain.Document{
		{ID: "guides/a.md", Content: "alpha"},
		{ID: "guides/b.md", Content: "beta"},
	}
	source.On("Load", ctx).Return(docs, nil)
	ingester.On("Ingest", ctx, docs).Return([]domain.IngestResult{
		{DocumentID: "guides/a.md", Status: domain.IngestStatusIndexed, ChunkCount: 1},
		{DocumentID: "guides/b.md", Status: domain.IngestStatusSkipped, ChunkCount: 1},
	})
	lister.On("Documents", ctx, "", listPageSize).Return([]domain.DocumentRecord{
		{ID: "guides/a.md"},
		{ID: "guides/b.md"},
	}, nil)

	syncer := NewCorpusSyncer(source, ingester, lister)
	results, err := syncer.Sync(ctx)

	assert.NoError(t, err)
	assert.Len(t, results, 2)
	ingester.AssertNotCalled(t, "DeleteDocument", mock.Anything, mock.Anything)
}

func TestCorpusSyncerRemovesDocumentsAbsentFromSource(t *testing.T) {
	ctx := context.Background()

	source := new(MockDocumentSource)
	ingester := new(MockIngester)
	lister := new(MockDocumentLister)

	docs := []domain.Document{{ID: "guides/a.md", Content: "alpha"}}
	source.On("Load", ctx).Return(docs, nil)
	ingester.On("Ingest", ctx, docs).Return([]domain.IngestResult{
		{DocumentID: "guides/a.md", Status: domain.IngestStatusSkipped, ChunkCount: 1},
	})
	lister.On("Documents", ctx, "", listPageSize).Return([]domain.DocumentRecord{
		{ID: "guides/a.md"},
		{ID: "guides/gone.md"},
	}, nil)
	ingester.On("DeleteDocument", ctx, "guides/gone.md").Return(nil)

	syncer := NewCorpusSyncer(source, ingester, lister)
	results, err := syncer.Sync(ctx)

	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "guides/gone.md", results[1].DocumentID)
	assert.Equal(t, domain.IngestStatusRemoved, results[1].Status)
	ingester.AssertExpectations(t)
}

func TestCorpusSyncerReportsFailedRemovals(t *testing.T) {
	ctx := context.Background()

	source := new(MockDocumentSource)
	ingester := new(MockIngester)
	lister := new(MockDocumentLister)

	source.On("Load", ctx).Return([]domain.Document{}, nil)
	ingester.On("Ingest", ctx, []domain.Document{}).Return([]domain.IngestResult{})
	lister.On("Documents", ctx, "", listPageSize).Return([]domain.DocumentRecord{
		{ID: "guides/stuck.md"},
	}, nil)
	ingester.On("DeleteDocument", ctx, "guides/stuck.md").Return(errors.New("index locked"))

	syncer := NewCorpusSyncer(source, ingester, lister)
	results, err := syncer.Sync(ctx)

	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, domain.IngestStatusFailed, results[0].Status)
	assert.Error(t, results[0].Err)
}

func TestCorpusSyncerFailsWhenSourceUnreadable(t *testing.T) {
	ctx := context.Background()

	source := new(MockDocumentSource)
	ingester := new(MockIngester)
	lister := new(MockDocumentLister)

	source.On("Load", ctx).Return(nil, errors.New("directory missing"))

	syncer := NewCorpusSyncer(source, ingester, lister)
	results, err := syncer.Sync(ctx)

	assert.Error(t, err)
	assert.Nil(t, results)
	ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	lister.AssertNotCalled(t, "Documents", mock.Anything, mock.Anything, mock.Anything)
}

func TestCorpusSyncerPagesThroughStoredDocuments(t *testing.T) {
	ctx := context.Background()

	source := new(MockDocumentSource)
	ingester := new(MockIngester)
	lister := new(MockDocumentLister)

	source.On("Load", ctx).Return([]domain.Document{}, nil)
	ingester.On("Ingest", ctx, []domain.Document{}).Return([]domain.IngestResult{})

	firstPage := make([]domain.DocumentRecord, listPageSize)
	for i := range firstPage {
		firstPage[i] = domain.DocumentRecord{ID: domain.ChunkID("page1", i)}
	}
	lister.On("Documents", ctx, "", listPageSize).Return(firstPage, nil)
	lister.On("Documents", ctx, firstPage[len(firstPage)-1].ID, listPageSize).
		Return([]domain.DocumentRecord{}, nil)
	ingester.On("DeleteDocument", ctx, mock.Anything).Return(nil)

	syncer := NewCorpusSyncer(source, ingester, lister)
	results, err := syncer.Sync(ctx)

	assert.NoError(t, err)
	assert.Len(t, results, listPageSize)
	lister.AssertNumberOfCalls(t, "Documents", 2)
}

func TestCorpusSyncerProcessSummarizes(t *testing.T) {
	ctx := context.Background()

	source := new(MockDocumentSource)
	ingester := new(MockIngester)
	lister := new(MockDocumentLister)

	docs := []domain.Document{{ID: "a.txt", Content: "alpha"}}
	source.On("Load", ctx).Return(docs, nil)
	ingester.On("Ingest", ctx, docs).Return([]domain.IngestResult{
		{DocumentID: "a.txt", Status: domain.IngestStatusIndexed, ChunkCount: 1},
	})
	lister.On("Documents", ctx, "", listPageSize).Return([]domain.DocumentRecord{{ID: "a.txt"}}, nil)

	syncer := NewCorpusSyncer(source, ingester, lister)
	assert.NoError(t, syncer.Process(ctx))
}
