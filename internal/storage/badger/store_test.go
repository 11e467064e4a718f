package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-labs/tessera/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(chunkID, docID string, seq int, text string, embedding []float32) domain.IndexEntry {
	return domain.IndexEntry{
		ChunkID:    chunkID,
		DocumentID: docID,
		Seq:        seq,
		Text:       text,
		Source:     "/corpus/" + docID,
		Title:      docID,
		Embedding:  embedding,
	}
}

func record(id, fingerprint string) domain.DocumentRecord {
	return domain.DocumentRecord{
		ID:          id,
		Source:      "/corpus/" + id,
		Title:       id,
		Fingerprint: fingerprint,
	}
}

func TestStore_SearchVectors_EmptyStore(t *testing.T) {
	store := openTestStore(t)

	hits, err := store.SearchVectors(context.Background(), []float32{1, 0, 0}, 5)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_UpsertAndSearch_CosineOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "exact match", []float32{1, 0, 0}),
		entry("a.md#1", "a.md", 1, "close match", []float32{0.9, 0.1, 0}),
		entry("b.md#0", "b.md", 0, "orthogonal", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	hits, err := store.SearchVectors(ctx, []float32{1, 0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.md#0", hits[0].Entry.ChunkID)
	assert.Equal(t, "a.md#1", hits[1].Entry.ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestStore_SearchVectors_TieBreaksByChunkID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Identical embeddings produce identical scores.
	err := store.Upsert(ctx, []domain.IndexEntry{
		entry("z.md#0", "z.md", 0, "twin", []float32{1, 0, 0}),
		entry("a.md#0", "a.md", 0, "twin", []float32{1, 0, 0}),
		entry("m.md#0", "m.md", 0, "twin", []float32{1, 0, 0}),
	})
	require.NoError(t, err)

	hits, err := store.SearchVectors(ctx, []float32{1, 0, 0}, 3)

	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a.md#0", hits[0].Entry.ChunkID)
	assert.Equal(t, "m.md#0", hits[1].Entry.ChunkID)
	assert.Equal(t, "z.md#0", hits[2].Entry.ChunkID)
}

func TestStore_SearchVectors_DimensionMismatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "text", []float32{1, 0, 0}),
	}))

	_, err := store.SearchVectors(ctx, []float32{1, 0}, 5)

	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestStore_Upsert_DimensionMismatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "text", []float32{1, 0, 0}),
	}))

	err := store.Upsert(ctx, []domain.IndexEntry{
		entry("b.md#0", "b.md", 0, "text", []float32{1, 0}),
	})

	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestStore_ReplaceDocument_RemovesStaleChunks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.ReplaceDocument(ctx, record("doc.md", "fp1"), []domain.IndexEntry{
		entry("doc.md#0", "doc.md", 0, "old first", []float32{1, 0, 0}),
		entry("doc.md#1", "doc.md", 1, "old second", []float32{0, 1, 0}),
		entry("doc.md#2", "doc.md", 2, "old third", []float32{0, 0, 1}),
	})
	require.NoError(t, err)

	// Re-ingest with fewer chunks: #2 must disappear.
	err = store.ReplaceDocument(ctx, record("doc.md", "fp2"), []domain.IndexEntry{
		entry("doc.md#0", "doc.md", 0, "new first", []float32{1, 0, 0}),
		entry("doc.md#1", "doc.md", 1, "new second", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	entries, err := store.Entries(ctx, []string{"doc.md#0", "doc.md#1", "doc.md#2"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new first", entries[0].Text)
	assert.Equal(t, "new second", entries[1].Text)

	doc, err := store.Document(ctx, "doc.md")
	require.NoError(t, err)
	assert.Equal(t, "fp2", doc.Fingerprint)
	assert.Equal(t, 2, doc.ChunkCount)
	assert.False(t, doc.UpdatedAt.IsZero())
}

func TestStore_ReplaceDocument_LeavesOtherDocumentsAlone(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceDocument(ctx, record("a.md", "fa"), []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "alpha", []float32{1, 0, 0}),
	}))
	require.NoError(t, store.ReplaceDocument(ctx, record("b.md", "fb"), []domain.IndexEntry{
		entry("b.md#0", "b.md", 0, "beta", []float32{0, 1, 0}),
	}))

	require.NoError(t, store.ReplaceDocument(ctx, record("a.md", "fa2"), []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "alpha two", []float32{1, 0, 0}),
	}))

	entries, err := store.Entries(ctx, []string{"b.md#0"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "beta", entries[0].Text)
}

func TestStore_Entries_SkipsMissing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "alpha", []float32{1, 0, 0}),
	}))

	entries, err := store.Entries(ctx, []string{"missing#0", "a.md#0", "missing#1"})

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.md#0", entries[0].ChunkID)
}

func TestStore_Document_NotFound(t *testing.T) {
	store := openTestStore(t)

	doc, err := store.Document(context.Background(), "nope.md")

	assert.Nil(t, doc)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestStore_Documents_Pagination(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c.md", "a.md", "b.md", "d.md"} {
		require.NoError(t, store.ReplaceDocument(ctx, record(id, "fp"), []domain.IndexEntry{
			entry(id+"#0", id, 0, "text", []float32{1, 0, 0}),
		}))
	}

	page, err := store.Documents(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "a.md", page[0].ID)
	assert.Equal(t, "b.md", page[1].ID)
	assert.Equal(t, "c.md", page[2].ID)

	page, err = store.Documents(ctx, "c.md", 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d.md", page[0].ID)
}

func TestStore_DeleteDocument(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceDocument(ctx, record("a.md", "fa"), []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "alpha", []float32{1, 0, 0}),
		entry("a.md#1", "a.md", 1, "alpha tail", []float32{0, 1, 0}),
	}))

	require.NoError(t, store.DeleteDocument(ctx, "a.md"))

	_, err := store.Document(ctx, "a.md")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	entries, err := store.Entries(ctx, []string{"a.md#0", "a.md#1"})
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, store.DeleteDocument(ctx, "a.md"), domain.ErrDocumentNotFound)
}

func TestStore_Stats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{}, stats)

	require.NoError(t, store.ReplaceDocument(ctx, record("a.md", "fa"), []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "alpha", []float32{1, 0, 0}),
		entry("a.md#1", "a.md", 1, "alpha tail", []float32{0, 1, 0}),
	}))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 3, stats.Dimension)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceDocument(ctx, record("a.md", "fa"), []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "alpha", []float32{1, 0, 0}),
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	hits, err := reopened.SearchVectors(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.md#0", hits[0].Entry.ChunkID)
	assert.Equal(t, "alpha", hits[0].Entry.Text)

	doc, err := reopened.Document(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "fa", doc.Fingerprint)
}

func TestStore_ContextCancelled(t *testing.T) {
	store := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Upsert(ctx, []domain.IndexEntry{
		entry("a.md#0", "a.md", 0, "alpha", []float32{1, 0, 0}),
	}))
	_, err := store.SearchVectors(ctx, []float32{1, 0, 0}, 1)
	assert.Error(t, err)
}
