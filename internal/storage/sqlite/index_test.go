package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-labs/tessera/internal/domain"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()

	ix, err := Open(filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ix.Close())
	})
	return ix
}

func entry(docID string, seq int, text string) domain.IndexEntry {
	return domain.IndexEntry{
		ChunkID:    domain.ChunkID(docID, seq),
		DocumentID: docID,
		Seq:        seq,
		Text:       text,
		Source:     docID,
		EndOffset:  len([]rune(text)),
	}
}

func seedCorpus(t *testing.T, ix *Index) {
	t.Helper()

	require.NoError(t, ix.Upsert(context.Background(), []domain.IndexEntry{
		entry("sky.md", 0, "The sky is blue because sunlight scatters off air molecules."),
		entry("grass.md", 0, "Grass is green since chlorophyll absorbs red light."),
		entry("oil.md", 0, "Engine oil should be changed every twelve months."),
	}))
}

func TestIndexSearchEmpty(t *testing.T) {
	ix := openTestIndex(t)

	hits, err := ix.Search(context.Background(), "anything", 5)

	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexUpsertAndSearch(t *testing.T) {
	ix := openTestIndex(t)
	seedCorpus(t, ix)

	hits, err := ix.Search(context.Background(), "why is the sky blue", 5)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "sky.md#0", hits[0].Entry.ChunkID)
	assert.Equal(t, "grass.md#0", hits[1].Entry.ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestIndexSearchRespectsK(t *testing.T) {
	ix := openTestIndex(t)
	seedCorpus(t, ix)

	hits, err := ix.Search(context.Background(), "is", 1)

	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexSearchZeroK(t *testing.T) {
	ix := openTestIndex(t)
	seedCorpus(t, ix)

	hits, err := ix.Search(context.Background(), "sky", 0)

	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexSearchNoTokens(t *testing.T) {
	ix := openTestIndex(t)
	seedCorpus(t, ix)

	tests := []struct {
		name  string
		query string
	}{
		{name: "empty", query: ""},
		{name: "whitespace", query: "   "},
		{name: "punctuation only", query: "?!* --"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := ix.Search(context.Background(), tt.query, 5)
			assert.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestIndexSearchPunctuatedQuery(t *testing.T) {
	ix := openTestIndex(t)
	seedCorpus(t, ix)

	hits, err := ix.Search(context.Background(), "what's the sky's colour?", 5)

	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "sky.md#0", hits[0].Entry.ChunkID)
}

func TestIndexReplaceDocumentRemovesStaleText(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, []domain.IndexEntry{
		entry("manual.md", 0, "alpha bravo"),
		entry("manual.md", 1, "charlie delta"),
	}))

	require.NoError(t, ix.ReplaceDocument(ctx, "manual.md", []domain.IndexEntry{
		entry("manual.md", 0, "echo foxtrot"),
	}))

	stale, err := ix.Search(ctx, "bravo delta", 5)
	require.NoError(t, err)
	assert.Empty(t, stale)

	fresh, err := ix.Search(ctx, "foxtrot", 5)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "manual.md#0", fresh[0].Entry.ChunkID)
	assert.Equal(t, "echo foxtrot", fresh[0].Entry.Text)
}

func TestIndexReplaceDocumentLeavesOthers(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	seedCorpus(t, ix)

	require.NoError(t, ix.ReplaceDocument(ctx, "sky.md", []domain.IndexEntry{
		entry("sky.md", 0, "rewritten weather notes"),
	}))

	hits, err := ix.Search(ctx, "chlorophyll", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "grass.md#0", hits[0].Entry.ChunkID)
}

func TestIndexUpsertUpdatesExisting(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, []domain.IndexEntry{entry("note.md", 0, "alpha")}))
	require.NoError(t, ix.Upsert(ctx, []domain.IndexEntry{entry("note.md", 0, "bravo")}))

	stale, err := ix.Search(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, stale)

	fresh, err := ix.Search(ctx, "bravo", 5)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "bravo", fresh[0].Entry.Text)
}

func TestIndexDeleteDocument(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	seedCorpus(t, ix)

	require.NoError(t, ix.DeleteDocument(ctx, "oil.md"))

	gone, err := ix.Search(ctx, "engine", 5)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := ix.Search(ctx, "sky", 5)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	// Deleting again is a no-op.
	assert.NoError(t, ix.DeleteDocument(ctx, "oil.md"))
}

func TestIndexSearchTieBreaksOnChunkID(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, []domain.IndexEntry{
		entry("b.md", 0, "identical payload words"),
		entry("a.md", 0, "identical payload words"),
	}))

	hits, err := ix.Search(ctx, "identical", 5)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.md#0", hits[0].Entry.ChunkID)
	assert.Equal(t, "b.md#0", hits[1].Entry.ChunkID)
}

func TestIndexHitMetadata(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, []domain.IndexEntry{{
		ChunkID:     "docs/manual.md#3",
		DocumentID:  "docs/manual.md",
		Seq:         3,
		Text:        "Rotate the tires every ten thousand kilometers.",
		Source:      "docs/manual.md",
		Title:       "Owner Manual",
		StartOffset: 120,
		EndOffset:   167,
	}}))

	hits, err := ix.Search(ctx, "tires", 5)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	got := hits[0].Entry
	assert.Equal(t, "docs/manual.md#3", got.ChunkID)
	assert.Equal(t, "docs/manual.md", got.DocumentID)
	assert.Equal(t, 3, got.Seq)
	assert.Equal(t, "Owner Manual", got.Title)
	assert.Equal(t, 120, got.StartOffset)
	assert.Equal(t, 167, got.EndOffset)
	assert.Nil(t, got.Embedding)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	ctx := context.Background()

	ix, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, ix.Upsert(ctx, []domain.IndexEntry{entry("sky.md", 0, "sunlight scatters")}))
	require.NoError(t, ix.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	hits, err := reopened.Search(ctx, "sunlight", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestIndexContextCancelled(t *testing.T) {
	ix := openTestIndex(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ix.Upsert(ctx, []domain.IndexEntry{entry("sky.md", 0, "sunlight")})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = ix.Search(ctx, "sunlight", 5)
	assert.ErrorIs(t, err, context.Canceled)
}
