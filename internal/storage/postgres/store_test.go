//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/testutil"
)

func setupStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()

	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../../migrations")
	t.Cleanup(pool.Close)

	return New(pool)
}

func entry(docID string, seq int, embedding []float32) domain.IndexEntry {
	return domain.IndexEntry{
		ChunkID:    domain.ChunkID(docID, seq),
		DocumentID: docID,
		Seq:        seq,
		Text:       "chunk text",
		Source:     docID,
		Embedding:  embedding,
	}
}

func record(docID, fingerprint string) domain.DocumentRecord {
	return domain.DocumentRecord{
		ID:          docID,
		Source:      docID,
		Fingerprint: fingerprint,
	}
}

func TestStore_SearchVectors(t *testing.T) {
	ctx := context.Background()
	store := setupStore(ctx, t)

	require.NoError(t, store.Upsert(ctx, []domain.IndexEntry{
		entry("a.md", 0, []float32{1, 0, 0}),
		entry("b.md", 0, []float32{0.9, 0.1, 0}),
		entry("c.md", 0, []float32{0, 1, 0}),
	}))

	hits, err := store.SearchVectors(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a.md#0", hits[0].Entry.ChunkID)
	assert.Equal(t, "b.md#0", hits[1].Entry.ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Len(t, hits[0].Entry.Embedding, 3)
}

func TestStore_SearchVectors_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	store := setupStore(ctx, t)

	hits, err := store.SearchVectors(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_SearchVectors_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := setupStore(ctx, t)

	require.NoError(t, store.Upsert(ctx, []domain.IndexEntry{entry("a.md", 0, []float32{1, 0, 0})}))

	_, err := store.SearchVectors(ctx, []float32{1, 0}, 5)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = store.Upsert(ctx, []domain.IndexEntry{entry("b.md", 0, []float32{1, 0})})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestStore_ReplaceDocument(t *testing.T) {
	ctx := context.Background()
	store := setupStore(ctx, t)

	require.NoError(t, store.ReplaceDocument(ctx, record("manual.md", "v1"), []domain.IndexEntry{
		entry("manual.md", 0, []float32{1, 0, 0}),
		entry("manual.md", 1, []float32{0, 1, 0}),
	}))
	require.NoError(t, store.ReplaceDocument(ctx, record("other.md", "v1"), []domain.IndexEntry{
		entry("other.md", 0, []float32{0, 0, 1}),
	}))

	require.NoError(t, store.ReplaceDocument(ctx, record("manual.md", "v2"), []domain.IndexEntry{
		entry("manual.md", 0, []float32{0.5, 0.5, 0}),
	}))

	entries, err := store.Entries(ctx, []string{"manual.md#0", "manual.md#1", "other.md#0"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "manual.md#0", entries[0].ChunkID)
	assert.Equal(t, "other.md#0", entries[1].ChunkID)

	doc, err := store.Document(ctx, "manual.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Fingerprint)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.WithinDuration(t, time.Now().UTC(), doc.UpdatedAt, time.Minute)
}

func TestStore_Documents_Pagination(t *testing.T) {
	ctx := context.Background()
	store := setupStore(ctx, t)

	for _, id := range []string{"d.md", "b.md", "a.md", "c.md"} {
		require.NoError(t, store.ReplaceDocument(ctx, record(id, "v1"), []domain.IndexEntry{
			entry(id, 0, []float32{1, 0, 0}),
		}))
	}

	page, err := store.Documents(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "a.md", page[0].ID)
	assert.Equal(t, "b.md", page[1].ID)
	assert.Equal(t, "c.md", page[2].ID)

	rest, err := store.Documents(ctx, "c.md", 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "d.md", rest[0].ID)
}

func TestStore_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := setupStore(ctx, t)

	require.NoError(t, store.ReplaceDocument(ctx, record("a.md", "v1"), []domain.IndexEntry{
		entry("a.md", 0, []float32{1, 0, 0}),
	}))
	require.NoError(t, store.ReplaceDocument(ctx, record("b.md", "v1"), []domain.IndexEntry{
		entry("b.md", 0, []float32{0, 1, 0}),
	}))

	require.NoError(t, store.DeleteDocument(ctx, "a.md"))

	_, err := store.Document(ctx, "a.md")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	entries, err := store.Entries(ctx, []string{"a.md#0", "b.md#0"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.md#0", entries[0].ChunkID)

	err = store.DeleteDocument(ctx, "a.md")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := setupStore(ctx, t)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{}, stats)

	require.NoError(t, store.ReplaceDocument(ctx, record("a.md", "v1"), []domain.IndexEntry{
		entry("a.md", 0, []float32{1, 0, 0}),
		entry("a.md", 1, []float32{0, 1, 0}),
	}))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{Documents: 1, Chunks: 2, Dimension: 3}, stats)
}
