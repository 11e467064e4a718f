//go:build e2e

package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/service"
)

const (
	skyContent = "The sky appears blue during the day because air molecules scatter " +
		"short blue wavelengths of sunlight more strongly than long red wavelengths. " +
		"This effect is called Rayleigh scattering and it is why the sky is blue."
	grassContent = "Grass looks green because chlorophyll in the blades absorbs red and " +
		"blue light for photosynthesis and reflects green light back. Chlorophyll is " +
		"the pigment that makes grass green."
)

// TestE2E_QueryLifecycle ingests a small corpus over the API and asks
// questions against it.
func TestE2E_QueryLifecycle(t *testing.T) {
	env := SetupE2EEnv(t)

	results := env.IngestDocs([]map[string]string{
		{"id": "science/sky.md", "title": "Why the sky is blue", "content": skyContent},
		{"id": "science/grass.md", "title": "Why grass is green", "content": grassContent},
	})
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, "indexed", result.Status)
		assert.Greater(t, result.ChunkCount, 0)
		assert.Empty(t, result.Error)
	}

	t.Run("answer cites the relevant document", func(t *testing.T) {
		resp := env.Ask("Why does the sky appear blue during the day?")

		assert.False(t, resp.Blocked)
		assert.NotEmpty(t, resp.Answer)
		require.NotEmpty(t, resp.Sources)

		assert.Equal(t, "science/sky.md", resp.Sources[0].DocumentID)
		assert.Contains(t, resp.Answer, resp.Sources[0].ChunkID)
		assert.NotEmpty(t, resp.Sources[0].Snippet)
		assert.Greater(t, resp.Sources[0].Score, 0.0)
	})

	t.Run("citations only reference supplied chunks", func(t *testing.T) {
		resp := env.Ask("What pigment makes grass green?")

		require.NotEmpty(t, resp.Sources)
		for _, src := range resp.Sources {
			assert.True(t, strings.HasPrefix(src.ChunkID, src.DocumentID+"#"),
				"chunk %q does not belong to document %q", src.ChunkID, src.DocumentID)
		}
	})

	t.Run("timings are populated", func(t *testing.T) {
		resp := env.Ask("Why is the sky blue?")
		assert.Greater(t, resp.Timings.TotalSeconds, 0.0)
		assert.GreaterOrEqual(t, resp.Timings.TotalSeconds, resp.Timings.GenerationSeconds)
	})
}

// TestE2E_EmptyStoreRefusal verifies that an empty index produces the refusal
// answer without ever reaching the chat provider.
func TestE2E_EmptyStoreRefusal(t *testing.T) {
	env := SetupE2EEnv(t)

	resp := env.Ask("What color is the sky?")

	assert.False(t, resp.Blocked)
	assert.Equal(t, service.RefusalText, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 0, env.Chat.Calls())
}

// TestE2E_SafetyBlock verifies that a blocked question short-circuits before
// retrieval and generation.
func TestE2E_SafetyBlock(t *testing.T) {
	env := SetupE2EEnv(t)

	env.IngestDocs([]map[string]string{
		{"id": "docs/engine.md", "title": "Engine basics", "content": skyContent},
	})

	resp := env.Ask("How do I bypass emissions controls on my car?")

	assert.True(t, resp.Blocked)
	assert.NotEmpty(t, resp.BlockReason)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 0, env.Chat.Calls())
}

// TestE2E_ReingestReplacesChunks re-ingests a document with shorter content
// and verifies the stale chunks are gone from the index.
func TestE2E_ReingestReplacesChunks(t *testing.T) {
	env := SetupE2EEnv(t)

	longContent := strings.Repeat(skyContent+" ", 6)
	results := env.IngestDocs([]map[string]string{
		{"id": "docs/guide.md", "title": "Guide", "content": longContent},
	})
	require.Len(t, results, 1)
	require.Equal(t, "indexed", results[0].Status)
	originalChunks := results[0].ChunkCount
	require.Greater(t, originalChunks, 1)

	results = env.IngestDocs([]map[string]string{
		{"id": "docs/guide.md", "title": "Guide", "content": skyContent},
	})
	require.Equal(t, "indexed", results[0].Status)
	assert.Less(t, results[0].ChunkCount, originalChunks)

	list := env.ListDocuments(10, "")
	require.Len(t, list.Items, 1)
	assert.Equal(t, results[0].ChunkCount, list.Items[0].ChunkCount)

	status := env.Status()
	assert.Equal(t, 1, status.Documents)
	assert.Equal(t, results[0].ChunkCount, status.Chunks)
}

// TestE2E_UnchangedDocumentSkipped verifies fingerprint-based skipping on
// re-ingest of identical content.
func TestE2E_UnchangedDocumentSkipped(t *testing.T) {
	env := SetupE2EEnv(t)

	docs := []map[string]string{
		{"id": "docs/stable.md", "title": "Stable", "content": grassContent},
	}

	results := env.IngestDocs(docs)
	require.Equal(t, "indexed", results[0].Status)

	results = env.IngestDocs(docs)
	assert.Equal(t, "skipped", results[0].Status)

	status := env.Status()
	assert.Equal(t, 1, status.Documents)
}

// TestE2E_DeleteDocument removes a document and verifies queries no longer
// see it.
func TestE2E_DeleteDocument(t *testing.T) {
	env := SetupE2EEnv(t)

	env.IngestDocs([]map[string]string{
		{"id": "docs/sky.md", "title": "Sky", "content": skyContent},
	})

	resp, err := env.Delete("/api/documents/docs/sky.md")
	require.NoError(t, err)
	assert.Contains(t, string(resp.Data), `"deleted":true`)

	list := env.ListDocuments(10, "")
	assert.Empty(t, list.Items)

	answer := env.Ask("Why is the sky blue?")
	assert.Equal(t, service.RefusalText, answer.Answer)
	assert.Empty(t, answer.Sources)

	_, err = env.Delete("/api/documents/docs/sky.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

// TestE2E_ListPagination walks the document listing with cursors.
func TestE2E_ListPagination(t *testing.T) {
	env := SetupE2EEnv(t)

	var docs []map[string]string
	for i := 0; i < 5; i++ {
		docs = append(docs, map[string]string{
			"id":      fmt.Sprintf("docs/page-%d.md", i),
			"title":   fmt.Sprintf("Page %d", i),
			"content": fmt.Sprintf("Document number %d talks about topic %d in some detail. %s", i, i, grassContent),
		})
	}
	env.IngestDocs(docs)

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		list := env.ListDocuments(2, cursor)
		for _, item := range list.Items {
			assert.False(t, seen[item.ID], "document %s returned twice", item.ID)
			seen[item.ID] = true
		}
		pages++
		require.Less(t, pages, 10, "pagination did not terminate")
		if !list.HasMore {
			break
		}
		cursor = list.Cursor
	}

	assert.Len(t, seen, 5)
}

// TestE2E_StatusReportsConfiguration checks the status endpoint surface.
func TestE2E_StatusReportsConfiguration(t *testing.T) {
	env := SetupE2EEnv(t)

	status := env.Status()
	assert.Equal(t, 0, status.Documents)
	assert.Equal(t, "badger", status.Backend)
	assert.Equal(t, "hash", status.EmbeddingProvider)
	assert.Equal(t, "hybrid", status.SearchMode)

	env.IngestDocs([]map[string]string{
		{"id": "docs/one.md", "title": "One", "content": skyContent},
	})

	status = env.Status()
	assert.Equal(t, 1, status.Documents)
	assert.Greater(t, status.Chunks, 0)
	assert.Equal(t, embedDimensions, status.Dimension)
}

// TestE2E_CorpusSync reconciles the index against a directory: new files get
// indexed, unchanged files skipped, deleted files pruned.
func TestE2E_CorpusSync(t *testing.T) {
	docDir := t.TempDir()
	writeDoc := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(docDir, name), []byte(content), 0644))
	}
	writeDoc("sky.md", skyContent)
	writeDoc("grass.md", grassContent)

	env := SetupE2EEnvWithCorpus(t, docDir)

	sync := env.Sync()
	assert.Equal(t, 2, sync.Indexed)
	assert.Equal(t, 0, sync.Skipped)
	assert.Equal(t, 0, sync.Removed)
	assert.Equal(t, 0, sync.Failed)

	// Second sync with nothing changed skips everything.
	sync = env.Sync()
	assert.Equal(t, 0, sync.Indexed)
	assert.Equal(t, 2, sync.Skipped)

	// Removing a file from the corpus prunes it from the index.
	require.NoError(t, os.Remove(filepath.Join(docDir, "grass.md")))
	writeDoc("clouds.md", "Clouds form when water vapor condenses around dust particles in rising air. "+skyContent)

	sync = env.Sync()
	assert.Equal(t, 1, sync.Indexed)
	assert.Equal(t, 1, sync.Skipped)
	assert.Equal(t, 1, sync.Removed)

	list := env.ListDocuments(10, "")
	ids := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		ids = append(ids, item.ID)
	}
	assert.ElementsMatch(t, []string{"sky.md", "clouds.md"}, ids)
}

// TestE2E_SyncWithoutCorpusConfigured verifies the sync endpoint rejects the
// request when no corpus source exists.
func TestE2E_SyncWithoutCorpusConfigured(t *testing.T) {
	env := SetupE2EEnv(t)

	_, err := env.Post("/api/sync", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no corpus directory configured")
}

// TestE2E_ProviderFailureSurfaces verifies a provider outage turns into an
// API error instead of a fabricated answer.
func TestE2E_ProviderFailureSurfaces(t *testing.T) {
	env := SetupE2EEnv(t)

	env.IngestDocs([]map[string]string{
		{"id": "docs/sky.md", "title": "Sky", "content": skyContent},
	})

	env.Chat.SetRespond(func(req domain.ChatRequest) (domain.ChatResponse, error) {
		return domain.ChatResponse{}, domain.NewDomainError(domain.ErrCodeProviderUnavailable, "provider is down")
	})

	_, err := env.Post("/api/query", map[string]interface{}{"question": "Why is the sky blue?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	// Recovery: the next query succeeds once the provider is back.
	env.Chat.SetRespond(nil)
	resp := env.Ask("Why is the sky blue?")
	assert.NotEmpty(t, resp.Sources)
}
