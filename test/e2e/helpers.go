//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/tessera-labs/tessera/internal/api/handlers"
	"github.com/tessera-labs/tessera/internal/corpus"
	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/hashembed"
	"github.com/tessera-labs/tessera/internal/jobs"
	"github.com/tessera-labs/tessera/internal/safety"
	"github.com/tessera-labs/tessera/internal/server"
	"github.com/tessera-labs/tessera/internal/service"
	badgerstore "github.com/tessera-labs/tessera/internal/storage/badger"
	"github.com/tessera-labs/tessera/internal/storage/sqlite"
)

const embedDimensions = 64

var blockKeywords = []string{"bypass emissions", "disable safety", "tamper"}

// scriptedChat is a deterministic stand-in for a chat provider. By default it
// answers by citing the first context block it was shown; tests can override
// the behavior per call and inspect how often the provider was reached.
type scriptedChat struct {
	mu      sync.Mutex
	calls   int
	respond func(req domain.ChatRequest) (domain.ChatResponse, error)
}

var contextBlockMarker = regexp.MustCompile(`(?m)^\[([^\]]+)\] \(source:`)

func (c *scriptedChat) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	c.mu.Lock()
	c.calls++
	respond := c.respond
	c.mu.Unlock()

	if respond != nil {
		return respond(req)
	}

	match := contextBlockMarker.FindStringSubmatch(req.User)
	if match == nil {
		return domain.ChatResponse{Text: "The provided context does not contain the answer."}, nil
	}
	return domain.ChatResponse{
		Text: fmt.Sprintf("According to the documentation, the answer is found in [%s].", match[1]),
	}, nil
}

func (c *scriptedChat) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// SetRespond overrides the scripted behavior for subsequent calls. A nil
// function restores the default.
func (c *scriptedChat) SetRespond(fn func(req domain.ChatRequest) (domain.ChatResponse, error)) {
	c.mu.Lock()
	c.respond = fn
	c.mu.Unlock()
}

// E2ETestEnv runs the whole pipeline against an httptest server: embedded
// Badger index, SQLite lexical index, hash embeddings and a scripted chat
// provider. No network, no containers.
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	Store      *badgerstore.Store
	Lexical    *sqlite.Index
	Pipeline   *service.Pipeline
	Syncer     *jobs.CorpusSyncer
	Chat       *scriptedChat
	Server     *httptest.Server
	HTTPClient *http.Client
	DocDir     string
}

// SetupE2EEnv creates an environment without a corpus directory; documents
// arrive through the API only.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	return setup(t, "")
}

// SetupE2EEnvWithCorpus creates an environment whose sync endpoint reconciles
// the index against the given directory.
func SetupE2EEnvWithCorpus(t *testing.T, docDir string) *E2ETestEnv {
	return setup(t, docDir)
}

func setup(t *testing.T, docDir string) *E2ETestEnv {
	ctx := context.Background()
	dataDir := t.TempDir()

	store, err := badgerstore.Open(filepath.Join(dataDir, "index"))
	if err != nil {
		t.Fatalf("failed to open vector index: %v", err)
	}

	lexical, err := sqlite.Open(filepath.Join(dataDir, "lexical.db"))
	if err != nil {
		t.Fatalf("failed to open lexical index: %v", err)
	}

	embedSvc := service.NewEmbeddingServiceWithOptions(hashembed.New(embedDimensions), nil, 16)

	vector := service.NewVectorSearcher(store)
	searcher := service.NewHybridSearcher(vector, service.NewLexicalSearcher(lexical), store)
	retriever := service.NewRetrievalService(embedSvc, searcher, service.RetrievalConfig{
		TopK:           3,
		PoolMultiplier: 4,
		Lambda:         0.5,
		SearchTimeout:  5 * time.Second,
	})

	chat := &scriptedChat{}
	generator := service.NewGenerationService(chat, service.GenerationConfig{
		Temperature: 0,
		MaxTokens:   512,
	})

	classifier := safety.NewKeywordMatcher(blockKeywords)

	pipeline := service.NewPipeline(classifier, retriever, generator, embedSvc, store, lexical, service.PipelineConfig{
		Chunking: service.ChunkConfig{
			MaxChars: 200,
			Overlap:  40,
			MinChars: 50,
		},
		Concurrency: 2,
	})

	var syncer *jobs.CorpusSyncer
	var sysSyncer handlers.Syncer
	if docDir != "" {
		syncer = jobs.NewCorpusSyncer(corpus.NewLoader(docDir), pipeline, store)
		sysSyncer = syncer
	}

	router := server.NewRouter(server.RouterConfig{
		QueryHandler:     handlers.NewQueryHandler(pipeline),
		DocumentsHandler: handlers.NewDocumentsHandler(pipeline, store),
		SystemHandler: handlers.NewSystemHandler(store, sysSyncer, handlers.SystemInfo{
			Backend:           "badger",
			EmbeddingProvider: "hash",
			LLMProvider:       "scripted",
			SearchMode:        "hybrid",
		}),
	})

	srv := httptest.NewServer(router)

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		Store:      store,
		Lexical:    lexical,
		Pipeline:   pipeline,
		Syncer:     syncer,
		Chat:       chat,
		Server:     srv,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		DocDir:     docDir,
	}

	t.Cleanup(env.Cleanup)
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.Server != nil {
		e.Server.Close()
		e.Server = nil
	}
	if e.Lexical != nil {
		e.Lexical.Close()
		e.Lexical = nil
	}
	if e.Store != nil {
		e.Store.Close()
		e.Store = nil
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.Server.URL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// IngestDocs ingests documents through the API and returns the per-document
// results, failing the test on transport errors.
func (e *E2ETestEnv) IngestDocs(docs []map[string]string) []handlers.IngestResultResponse {
	resp, err := e.Post("/api/documents/", map[string]interface{}{"documents": docs})
	if err != nil {
		e.T.Fatalf("ingest request failed: %v", err)
	}

	var ingestResp handlers.IngestResponse
	if err := json.Unmarshal(resp.Data, &ingestResp); err != nil {
		e.T.Fatalf("failed to parse ingest response: %v", err)
	}
	return ingestResp.Results
}

// Ask runs a query through the API
func (e *E2ETestEnv) Ask(question string) *handlers.QueryResponse {
	resp, err := e.Post("/api/query", map[string]interface{}{"question": question})
	if err != nil {
		e.T.Fatalf("query request failed: %v", err)
	}

	var queryResp handlers.QueryResponse
	if err := json.Unmarshal(resp.Data, &queryResp); err != nil {
		e.T.Fatalf("failed to parse query response: %v", err)
	}
	return &queryResp
}

// ListDocuments fetches one page of the document listing
func (e *E2ETestEnv) ListDocuments(limit int, cursor string) *handlers.DocumentListResponse {
	path := fmt.Sprintf("/api/documents/?limit=%d", limit)
	if cursor != "" {
		path += "&cursor=" + cursor
	}

	resp, err := e.Get(path)
	if err != nil {
		e.T.Fatalf("list request failed: %v", err)
	}

	var listResp handlers.DocumentListResponse
	if err := json.Unmarshal(resp.Data, &listResp); err != nil {
		e.T.Fatalf("failed to parse list response: %v", err)
	}
	return &listResp
}

// Status fetches the status endpoint
func (e *E2ETestEnv) Status() *handlers.StatusResponse {
	resp, err := e.Get("/api/status")
	if err != nil {
		e.T.Fatalf("status request failed: %v", err)
	}

	var statusResp handlers.StatusResponse
	if err := json.Unmarshal(resp.Data, &statusResp); err != nil {
		e.T.Fatalf("failed to parse status response: %v", err)
	}
	return &statusResp
}

// Sync triggers a corpus sync through the API
func (e *E2ETestEnv) Sync() *handlers.SyncResponse {
	resp, err := e.Post("/api/sync", nil)
	if err != nil {
		e.T.Fatalf("sync request failed: %v", err)
	}

	var syncResp handlers.SyncResponse
	if err := json.Unmarshal(resp.Data, &syncResp); err != nil {
		e.T.Fatalf("failed to parse sync response: %v", err)
	}
	return &syncResp
}
