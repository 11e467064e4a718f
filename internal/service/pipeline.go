package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/telemetry"
)

// Classifier defines the interface for pre-retrieval safety screening
type Classifier interface {
	Check(ctx context.Context, query string) (domain.Decision, error)
}

// Retriever defines the interface for the retrieval stage
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int, lambda *float64) ([]domain.Hit, error)
}

// Generator defines the interface for the generation stage
type Generator interface {
	Generate(ctx context.Context, question string, hits []domain.Hit, provider string) (*GenerationResult, error)
}

// ChunkEmbedder defines the interface for embedding a document's chunks
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) ([]domain.IndexEntry, error)
}

// IndexStore defines the vector store operations the pipeline needs
type IndexStore interface {
	Document(ctx context.Context, id string) (*domain.DocumentRecord, error)
	ReplaceDocument(ctx context.Context, doc domain.DocumentRecord, entries []domain.IndexEntry) error
	DeleteDocument(ctx context.Context, id string) error
}

// LexicalWriter defines the lexical index operations ingestion keeps in sync
type LexicalWriter interface {
	ReplaceDocument(ctx context.Context, documentID string, entries []domain.IndexEntry) error
	DeleteDocument(ctx context.Context, documentID string) error
}

const (
	defaultIngestConcurrency = 4
	defaultMaxRetries        = 3
	defaultRetryBackoff      = 500 * time.Millisecond
)

// queryState models the lifecycle of one query through the pipeline
type queryState string

const (
	stateReceived      queryState = "received"
	stateSafetyChecked queryState = "safety_checked"
	stateBlocked       queryState = "blocked"
	stateRetrieved     queryState = "retrieved"
	stateGenerated     queryState = "generated"
	stateReturned      queryState = "returned"
)

var queryTransitions = map[queryState][]queryState{
	stateReceived:      {stateSafetyChecked},
	stateSafetyChecked: {stateBlocked, stateRetrieved},
	stateRetrieved:     {stateGenerated},
	stateGenerated:     {stateReturned},
}

// PipelineConfig tunes chunking, ingestion concurrency and provider retries
type PipelineConfig struct {
	Chunking     ChunkConfig
	Concurrency  int
	MaxRetries   int
	RetryBackoff time.Duration
	Debug        bool
}

// Pipeline wires the safety gate, retriever and generator into one answer
// path and drives chunk/embed/store ingestion. It is the only layer that
// retries provider failures.
type Pipeline struct {
	classifier Classifier
	retriever  Retriever
	generator  Generator
	embedder   ChunkEmbedder
	store      IndexStore
	lexical    LexicalWriter

	cfg   PipelineConfig
	locks keyedMutex
}

// NewPipeline creates a new Pipeline instance. lexical may be nil when
// keyword indexing is disabled.
func NewPipeline(classifier Classifier, retriever Retriever, generator Generator, embedder ChunkEmbedder, store IndexStore, lexical LexicalWriter, cfg PipelineConfig) *Pipeline {
	if cfg.Chunking.MaxChars <= 0 {
		cfg.Chunking = DefaultChunkConfig()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultIngestConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Pipeline{
		classifier: classifier,
		retriever:  retriever,
		generator:  generator,
		embedder:   embedder,
		store:      store,
		lexical:    lexical,
		cfg:        cfg,
	}
}

// Answer runs one query through safety, retrieval and generation. A safety
// block is a normal terminal outcome carried in the Answer, not an error.
func (p *Pipeline) Answer(ctx context.Context, query domain.Query) (*domain.Answer, error) {
	ctx, span := telemetry.StartSpan(ctx, "Pipeline.Answer", telemetry.SpanAttributes{
		Provider:  query.Provider,
		Operation: "answer",
	})
	defer span.End()

	if err := domain.ValidateQuery(&query); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid query", err)
	}

	started := time.Now()
	state := stateReceived

	decision, err := p.classifier.Check(ctx, query.Question)
	if err != nil {
		return nil, err
	}
	p.advance(&state, stateSafetyChecked)

	if !decision.Allowed {
		p.advance(&state, stateBlocked)
		log.Printf("query: blocked: %s", decision.Reason)
		return &domain.Answer{
			Blocked:     true,
			BlockReason: decision.Reason,
			Timings:     domain.Timings{Total: time.Since(started)},
		}, nil
	}

	retrieveStart := time.Now()
	var hits []domain.Hit
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var retrieveErr error
		hits, retrieveErr = p.retriever.Retrieve(ctx, query.Question, query.TopK, query.Lambda)
		return retrieveErr
	})
	if err != nil {
		return nil, err
	}
	retrieval := time.Since(retrieveStart)
	p.advance(&state, stateRetrieved)

	generateStart := time.Now()
	var result *GenerationResult
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var generateErr error
		result, generateErr = p.generator.Generate(ctx, query.Question, hits, query.Provider)
		return generateErr
	})
	if err != nil {
		return nil, err
	}
	generation := time.Since(generateStart)
	p.advance(&state, stateGenerated)

	answer := &domain.Answer{
		Text:      result.Text,
		Citations: result.Citations,
		Timings: domain.Timings{
			Retrieval:  retrieval,
			Generation: generation,
			Total:      time.Since(started),
		},
	}
	p.advance(&state, stateReturned)
	return answer, nil
}

// Ingest indexes a batch of documents with bounded concurrency. Results come
// back in input order; a failure is confined to its own document.
func (p *Pipeline) Ingest(ctx context.Context, docs []domain.Document) []domain.IngestResult {
	ctx, span := telemetry.StartSpan(ctx, "Pipeline.Ingest", telemetry.SpanAttributes{
		Operation: "ingest",
	})
	defer span.End()

	results := make([]domain.IngestResult, len(docs))
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.ingestOne(ctx, docs[i])
		}(i)
	}
	wg.Wait()

	return results
}

// DeleteDocument removes one document from every index
func (p *Pipeline) DeleteDocument(ctx context.Context, id string) error {
	lock := p.locks.lock(id)
	defer lock.Unlock()

	if p.lexical != nil {
		if err := p.lexical.DeleteDocument(ctx, id); err != nil {
			return err
		}
	}
	return p.store.DeleteDocument(ctx, id)
}

// ingestOne carries a single document through chunk, embed and store. The
// vector swap is the commit point; before it succeeds the stored version of
// the document is unchanged.
func (p *Pipeline) ingestOne(ctx context.Context, doc domain.Document) domain.IngestResult {
	if doc.ID == "" && doc.Content != "" {
		// Anonymous uploads get a content-derived id so re-submitting the
		// same text hits the fingerprint skip instead of duplicating it.
		doc.ID = domain.Fingerprint(doc.Content)
	}

	ctx, span := telemetry.StartSpan(ctx, "Pipeline.ingestOne", telemetry.SpanAttributes{
		DocumentID: doc.ID,
		Operation:  "ingest",
	})
	defer span.End()

	lock := p.locks.lock(doc.ID)
	defer lock.Unlock()

	if err := domain.ValidateDocument(&doc); err != nil {
		return failResult(doc.ID, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err))
	}

	fingerprint := domain.Fingerprint(doc.Content)

	existing, err := p.store.Document(ctx, doc.ID)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return failResult(doc.ID, err)
	}
	if existing != nil && existing.Fingerprint == fingerprint {
		log.Printf("ingest: %s unchanged, skipped", doc.ID)
		return domain.IngestResult{
			DocumentID: doc.ID,
			Status:     domain.IngestStatusSkipped,
			ChunkCount: existing.ChunkCount,
		}
	}

	chunks := ChunkDocument(&doc, p.cfg.Chunking)

	var entries []domain.IndexEntry
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var embedErr error
		entries, embedErr = p.embedder.EmbedChunks(ctx, &doc, chunks)
		return embedErr
	})
	if err != nil {
		return failResult(doc.ID, err)
	}

	record := domain.DocumentRecord{
		ID:          doc.ID,
		Source:      doc.Source,
		Title:       doc.Title,
		Fingerprint: fingerprint,
		ChunkCount:  len(entries),
	}

	// The lexical index is written before the vector swap: if the swap
	// fails, retrieval still reflects the committed vector state because
	// hybrid hydration drops ids the vector store does not hold, and the
	// unchanged fingerprint lets the next ingest repair both sides.
	if p.lexical != nil {
		if err := p.lexical.ReplaceDocument(ctx, doc.ID, entries); err != nil {
			return failResult(doc.ID, err)
		}
	}

	if err := p.store.ReplaceDocument(ctx, record, entries); err != nil {
		return failResult(doc.ID, err)
	}

	log.Printf("ingest: %s indexed (%d chunks)", doc.ID, len(entries))
	return domain.IngestResult{
		DocumentID: doc.ID,
		Status:     domain.IngestStatusIndexed,
		ChunkCount: len(entries),
	}
}

// withRetry retries op with exponential backoff while it fails with
// PROVIDER_UNAVAILABLE. Other failures return immediately: configuration and
// store errors do not heal by retrying.
func (p *Pipeline) withRetry(ctx context.Context, op func(context.Context) error) error {
	backoff := p.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err = op(ctx); err == nil {
			return nil
		}
		if domain.ErrorCode(err) != domain.ErrCodeProviderUnavailable {
			return err
		}
		log.Printf("pipeline: provider unavailable (attempt %d/%d): %v", attempt, p.cfg.MaxRetries, err)
	}
	return err
}

// advance moves a query to its next lifecycle state. The legal transitions
// are fixed; anything else indicates a wiring bug and is logged, not acted
// on.
func (p *Pipeline) advance(state *queryState, next queryState) {
	legal := false
	for _, allowed := range queryTransitions[*state] {
		if allowed == next {
			legal = true
			break
		}
	}
	if !legal {
		log.Printf("query: illegal state transition %s -> %s", *state, next)
	} else if p.cfg.Debug {
		log.Printf("query: %s -> %s", *state, next)
	}
	*state = next
}

func failResult(docID string, err error) domain.IngestResult {
	log.Printf("ingest: %s failed: %v", docID, err)
	return domain.IngestResult{
		DocumentID: docID,
		Status:     domain.IngestStatusFailed,
		Err:        err,
	}
}

// keyedMutex serializes work per document id so concurrent re-ingestions of
// the same document never interleave their delete-then-insert sequences.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (m *keyedMutex) lock(key string) *sync.Mutex {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock
}
