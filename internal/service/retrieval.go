package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/telemetry"
)

const (
	defaultTopK           = 5
	defaultPoolMultiplier = 4
	defaultLambda         = 0.5

	rrfK           = 60
	semanticWeight = 1.0
	lexicalWeight  = 0.85
)

// SearchInput carries one query in both of its representations. The vector
// searcher reads Vector, the lexical searcher reads Text, the hybrid searcher
// uses both.
type SearchInput struct {
	Text   string
	Vector []float32
	K      int
}

// Searcher defines the interface for fetching candidate hits for a query
type Searcher interface {
	Search(ctx context.Context, input SearchInput) ([]domain.Hit, error)
}

// VectorIndex defines the interface for similarity search over stored vectors
type VectorIndex interface {
	SearchVectors(ctx context.Context, vector []float32, k int) ([]domain.Hit, error)
}

// EntrySource defines the interface for loading index entries by chunk id
type EntrySource interface {
	Entries(ctx context.Context, chunkIDs []string) ([]domain.IndexEntry, error)
}

// LexicalIndex defines the interface for keyword search
type LexicalIndex interface {
	Search(ctx context.Context, text string, k int) ([]domain.Hit, error)
}

// VectorSearcher answers queries from the vector index alone
type VectorSearcher struct {
	index VectorIndex
}

// NewVectorSearcher creates a new VectorSearcher instance
func NewVectorSearcher(index VectorIndex) *VectorSearcher {
	return &VectorSearcher{index: index}
}

// Search returns the k entries nearest to the query vector
func (s *VectorSearcher) Search(ctx context.Context, input SearchInput) ([]domain.Hit, error) {
	if len(input.Vector) == 0 {
		return []domain.Hit{}, nil
	}
	return s.index.SearchVectors(ctx, input.Vector, input.K)
}

// LexicalSearcher answers queries from the keyword index alone
type LexicalSearcher struct {
	index LexicalIndex
}

// NewLexicalSearcher creates a new LexicalSearcher instance
func NewLexicalSearcher(index LexicalIndex) *LexicalSearcher {
	return &LexicalSearcher{index: index}
}

// Search returns the k best keyword matches for the query text
func (s *LexicalSearcher) Search(ctx context.Context, input SearchInput) ([]domain.Hit, error) {
	return s.index.Search(ctx, input.Text, input.K)
}

// HydratingSearcher wraps a searcher whose hits carry no embeddings (the
// keyword index stores none) and reloads each hit from the vector store so
// downstream MMR re-ranking has embeddings to work with.
type HydratingSearcher struct {
	inner   Searcher
	entries EntrySource
}

// NewHydratingSearcher creates a new HydratingSearcher instance
func NewHydratingSearcher(inner Searcher, entries EntrySource) *HydratingSearcher {
	return &HydratingSearcher{inner: inner, entries: entries}
}

// Search runs the wrapped searcher and hydrates its hits
func (s *HydratingSearcher) Search(ctx context.Context, input SearchInput) ([]domain.Hit, error) {
	hits, err := s.inner.Search(ctx, input)
	if err != nil {
		return nil, err
	}
	return hydrateHits(ctx, s.entries, hits)
}

// HybridSearcher fans a query out to the vector and lexical paths in parallel
// and fuses the two rankings by weighted Reciprocal Rank Fusion. Fused hits
// are hydrated from the vector store so every result carries its embedding.
type HybridSearcher struct {
	vector  Searcher
	lexical Searcher
	entries EntrySource
}

// NewHybridSearcher creates a new HybridSearcher instance
func NewHybridSearcher(vector, lexical Searcher, entries EntrySource) *HybridSearcher {
	return &HybridSearcher{
		vector:  vector,
		lexical: lexical,
		entries: entries,
	}
}

// Search runs both retrieval paths and returns up to input.K fused hits
func (s *HybridSearcher) Search(ctx context.Context, input SearchInput) ([]domain.Hit, error) {
	var (
		wg          sync.WaitGroup
		semantic    []domain.Hit
		lexical     []domain.Hit
		semanticErr error
		lexicalErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		semantic, semanticErr = s.vector.Search(ctx, input)
	}()
	go func() {
		defer wg.Done()
		lexical, lexicalErr = s.lexical.Search(ctx, input)
	}()
	wg.Wait()

	if semanticErr != nil {
		return nil, semanticErr
	}
	if lexicalErr != nil {
		return nil, lexicalErr
	}

	fused := fuseHits(semantic, lexical)
	if input.K > 0 && len(fused) > input.K {
		fused = fused[:input.K]
	}
	return hydrateHits(ctx, s.entries, fused)
}

// hydrateHits reloads every hit from the vector store so downstream MMR has
// embeddings to work with. Chunk ids the vector store does not hold cannot be
// cited and are dropped.
func hydrateHits(ctx context.Context, source EntrySource, hits []domain.Hit) ([]domain.Hit, error) {
	if len(hits) == 0 {
		return []domain.Hit{}, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.Entry.ChunkID
	}

	entries, err := source.Entries(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.IndexEntry, len(entries))
	for _, entry := range entries {
		byID[entry.ChunkID] = entry
	}

	out := make([]domain.Hit, 0, len(hits))
	for _, hit := range hits {
		entry, ok := byID[hit.Entry.ChunkID]
		if !ok {
			continue
		}
		out = append(out, domain.Hit{Entry: entry, Score: hit.Score})
	}
	return out, nil
}

// QueryEmbedder defines the interface for embedding one query string
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RetrievalConfig tunes candidate pool sizing and MMR selection
type RetrievalConfig struct {
	TopK           int
	PoolMultiplier int
	Lambda         float64
	SearchTimeout  time.Duration
}

// RetrievalService selects the chunks that ground an answer: a wide candidate
// pool fetched through the searcher, narrowed to k by Maximal Marginal
// Relevance.
type RetrievalService struct {
	embedder QueryEmbedder
	searcher Searcher
	cfg      RetrievalConfig
}

// NewRetrievalService creates a new RetrievalService instance
func NewRetrievalService(embedder QueryEmbedder, searcher Searcher, cfg RetrievalConfig) *RetrievalService {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.PoolMultiplier <= 0 {
		cfg.PoolMultiplier = defaultPoolMultiplier
	}
	if cfg.Lambda < 0 || cfg.Lambda > 1 {
		cfg.Lambda = defaultLambda
	}
	return &RetrievalService{
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
	}
}

// Retrieve embeds the question once, fetches a candidate pool and returns the
// top k hits after MMR re-ranking. topK and lambda override the configured
// defaults when set.
func (s *RetrievalService) Retrieve(ctx context.Context, question string, topK int, lambda *float64) ([]domain.Hit, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		Operation: "retrieve",
	})
	defer span.End()

	k := s.cfg.TopK
	if topK > 0 {
		k = topK
	}
	lam := s.cfg.Lambda
	if lambda != nil {
		lam = *lambda
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	searchCtx := ctx
	if s.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.cfg.SearchTimeout)
		defer cancel()
	}

	pool, err := s.searcher.Search(searchCtx, SearchInput{
		Text:   question,
		Vector: vector,
		K:      k * s.cfg.PoolMultiplier,
	})
	if err != nil {
		return nil, err
	}

	return maxMarginalRelevance(vector, pool, k, lam), nil
}

type fusionCandidate struct {
	hit      domain.Hit
	rrfScore float64
}

// fuseHits merges the semantic and lexical rankings by weighted Reciprocal
// Rank Fusion. The fused score replaces the per-path scores; ties order by
// ascending chunk id.
func fuseHits(semantic, lexical []domain.Hit) []domain.Hit {
	candidates := make(map[string]*fusionCandidate)
	order := make([]string, 0, len(semantic)+len(lexical))

	addList := func(list []domain.Hit, weight float64) {
		for i, hit := range list {
			id := hit.Entry.ChunkID
			cand, ok := candidates[id]
			if !ok {
				cand = &fusionCandidate{hit: hit}
				candidates[id] = cand
				order = append(order, id)
			}
			cand.rrfScore += weight / float64(rrfK+i+1)
		}
	}

	addList(semantic, semanticWeight)
	addList(lexical, lexicalWeight)

	out := make([]domain.Hit, 0, len(order))
	for _, id := range order {
		cand := candidates[id]
		cand.hit.Score = cand.rrfScore
		out = append(out, cand.hit)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.ChunkID < out[j].Entry.ChunkID
	})
	return out
}
