package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/ratelimit"
	"github.com/tessera-labs/tessera/internal/telemetry"
)

// ChatClient defines the interface for chat completion providers
type ChatClient interface {
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

const (
	contextBlockMaxChars = 1200
	snippetMaxChars      = 180

	defaultMaxTokens = 1024
)

// RefusalText is returned verbatim when retrieval produced nothing to ground
// an answer on. No chat completion is requested in that case.
const RefusalText = "I'm sorry, I couldn't find this in the current documentation."

const systemPrompt = `You are a documentation assistant. Answer the question using only the context blocks provided. Each block starts with its chunk id in square brackets. Cite the chunk ids that support your answer inline, like [docs/guide.md#2]. If the context does not contain the answer, say so. Do not use any knowledge outside the provided context.`

// GenerationConfig tunes the chat completion request
type GenerationConfig struct {
	Temperature float64
	MaxTokens   int
}

// GenerationResult carries the model answer and its grounded citations
type GenerationResult struct {
	Text      string
	Citations []domain.Citation
}

// GenerationService turns retrieved chunks and a question into a cited
// answer. Citations only ever reference chunks that were part of the prompt.
type GenerationService struct {
	client  ChatClient
	clients map[string]ChatClient
	limiter *ratelimit.Limiter
	cfg     GenerationConfig
}

// NewGenerationService creates a new GenerationService instance
func NewGenerationService(client ChatClient, cfg GenerationConfig) *GenerationService {
	return NewGenerationServiceWithProviders(client, nil, nil, cfg)
}

// NewGenerationServiceWithProviders creates a GenerationService with named
// alternate providers selectable per request and a rate limiter
func NewGenerationServiceWithProviders(client ChatClient, clients map[string]ChatClient, limiter *ratelimit.Limiter, cfg GenerationConfig) *GenerationService {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &GenerationService{
		client:  client,
		clients: clients,
		limiter: limiter,
		cfg:     cfg,
	}
}

// Generate asks the chat provider to answer the question from the given hits.
// Empty hits short-circuit to the refusal answer without a provider call.
// provider selects a named alternate client; empty means the default.
func (s *GenerationService) Generate(ctx context.Context, question string, hits []domain.Hit, provider string) (*GenerationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "GenerationService.Generate", telemetry.SpanAttributes{
		Provider:  provider,
		Operation: "generate",
	})
	defer span.End()

	if len(hits) == 0 {
		return &GenerationResult{
			Text:      RefusalText,
			Citations: []domain.Citation{},
		}, nil
	}

	client, err := s.resolveClient(provider)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := client.Chat(ctx, domain.ChatRequest{
		System:      systemPrompt,
		User:        buildUserText(question, hits),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeProviderUnavailable, "chat completion returned no content")
	}

	citations := extractCitations(resp.Text, hits)
	if len(citations) == 0 {
		// The model answered without usable markers; fall back to citing
		// everything it was shown.
		citations = citeAll(hits)
	}

	return &GenerationResult{
		Text:      resp.Text,
		Citations: citations,
	}, nil
}

func (s *GenerationService) resolveClient(provider string) (ChatClient, error) {
	if provider == "" {
		return s.client, nil
	}
	if client, ok := s.clients[provider]; ok {
		return client, nil
	}
	return nil, domain.NewDomainError(domain.ErrCodeValidation, fmt.Sprintf("unknown provider %q", provider))
}

var citationMarker = regexp.MustCompile(`\[([^\[\]]+)\]`)

// extractCitations returns a citation for every marker in the answer that
// names a chunk actually supplied in the prompt, in order of first mention.
// Markers naming anything else are discarded, never turned into citations.
func extractCitations(answer string, hits []domain.Hit) []domain.Citation {
	supplied := make(map[string]domain.Hit, len(hits))
	for _, hit := range hits {
		supplied[hit.Entry.ChunkID] = hit
	}

	seen := make(map[string]bool, len(hits))
	citations := make([]domain.Citation, 0, len(hits))
	for _, match := range citationMarker.FindAllStringSubmatch(answer, -1) {
		id := strings.TrimSpace(match[1])
		hit, ok := supplied[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		citations = append(citations, makeCitation(hit))
	}
	return citations
}

func citeAll(hits []domain.Hit) []domain.Citation {
	citations := make([]domain.Citation, 0, len(hits))
	for _, hit := range hits {
		citations = append(citations, makeCitation(hit))
	}
	return citations
}

func makeCitation(hit domain.Hit) domain.Citation {
	return domain.Citation{
		ChunkID:    hit.Entry.ChunkID,
		DocumentID: hit.Entry.DocumentID,
		Source:     hit.Entry.Source,
		Title:      hit.Entry.Title,
		Score:      hit.Score,
		Snippet:    makeSnippet(hit.Entry.Text),
	}
}

func buildContextText(hits []domain.Hit) string {
	blocks := make([]string, 0, len(hits))
	for _, hit := range hits {
		text := truncateRunes(hit.Entry.Text, contextBlockMaxChars)
		blocks = append(blocks, fmt.Sprintf("[%s] (source: %s)\n%s", hit.Entry.ChunkID, hit.Entry.Source, text))
	}
	return strings.Join(blocks, "\n\n")
}

func buildUserText(question string, hits []domain.Hit) string {
	parts := []string{
		"Context:",
		buildContextText(hits),
		"Question: " + question,
	}
	return strings.Join(parts, "\n\n")
}

func makeSnippet(content string) string {
	if content == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(clean) <= snippetMaxChars {
		return clean
	}
	return truncateRunes(clean, snippetMaxChars-3) + "..."
}

// truncateRunes shortens s to at most n runes. Cutting on rune boundaries
// keeps a multi-byte character from being split into invalid UTF-8.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
