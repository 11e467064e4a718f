// Package safety screens queries before they reach retrieval or
// generation. A blocked query terminates the pipeline without an
// embedding, search or LLM call.
package safety

import (
	"context"
	"fmt"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
)

// KeywordMatcher blocks queries containing any of a configured list of
// disallowed phrases. Matching is a case-insensitive substring check and
// the first matching phrase, in list order, names the block reason.
type KeywordMatcher struct {
	keywords []string
}

// NewKeywordMatcher builds a matcher from the given phrases. Phrases are
// trimmed and lowercased; empty ones are dropped.
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		cleaned = append(cleaned, keyword)
	}
	return &KeywordMatcher{keywords: cleaned}
}

// Check reports whether the query is allowed.
func (m *KeywordMatcher) Check(ctx context.Context, query string) (domain.Decision, error) {
	lowered := strings.ToLower(query)
	for _, keyword := range m.keywords {
		if strings.Contains(lowered, keyword) {
			return domain.Decision{
				Reason: fmt.Sprintf("Blocked by safety policy (keyword: %s)", keyword),
			}, nil
		}
	}
	return domain.Decision{Allowed: true}, nil
}
