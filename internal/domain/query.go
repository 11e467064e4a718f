package domain

import (
	"fmt"
	"strings"
	"time"
)

// Query represents a single question submitted to the pipeline. Zero values
// for the tuning fields mean "use the configured defaults".
type Query struct {
	Question string
	TopK     int
	Lambda   *float64
	Provider string
}

// Decision is the outcome of a safety check
type Decision struct {
	Allowed bool
	Reason  string
}

// Citation links answer content back to a chunk that was part of the prompt.
// Citations never reference chunks outside the supplied context.
type Citation struct {
	ChunkID    string
	DocumentID string
	Source     string
	Title      string
	Score      float64
	Snippet    string
}

// Timings records where a query spent its time
type Timings struct {
	Retrieval  time.Duration
	Generation time.Duration
	Total      time.Duration
}

// Answer is the terminal result of one query. A blocked answer carries no
// text and no citations, only the block reason.
type Answer struct {
	Text        string
	Citations   []Citation
	Blocked     bool
	BlockReason string
	Timings     Timings
}

// ChatRequest is a provider-neutral chat completion request
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// ChatResponse is a provider-neutral chat completion result
type ChatResponse struct {
	Text string
}

// NewQuery creates a new Query instance
func NewQuery(question string) *Query {
	return &Query{
		Question: question,
		TopK:     0,
		Lambda:   nil,
		Provider: "",
	}
}

// ValidateQuery validates a Query instance
func ValidateQuery(q *Query) error {
	if q == nil {
		return fmt.Errorf("query cannot be nil")
	}

	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("query Question is required")
	}

	if q.TopK < 0 {
		return fmt.Errorf("query TopK cannot be negative")
	}

	if q.Lambda != nil && (*q.Lambda < 0 || *q.Lambda > 1) {
		return fmt.Errorf("query Lambda must be between 0 and 1")
	}

	return nil
}
