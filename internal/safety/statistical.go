package safety

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/tessera-labs/tessera/internal/domain"
)

// DefaultThreshold is the score at which a query is blocked.
const DefaultThreshold = 1.0

// DefaultWeights scores tokens commonly seen in tampering requests.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"illegal":   0.8,
		"tamper":    0.8,
		"bypass":    0.6,
		"defeat":    0.6,
		"disable":   0.6,
		"delete":    0.5,
		"emissions": 0.5,
		"egr":       0.5,
		"dpf":       0.5,
		"o2":        0.4,
		"remove":    0.3,
	}
}

// StatisticalClassifier blocks queries whose summed token weights reach a
// threshold. Every occurrence of a weighted token counts.
type StatisticalClassifier struct {
	weights   map[string]float64
	threshold float64
}

// NewStatisticalClassifier builds a classifier from a weight table and a
// block threshold. Nil weights and a zero threshold fall back to the
// defaults.
func NewStatisticalClassifier(weights map[string]float64, threshold float64) *StatisticalClassifier {
	if weights == nil {
		weights = DefaultWeights()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &StatisticalClassifier{weights: weights, threshold: threshold}
}

// Check reports whether the query is allowed.
func (c *StatisticalClassifier) Check(ctx context.Context, query string) (domain.Decision, error) {
	var score float64
	for _, token := range tokenize(query) {
		score += c.weights[token]
	}
	if score >= c.threshold {
		return domain.Decision{
			Reason: fmt.Sprintf("Blocked by safety policy (score: %.2f)", score),
		}, nil
	}
	return domain.Decision{Allowed: true}, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
