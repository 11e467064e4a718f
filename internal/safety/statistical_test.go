package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticalClassifierCheck(t *testing.T) {
	classifier := NewStatisticalClassifier(map[string]float64{
		"tamper":    0.8,
		"bypass":    0.6,
		"emissions": 0.5,
	}, 1.0)

	tests := []struct {
		name        string
		query       string
		wantAllowed bool
	}{
		{
			name:        "no weighted tokens",
			query:       "why is the sky blue",
			wantAllowed: true,
		},
		{
			name:        "below threshold",
			query:       "what are the emissions rules",
			wantAllowed: true,
		},
		{
			name:        "sum reaches threshold",
			query:       "bypass the emissions check",
			wantAllowed: false,
		},
		{
			name:        "case and punctuation ignored",
			query:       "TAMPER!!! then Bypass???",
			wantAllowed: false,
		},
		{
			name:        "repeated token accumulates",
			query:       "bypass bypass",
			wantAllowed: false,
		},
		{
			name:        "empty query",
			query:       "",
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := classifier.Check(context.Background(), tt.query)

			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			if !tt.wantAllowed {
				assert.Contains(t, decision.Reason, "Blocked by safety policy (score:")
			}
		})
	}
}

func TestStatisticalClassifierDefaults(t *testing.T) {
	classifier := NewStatisticalClassifier(nil, 0)

	blocked, err := classifier.Check(context.Background(), "illegal egr delete")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	allowed, err := classifier.Check(context.Background(), "how often should I change the oil")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}
