package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		status   IngestStatus
		expected string
	}{
		{"Indexed", IngestStatusIndexed, "indexed"},
		{"Skipped", IngestStatusSkipped, "skipped"},
		{"Failed", IngestStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument("guides/intro.md", "/corpus/guides/intro.md", "Intro", "# Intro\n\nSome content.")

	assert.Equal(t, "guides/intro.md", doc.ID)
	assert.Equal(t, "/corpus/guides/intro.md", doc.Source)
	assert.Equal(t, "Intro", doc.Title)
	assert.Equal(t, "# Intro\n\nSome content.", doc.Content)
}

func TestChunkID(t *testing.T) {
	tests := []struct {
		name     string
		docID    string
		seq      int
		expected string
	}{
		{"first chunk", "guides/intro.md", 0, "guides/intro.md#0"},
		{"later chunk", "guides/intro.md", 12, "guides/intro.md#12"},
		{"doc id with spaces", "service manual", 3, "service manual#3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ChunkID(tt.docID, tt.seq))
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("the same content")
	b := Fingerprint("the same content")
	c := Fingerprint("different content")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name     string
		document *Document
		wantErr  bool
		errMsg   string
	}{
		{
			name: "valid document",
			document: &Document{
				ID:      "guides/intro.md",
				Source:  "/corpus/guides/intro.md",
				Title:   "Intro",
				Content: "Some content.",
			},
			wantErr: false,
		},
		{
			name: "missing ID",
			document: &Document{
				Source:  "/corpus/guides/intro.md",
				Title:   "Intro",
				Content: "Some content.",
			},
			wantErr: true,
			errMsg:  "ID",
		},
		{
			name: "missing Content",
			document: &Document{
				ID:     "guides/intro.md",
				Source: "/corpus/guides/intro.md",
				Title:  "Intro",
			},
			wantErr: true,
			errMsg:  "Content",
		},
		{
			name:     "nil document",
			document: nil,
			wantErr:  true,
			errMsg:   "nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.document)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
