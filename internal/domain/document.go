package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Document represents a source document submitted for ingestion
type Document struct {
	ID      string
	Source  string // Origin path or URI
	Title   string
	Content string
}

// Chunk represents one contiguous span of a document produced by the chunker
type Chunk struct {
	ID          string
	DocumentID  string
	Seq         int
	Text        string
	StartOffset int // Rune offset into the document content
	EndOffset   int
}

// IndexEntry is the unit persisted in the vector index: one chunk together
// with its embedding and enough metadata to cite it without reloading the
// source document.
type IndexEntry struct {
	ChunkID     string
	DocumentID  string
	Seq         int
	Text        string
	Source      string
	Title       string
	StartOffset int
	EndOffset   int
	Embedding   []float32
}

// DocumentRecord is the per-document bookkeeping row kept alongside the
// index entries. Fingerprint identifies the exact content version that the
// stored chunks were derived from.
type DocumentRecord struct {
	ID          string
	Source      string
	Title       string
	Fingerprint string
	ChunkCount  int
	UpdatedAt   time.Time
}

// Hit pairs an index entry with its retrieval score
type Hit struct {
	Entry IndexEntry
	Score float64
}

// IndexStats summarizes the persisted index
type IndexStats struct {
	Documents int
	Chunks    int
	Dimension int
}

// IngestStatus represents the terminal state of one document's ingestion
type IngestStatus string

const (
	IngestStatusIndexed IngestStatus = "indexed"
	IngestStatusSkipped IngestStatus = "skipped"
	IngestStatusRemoved IngestStatus = "removed"
	IngestStatusFailed  IngestStatus = "failed"
)

// IngestResult reports the outcome of ingesting a single document. A failed
// document never partially commits: the store keeps the prior version.
type IngestResult struct {
	DocumentID string
	Status     IngestStatus
	ChunkCount int
	Err        error
}

// ChunkID returns the stable identifier of the chunk at position seq within
// document docID. Identifiers are stable across re-chunking of identical
// content.
func ChunkID(docID string, seq int) string {
	return fmt.Sprintf("%s#%d", docID, seq)
}

// Fingerprint returns the content hash used to detect unchanged documents
// across ingest runs.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewDocument creates a new Document instance
func NewDocument(id, source, title, content string) *Document {
	return &Document{
		ID:      id,
		Source:  source,
		Title:   title,
		Content: content,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.Content == "" {
		return fmt.Errorf("document Content is required")
	}

	return nil
}
