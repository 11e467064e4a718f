package service

import (
	"unicode"

	"github.com/tessera-labs/tessera/internal/domain"
)

// ChunkConfig controls how document content is split before embedding.
type ChunkConfig struct {
	MaxChars int
	Overlap  int
	MinChars int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1000,
		Overlap:  150,
		MinChars: 200,
	}
}

// ChunkDocument splits a document into overlapping chunks. Offsets are rune
// offsets into the original content, so the text of every chunk can be
// recovered from the document. Chunking is deterministic: identical content
// always produces identical chunk ids, texts and offsets.
//
// A trailing chunk shorter than MinChars is merged into the one before it;
// the merged chunk spans both offset ranges and may exceed MaxChars.
func ChunkDocument(doc *domain.Document, cfg ChunkConfig) []domain.Chunk {
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}

	runes := []rune(doc.Content)
	lo, hi := 0, len(runes)
	for lo < hi && unicode.IsSpace(runes[lo]) {
		lo++
	}
	for hi > lo && unicode.IsSpace(runes[hi-1]) {
		hi--
	}
	if lo == hi {
		return nil
	}

	if hi-lo <= cfg.MaxChars {
		return []domain.Chunk{{
			ID:          domain.ChunkID(doc.ID, 0),
			DocumentID:  doc.ID,
			Seq:         0,
			Text:        string(runes[lo:hi]),
			StartOffset: lo,
			EndOffset:   hi,
		}}
	}

	chunks := make([]domain.Chunk, 0, 8)
	start := lo
	for start < hi {
		end := start + cfg.MaxChars
		if end > hi {
			end = hi
		}

		if end < hi {
			cut := end
			minCut := start + cfg.MinChars
			if minCut > end {
				minCut = start
			}
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
			end = cut
		}

		if end <= start {
			break
		}

		cs, ce := start, end
		for cs < ce && unicode.IsSpace(runes[cs]) {
			cs++
		}
		for ce > cs && unicode.IsSpace(runes[ce-1]) {
			ce--
		}
		if ce > cs {
			seq := len(chunks)
			chunks = append(chunks, domain.Chunk{
				ID:          domain.ChunkID(doc.ID, seq),
				DocumentID:  doc.ID,
				Seq:         seq,
				Text:        string(runes[cs:ce]),
				StartOffset: cs,
				EndOffset:   ce,
			})
		}

		if end >= hi {
			break
		}

		nextStart := end
		if cfg.Overlap > 0 {
			if end-start > cfg.Overlap {
				nextStart = end - cfg.Overlap
			}
		}
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	if n := len(chunks); n >= 2 {
		last := chunks[n-1]
		if len([]rune(last.Text)) < cfg.MinChars {
			prev := chunks[n-2]
			prev.Text = string(runes[prev.StartOffset:last.EndOffset])
			prev.EndOffset = last.EndOffset
			chunks[n-2] = prev
			chunks = chunks[:n-1]
		}
	}

	return chunks
}
