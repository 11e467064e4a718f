// Package sqlite provides the lexical index used for keyword retrieval.
// Chunk text lives in a plain table mirrored into an FTS5 index by
// triggers, and queries are ranked with BM25.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tessera-labs/tessera/internal/domain"

	_ "modernc.org/sqlite"
)

// DefaultFileName is the database file name used under the data directory.
const DefaultFileName = "lexical.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	source TEXT NOT NULL,
	title TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

-- FTS5 index for keyword search. The table stores its own copy of the
-- text so the sync triggers below can use ordinary DML.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(text);

CREATE TRIGGER IF NOT EXISTS chunks_fts_insert AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_fts_update AFTER UPDATE ON chunks BEGIN
	UPDATE chunks_fts SET text = new.text WHERE rowid = new.rowid;
END;

CREATE TRIGGER IF NOT EXISTS chunks_fts_delete AFTER DELETE ON chunks BEGIN
	DELETE FROM chunks_fts WHERE rowid = old.rowid;
END;
`

const upsertChunkSQL = `
INSERT INTO chunks (chunk_id, document_id, seq, text, source, title, start_offset, end_offset)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chunk_id) DO UPDATE SET
	document_id = excluded.document_id,
	seq = excluded.seq,
	text = excluded.text,
	source = excluded.source,
	title = excluded.title,
	start_offset = excluded.start_offset,
	end_offset = excluded.end_offset
`

const searchSQL = `
SELECT c.chunk_id, c.document_id, c.seq, c.text, c.source, c.title, c.start_offset, c.end_offset, fts.rank
FROM chunks c
INNER JOIN chunks_fts fts ON c.rowid = fts.rowid
WHERE chunks_fts MATCH ?
ORDER BY rank, c.chunk_id
LIMIT ?
`

// Index is a SQLite-backed keyword index over chunk text.
type Index struct {
	db *sql.DB
}

// Open opens the lexical index at path, creating the file and its parent
// directory if needed.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to create lexical index directory", err)
		}
	}

	// modernc.org/sqlite registers the driver as "sqlite", not "sqlite3".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to open lexical index", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, fmt.Sprintf("failed to execute %s", pragma), err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to initialize lexical index schema", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Upsert inserts or replaces entries keyed by chunk ID in one transaction.
func (ix *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to begin lexical index transaction", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := upsertChunk(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to commit lexical index transaction", err)
	}
	return nil
}

// ReplaceDocument atomically swaps every indexed chunk of a document for
// the given entries.
func (ix *Index) ReplaceDocument(ctx context.Context, documentID string, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to begin lexical index transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, fmt.Sprintf("failed to clear lexical index for document %s", documentID), err)
	}
	for _, entry := range entries {
		if err := upsertChunk(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to commit lexical index transaction", err)
	}
	return nil
}

// DeleteDocument removes every indexed chunk of a document. Deleting a
// document with no indexed chunks is a no-op.
func (ix *Index) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ix.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, fmt.Sprintf("failed to delete document %s from lexical index", documentID), err)
	}
	return nil
}

// Search runs a BM25 keyword query and returns at most k hits, best first.
// Scores are negated BM25 ranks, so a larger score means a better match.
// Returned entries carry no embedding.
func (ix *Index) Search(ctx context.Context, text string, k int) ([]domain.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	expr := matchExpr(text)
	if expr == "" {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, searchSQL, expr, k)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "lexical search failed", err)
	}
	defer rows.Close()

	var hits []domain.Hit
	for rows.Next() {
		var entry domain.IndexEntry
		var rank float64
		if err := rows.Scan(
			&entry.ChunkID, &entry.DocumentID, &entry.Seq, &entry.Text,
			&entry.Source, &entry.Title, &entry.StartOffset, &entry.EndOffset, &rank,
		); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to scan lexical search row", err)
		}
		hits = append(hits, domain.Hit{Entry: entry, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "lexical search failed", err)
	}
	return hits, nil
}

func upsertChunk(ctx context.Context, tx *sql.Tx, entry domain.IndexEntry) error {
	if _, err := tx.ExecContext(ctx, upsertChunkSQL,
		entry.ChunkID, entry.DocumentID, entry.Seq, entry.Text,
		entry.Source, entry.Title, entry.StartOffset, entry.EndOffset,
	); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, fmt.Sprintf("failed to index chunk %s", entry.ChunkID), err)
	}
	return nil
}

// matchExpr turns free text into an FTS5 query that ORs the individual
// terms. Tokens contain only letters and digits, so quoting them needs no
// escaping.
func matchExpr(text string) string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, token := range tokens {
		quoted = append(quoted, `"`+token+`"`)
	}
	return strings.Join(quoted, " OR ")
}
