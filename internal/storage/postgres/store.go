// Package postgres persists the vector index in PostgreSQL with pgvector.
// It is the shared-deployment backend: several API processes can serve the
// same index concurrently.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tessera-labs/tessera/internal/domain"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists index entries and document records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool. The pool may be shared; callers that
// passed one in own its lifecycle and should not also close the store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Upsert inserts or replaces individual entries. The whole batch commits in
// one transaction.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	dim, err := batchDimension(entries)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureDimension(ctx, tx, dim); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := upsertEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to commit transaction", err)
	}
	return nil
}

// ReplaceDocument atomically swaps a document's chunk set: stale entries are
// removed, the new set is inserted and the document record is updated, all in
// one transaction. Readers see either the old version or the new one, never a
// mix.
func (s *Store) ReplaceDocument(ctx context.Context, doc domain.DocumentRecord, entries []domain.IndexEntry) error {
	var dim int
	if len(entries) > 0 {
		var err error
		dim, err = batchDimension(entries)
		if err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if len(entries) > 0 {
		if err := ensureDimension(ctx, tx, dim); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to remove stale entries", err)
	}
	for _, entry := range entries {
		if err := upsertEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, source, title, fingerprint, chunk_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			title = EXCLUDED.title,
			fingerprint = EXCLUDED.fingerprint,
			chunk_count = EXCLUDED.chunk_count,
			updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Source, doc.Title, doc.Fingerprint, len(entries), time.Now().UTC(),
	)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to write document record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to commit transaction", err)
	}
	return nil
}

// SearchVectors returns the k entries nearest to vector by cosine
// similarity. Ties order by ascending chunk id. An empty index returns an
// empty result; a vector whose dimension differs from the index is a
// configuration error, never a wrong answer.
func (s *Store) SearchVectors(ctx context.Context, vector []float32, k int) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	dim, err := s.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, domain.ErrDimensionMismatch
	}

	rows, err := s.pool.Query(ctx,
		`SELECT chunk_id, document_id, seq, text, source, title, start_offset, end_offset, embedding,
		        1.0 - (embedding <=> $1) AS score
		 FROM chunks
		 ORDER BY score DESC, chunk_id ASC
		 LIMIT $2`,
		pgvector.NewVector(vector), k,
	)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to scan index", err)
	}
	defer rows.Close()

	return scanHitRows(rows)
}

// Entries returns the entries for the given chunk ids in input order,
// skipping ids that are not in the index.
func (s *Store) Entries(ctx context.Context, chunkIDs []string) ([]domain.IndexEntry, error) {
	if len(chunkIDs) == 0 {
		return []domain.IndexEntry{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT chunk_id, document_id, seq, text, source, title, start_offset, end_offset, embedding
		 FROM chunks WHERE chunk_id = ANY($1)`,
		chunkIDs,
	)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read index entries", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.IndexEntry)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		byID[entry.ChunkID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read index entries", err)
	}

	entries := make([]domain.IndexEntry, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if entry, ok := byID[id]; ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Document returns one document record by id.
func (s *Store) Document(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	var doc domain.DocumentRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, title, fingerprint, chunk_count, updated_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.Source, &doc.Title, &doc.Fingerprint, &doc.ChunkCount, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read document record", err)
	}
	return &doc, nil
}

// Documents returns up to limit document records with id greater than
// afterID, in ascending id order.
func (s *Store) Documents(ctx context.Context, afterID string, limit int) ([]domain.DocumentRecord, error) {
	query := `SELECT id, source, title, fingerprint, chunk_count, updated_at
		 FROM documents WHERE id > $1 ORDER BY id ASC`
	args := []any{afterID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to list document records", err)
	}
	defer rows.Close()

	return scanDocumentRows(rows)
}

// DeleteDocument removes a document record and all of its entries.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to remove document record", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to remove entries", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to commit transaction", err)
	}
	return nil
}

// Stats summarizes the index contents.
func (s *Store) Stats(ctx context.Context) (domain.IndexStats, error) {
	var stats domain.IndexStats

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.Documents); err != nil {
		return domain.IndexStats{}, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to count documents", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.Chunks); err != nil {
		return domain.IndexStats{}, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to count entries", err)
	}

	dim, err := s.dimension(ctx)
	if err != nil {
		return domain.IndexStats{}, err
	}
	stats.Dimension = dim
	return stats, nil
}

func (s *Store) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT dimension FROM index_meta WHERE id = 1`).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read index metadata", err)
	}
	return dim, nil
}

// ensureDimension records the index dimension on first write and rejects any
// later write with a different one.
func ensureDimension(ctx context.Context, db dbtx, dim int) error {
	var stored int
	err := db.QueryRow(ctx, `SELECT dimension FROM index_meta WHERE id = 1`).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := db.Exec(ctx, `INSERT INTO index_meta (id, dimension) VALUES (1, $1)`, dim); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to write index metadata", err)
		}
		return nil
	}
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read index metadata", err)
	}
	if stored != dim {
		return domain.ErrDimensionMismatch
	}
	return nil
}

func upsertEntry(ctx context.Context, db dbtx, entry domain.IndexEntry) error {
	_, err := db.Exec(ctx,
		`INSERT INTO chunks
			(chunk_id, document_id, seq, text, source, title, start_offset, end_offset, embedding)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			seq = EXCLUDED.seq,
			text = EXCLUDED.text,
			source = EXCLUDED.source,
			title = EXCLUDED.title,
			start_offset = EXCLUDED.start_offset,
			end_offset = EXCLUDED.end_offset,
			embedding = EXCLUDED.embedding`,
		entry.ChunkID, entry.DocumentID, entry.Seq, entry.Text,
		entry.Source, entry.Title, entry.StartOffset, entry.EndOffset,
		pgvector.NewVector(entry.Embedding),
	)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to write index entry", err)
	}
	return nil
}

func batchDimension(entries []domain.IndexEntry) (int, error) {
	dim := len(entries[0].Embedding)
	if dim == 0 {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "index entry has no embedding")
	}
	for _, entry := range entries[1:] {
		if len(entry.Embedding) != dim {
			return 0, domain.ErrDimensionMismatch
		}
	}
	return dim, nil
}

func scanEntry(rows pgx.Rows) (domain.IndexEntry, error) {
	var entry domain.IndexEntry
	var embedding pgvector.Vector
	if err := rows.Scan(
		&entry.ChunkID, &entry.DocumentID, &entry.Seq, &entry.Text,
		&entry.Source, &entry.Title, &entry.StartOffset, &entry.EndOffset, &embedding,
	); err != nil {
		return domain.IndexEntry{}, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to scan index entry", err)
	}
	entry.Embedding = embedding.Slice()
	return entry, nil
}

func scanHitRows(rows pgx.Rows) ([]domain.Hit, error) {
	var hits []domain.Hit
	for rows.Next() {
		var hit domain.Hit
		var embedding pgvector.Vector
		if err := rows.Scan(
			&hit.Entry.ChunkID, &hit.Entry.DocumentID, &hit.Entry.Seq, &hit.Entry.Text,
			&hit.Entry.Source, &hit.Entry.Title, &hit.Entry.StartOffset, &hit.Entry.EndOffset,
			&embedding, &hit.Score,
		); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to scan index entry", err)
		}
		hit.Entry.Embedding = embedding.Slice()
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to scan index", err)
	}
	return hits, nil
}

func scanDocumentRows(rows pgx.Rows) ([]domain.DocumentRecord, error) {
	var docs []domain.DocumentRecord
	for rows.Next() {
		var doc domain.DocumentRecord
		if err := rows.Scan(&doc.ID, &doc.Source, &doc.Title, &doc.Fingerprint, &doc.ChunkCount, &doc.UpdatedAt); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to scan document record", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to list document records", err)
	}
	return docs, nil
}
