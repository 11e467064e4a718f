// Package badger persists the vector index in a local Badger database. It is
// the default backend: a single on-disk index that a fresh process can open
// and search with no warm-up.
package badger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/tessera-labs/tessera/internal/domain"
)

const metaKey = "index-meta"

// Store persists index entries and document records in Badger
type Store struct {
	store *badgerhold.Store
}

type entryRecord struct {
	ChunkID     string
	DocumentID  string `badgerholdIndex:"DocumentID"`
	Seq         int
	Text        string
	Source      string
	Title       string
	StartOffset int
	EndOffset   int
	Embedding   []float32
}

type documentRecord struct {
	ID          string
	Source      string
	Title       string
	Fingerprint string
	ChunkCount  int
	UpdatedAt   time.Time
}

type metaRecord struct {
	Dimension int
}

// Open opens (or creates) the index at dir. Writes are synchronous: an
// operation that returns nil has reached disk.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.SyncWrites = true
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger index: %w", err)
	}

	return &Store{store: store}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.store.Close()
}

// Upsert inserts or replaces individual entries. The whole batch commits in
// one transaction.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	dim, err := batchDimension(entries)
	if err != nil {
		return err
	}

	return s.store.Badger().Update(func(tx *badgerdb.Txn) error {
		if err := s.txEnsureDimension(tx, dim); err != nil {
			return err
		}
		for _, entry := range entries {
			if err := s.store.TxUpsert(tx, entry.ChunkID, toEntryRecord(entry)); err != nil {
				return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to write index entry", err)
			}
		}
		return nil
	})
}

// ReplaceDocument atomically swaps a document's chunk set: stale entries are
// removed, the new set is inserted and the document record is updated, all in
// one transaction. Readers see either the old version or the new one, never a
// mix.
func (s *Store) ReplaceDocument(ctx context.Context, doc domain.DocumentRecord, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var dim int
	if len(entries) > 0 {
		var err error
		dim, err = batchDimension(entries)
		if err != nil {
			return err
		}
	}

	return s.store.Badger().Update(func(tx *badgerdb.Txn) error {
		if len(entries) > 0 {
			if err := s.txEnsureDimension(tx, dim); err != nil {
				return err
			}
		}

		if err := s.store.TxDeleteMatching(tx, &entryRecord{}, badgerhold.Where("DocumentID").Eq(doc.ID)); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to remove stale entries", err)
		}

		for _, entry := range entries {
			if err := s.store.TxUpsert(tx, entry.ChunkID, toEntryRecord(entry)); err != nil {
				return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to write index entry", err)
			}
		}

		record := documentRecord{
			ID:          doc.ID,
			Source:      doc.Source,
			Title:       doc.Title,
			Fingerprint: doc.Fingerprint,
			ChunkCount:  len(entries),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := s.store.TxUpsert(tx, doc.ID, record); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to write document record", err)
		}
		return nil
	})
}

// SearchVectors returns the k entries nearest to vector by cosine
// similarity. Ties order by ascending chunk id. An empty index returns an
// empty result; a vector whose dimension differs from the index is a
// configuration error, never a wrong answer.
func (s *Store) SearchVectors(ctx context.Context, vector []float32, k int) ([]domain.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	dim, err := s.dimension()
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, domain.ErrDimensionMismatch
	}

	var records []entryRecord
	if err := s.store.Find(&records, badgerhold.Where("ChunkID").Ne("")); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to scan index", err)
	}

	hits := make([]domain.Hit, 0, len(records))
	for _, record := range records {
		hits = append(hits, domain.Hit{
			Entry: fromEntryRecord(record),
			Score: domain.Cosine(vector, record.Embedding),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.ChunkID < hits[j].Entry.ChunkID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Entries returns the entries for the given chunk ids in input order,
// skipping ids that are not in the index.
func (s *Store) Entries(ctx context.Context, chunkIDs []string) ([]domain.IndexEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]domain.IndexEntry, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		var record entryRecord
		err := s.store.Get(id, &record)
		if err == badgerhold.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read index entry", err)
		}
		entries = append(entries, fromEntryRecord(record))
	}
	return entries, nil
}

// Document returns one document record by id
func (s *Store) Document(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var record documentRecord
	err := s.store.Get(id, &record)
	if err == badgerhold.ErrNotFound {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read document record", err)
	}

	doc := fromDocumentRecord(record)
	return &doc, nil
}

// Documents returns up to limit document records with id greater than
// afterID, in ascending id order.
func (s *Store) Documents(ctx context.Context, afterID string, limit int) ([]domain.DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := badgerhold.Where("ID").Gt(afterID).SortBy("ID")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []documentRecord
	if err := s.store.Find(&records, query); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to list document records", err)
	}

	docs := make([]domain.DocumentRecord, len(records))
	for i, record := range records {
		docs[i] = fromDocumentRecord(record)
	}
	return docs, nil
}

// DeleteDocument removes a document record and all of its entries
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.store.Badger().Update(func(tx *badgerdb.Txn) error {
		var record documentRecord
		err := s.store.TxGet(tx, id, &record)
		if err == badgerhold.ErrNotFound {
			return domain.ErrDocumentNotFound
		}
		if err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read document record", err)
		}

		if err := s.store.TxDeleteMatching(tx, &entryRecord{}, badgerhold.Where("DocumentID").Eq(id)); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to remove entries", err)
		}

		if err := s.store.TxDelete(tx, id, &documentRecord{}); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to remove document record", err)
		}
		return nil
	})
}

// Stats summarizes the index contents
func (s *Store) Stats(ctx context.Context) (domain.IndexStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.IndexStats{}, err
	}

	docs, err := s.store.Count(&documentRecord{}, nil)
	if err != nil {
		return domain.IndexStats{}, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to count documents", err)
	}
	chunks, err := s.store.Count(&entryRecord{}, nil)
	if err != nil {
		return domain.IndexStats{}, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to count entries", err)
	}
	dim, err := s.dimension()
	if err != nil {
		return domain.IndexStats{}, err
	}

	return domain.IndexStats{
		Documents: int(docs),
		Chunks:    int(chunks),
		Dimension: dim,
	}, nil
}

func (s *Store) dimension() (int, error) {
	var meta metaRecord
	err := s.store.Get(metaKey, &meta)
	if err == badgerhold.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read index metadata", err)
	}
	return meta.Dimension, nil
}

// txEnsureDimension records the index dimension on first write and rejects
// any later write with a different one.
func (s *Store) txEnsureDimension(tx *badgerdb.Txn, dim int) error {
	var meta metaRecord
	err := s.store.TxGet(tx, metaKey, &meta)
	if err == badgerhold.ErrNotFound {
		if err := s.store.TxUpsert(tx, metaKey, metaRecord{Dimension: dim}); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to write index metadata", err)
		}
		return nil
	}
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStoreCorruption, "failed to read index metadata", err)
	}
	if meta.Dimension != dim {
		return domain.ErrDimensionMismatch
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

func toEntryRecord(entry domain.IndexEntry) entryRecord {
	return entryRecord{
		ChunkID:     entry.ChunkID,
		DocumentID:  entry.DocumentID,
		Seq:         entry.Seq,
		Text:        entry.Text,
		Source:      entry.Source,
		Title:       entry.Title,
		StartOffset: entry.StartOffset,
		EndOffset:   entry.EndOffset,
		Embedding:   entry.Embedding,
	}
}

func fromEntryRecord(record entryRecord) domain.IndexEntry {
	return domain.IndexEntry{
		ChunkID:     record.ChunkID,
		DocumentID:  record.DocumentID,
		Seq:         record.Seq,
		Text:        record.Text,
		Source:      record.Source,
		Title:       record.Title,
		StartOffset: record.StartOffset,
		EndOffset:   record.EndOffset,
		Embedding:   record.Embedding,
	}
}

func fromDocumentRecord(record documentRecord) domain.DocumentRecord {
	return domain.DocumentRecord{
		ID:          record.ID,
		Source:      record.Source,
		Title:       record.Title,
		Fingerprint: record.Fingerprint,
		ChunkCount:  record.ChunkCount,
		UpdatedAt:   record.UpdatedAt,
	}
}
