package corpus

import (
	"context"
	"log"
	"path"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
)

// ObjectStore defines the interface for reading corpus files from object storage
type ObjectStore interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// S3Source loads documents from an object storage bucket. Keys under the
// prefix map to document ids the same way file paths do for Loader, so a
// corpus can move between a directory and a bucket without re-indexing.
type S3Source struct {
	store  ObjectStore
	bucket string
	prefix string
}

// NewS3Source creates an S3Source reading keys under prefix
func NewS3Source(store ObjectStore, bucket, prefix string) *S3Source {
	return &S3Source{store: store, bucket: bucket, prefix: prefix}
}

// Load lists and downloads every supported object under the prefix
func (s *S3Source) Load(ctx context.Context) ([]domain.Document, error) {
	keys, err := s.store.ListObjects(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	var docs []domain.Document
	for _, key := range keys {
		if !supportedExtensions[strings.ToLower(path.Ext(key))] {
			continue
		}
		if strings.HasPrefix(path.Base(key), ".") {
			continue
		}

		raw, err := s.store.GetObject(ctx, key)
		if err != nil {
			log.Printf("corpus: skip s3 object %s: %v", key, err)
			continue
		}

		id := strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
		doc := buildDocument(id, "s3://"+s.bucket+"/"+key, string(raw))
		if strings.TrimSpace(doc.Content) == "" {
			log.Printf("corpus: skip s3 object %s: no text content", key)
			continue
		}

		docs = append(docs, doc)
	}

	return docs, nil
}
