package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tessera-labs/tessera/internal/domain"
)

var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
}

// Loader reads documents from a directory tree. Unreadable or empty files
// are logged and skipped so one bad file never aborts a sync.
type Loader struct {
	dir string
}

// NewLoader creates a Loader rooted at dir
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load walks the corpus directory and returns one document per supported
// file. Document ids are slash-separated paths relative to the root, so
// they stay stable across hosts.
func (l *Loader) Load(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document

	err := filepath.WalkDir(l.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if entry.IsDir() {
			if path != l.dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			return nil
		}
		if !supportedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("corpus: skip %s: %v", path, err)
			return nil
		}

		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}

		doc := buildDocument(filepath.ToSlash(rel), path, string(raw))
		if strings.TrimSpace(doc.Content) == "" {
			log.Printf("corpus: skip %s: no text content", path)
			return nil
		}

		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return docs, nil
}

// LoadFile normalizes a single file into a document. The id is the
// slash-separated cleaned path, so adding the same file twice updates
// rather than duplicates.
func LoadFile(path string) (domain.Document, error) {
	if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
		return domain.Document{}, fmt.Errorf("unsupported file type: %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}

	doc := buildDocument(filepath.ToSlash(filepath.Clean(path)), path, string(raw))
	if strings.TrimSpace(doc.Content) == "" {
		return domain.Document{}, fmt.Errorf("no text content: %s", path)
	}
	return doc, nil
}

// buildDocument normalizes one raw file into a document. HTML is reduced to
// plain text; markdown and plain text are kept verbatim because their code
// blocks and formatting carry answer content.
func buildDocument(id, source, raw string) domain.Document {
	content := raw
	if isHTML(id) {
		content = stripHTML(raw)
	}

	return domain.Document{
		ID:      id,
		Source:  source,
		Title:   extractTitle(id, raw),
		Content: content,
	}
}

func isHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

func isMarkdown(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".md" || ext == ".markdown"
}
