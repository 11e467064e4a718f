package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessera-labs/tessera/internal/corpus"
	"github.com/tessera-labs/tessera/internal/domain"
)

// DocumentPayload represents one document in the ingest API request.
type DocumentPayload struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// AddRequest represents the ingest API request.
type AddRequest struct {
	Documents []DocumentPayload `json:"documents"`
}

// AddResult represents the outcome for one document.
type AddResult struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// AddResponse represents the ingest API response.
type AddResponse struct {
	Results []AddResult `json:"results"`
}

// AddCmd creates the add command.
func AddCmd() *cobra.Command {
	var id string
	var title string

	cmd := &cobra.Command{
		Use:     "add <file|directory>...",
		Short:   "Index documents",
		Long:    "Reads text, markdown or HTML files and submits them for indexing. Re-adding a file updates its chunks in place.",
		Aliases: []string{"ingest"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAdd(cmd, args, id, title, outputJSON)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Document id override (single file only)")
	cmd.Flags().StringVar(&title, "title", "", "Document title override (single file only)")

	return cmd
}

func runAdd(cmd *cobra.Command, paths []string, id, title string, outputJSON bool) error {
	if (id != "" || title != "") && len(paths) != 1 {
		return fmt.Errorf("--id and --title require exactly one file argument")
	}

	docs, err := collectDocuments(paths)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no supported documents found")
	}

	if id != "" {
		docs[0].ID = id
	}
	if title != "" {
		docs[0].Title = title
	}

	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	req := AddRequest{Documents: make([]DocumentPayload, len(docs))}
	for i, doc := range docs {
		req.Documents[i] = DocumentPayload{
			ID:      doc.ID,
			Source:  doc.Source,
			Title:   doc.Title,
			Content: doc.Content,
		}
	}

	resp, err := api.Post("/api/documents/", req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	var addResp AddResponse
	if err := json.Unmarshal(resp.Data, &addResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(addResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	var failed int
	for _, result := range addResp.Results {
		switch result.Status {
		case "failed":
			failed++
			fmt.Printf("failed   %s: %s\n", result.DocumentID, result.Error)
		default:
			fmt.Printf("%-8s %s (%d chunks)\n", result.Status, result.DocumentID, result.ChunkCount)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(addResp.Results))
	}
	return nil
}

// collectDocuments loads every argument: directories are walked, files are
// loaded individually.
func collectDocuments(paths []string) ([]domain.Document, error) {
	ctx := context.Background()

	var docs []domain.Document
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		if info.IsDir() {
			loaded, err := corpus.NewLoader(path).Load(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			docs = append(docs, loaded...)
			continue
		}

		doc, err := corpus.LoadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
