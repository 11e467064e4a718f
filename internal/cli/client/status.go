package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// StatusResponse represents the status API response.
type StatusResponse struct {
	Documents         int    `json:"documents"`
	Chunks            int    `json:"chunks"`
	Dimension         int    `json:"dimension"`
	Backend           string `json:"backend"`
	EmbeddingProvider string `json:"embedding_provider"`
	LLMProvider       string `json:"llm_provider"`
	SearchMode        string `json:"search_mode"`
}

// StatusCmd creates the status command.
func StatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		Long:  "Reports document and chunk counts, the index dimension and the configured providers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runStatus(cmd, outputJSON)
		},
	}

	return cmd
}

func runStatus(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/api/status")
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	var statusResp StatusResponse
	if err := json.Unmarshal(resp.Data, &statusResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(statusResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Documents: %d\n", statusResp.Documents)
	fmt.Printf("Chunks: %d\n", statusResp.Chunks)
	fmt.Printf("Dimension: %d\n", statusResp.Dimension)
	fmt.Printf("Backend: %s\n", statusResp.Backend)
	fmt.Printf("Embedding provider: %s\n", statusResp.EmbeddingProvider)
	fmt.Printf("LLM provider: %s\n", statusResp.LLMProvider)
	fmt.Printf("Search mode: %s\n", statusResp.SearchMode)

	return nil
}
