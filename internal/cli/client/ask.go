package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AskRequest represents the query API request.
type AskRequest struct {
	Question string   `json:"question"`
	TopK     int      `json:"top_k,omitempty"`
	Lambda   *float64 `json:"lambda,omitempty"`
	Provider string   `json:"provider,omitempty"`
}

// Source represents one citation in the answer.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// AskTimings reports where the query spent its time.
type AskTimings struct {
	RetrievalSeconds  float64 `json:"retrieval_seconds"`
	GenerationSeconds float64 `json:"generation_seconds"`
	TotalSeconds      float64 `json:"total_seconds"`
}

// AskResponse represents the query API response.
type AskResponse struct {
	Answer      string     `json:"answer"`
	Blocked     bool       `json:"blocked"`
	BlockReason string     `json:"block_reason,omitempty"`
	Sources     []Source   `json:"sources"`
	Timings     AskTimings `json:"timings"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		topK     int
		lambda   float64
		provider string
	)

	cmd := &cobra.Command{
		Use:     "ask <question>",
		Short:   "Ask a question over the indexed documents",
		Long:    "Sends a question through the pipeline and prints the grounded answer with its sources.",
		Aliases: []string{"query"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			var lambdaPtr *float64
			if cmd.Flags().Changed("lambda") {
				lambdaPtr = &lambda
			}
			return runAsk(cmd, args[0], topK, lambdaPtr, provider, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (0 uses the server default)")
	cmd.Flags().Float64Var(&lambda, "lambda", 0.5, "MMR relevance/diversity balance (1 = pure relevance)")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider override (openai, claude, local)")

	return cmd
}

func runAsk(cmd *cobra.Command, question string, topK int, lambda *float64, provider string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	req := AskRequest{
		Question: question,
		TopK:     topK,
		Lambda:   lambda,
		Provider: provider,
	}

	resp, err := api.Post("/api/query", req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var askResp AskResponse
	if err := json.Unmarshal(resp.Data, &askResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(askResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if askResp.Blocked {
		fmt.Printf("Blocked: %s\n", askResp.BlockReason)
		return nil
	}

	fmt.Println(askResp.Answer)

	if len(askResp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, source := range askResp.Sources {
			title := source.Title
			if title == "" {
				title = source.DocumentID
			}
			fmt.Printf("%d. %s (%.3f)\n", i+1, title, source.Score)
			if source.Snippet != "" {
				fmt.Printf("   %s\n", source.Snippet)
			}
			fmt.Printf("   ID: %s\n", source.ChunkID)
			if i < len(askResp.Sources)-1 {
				fmt.Println(strings.Repeat("-", 40))
			}
		}
	}

	fmt.Printf("\n(retrieval %.2fs, generation %.2fs)\n",
		askResp.Timings.RetrievalSeconds, askResp.Timings.GenerationSeconds)

	return nil
}
