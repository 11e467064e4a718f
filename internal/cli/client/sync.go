package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// SyncResponse represents the sync API response.
type SyncResponse struct {
	Indexed int         `json:"indexed"`
	Skipped int         `json:"skipped"`
	Removed int         `json:"removed"`
	Failed  int         `json:"failed"`
	Results []AddResult `json:"results"`
}

// SyncCmd creates the sync command.
func SyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rescan the server's corpus source",
		Long:  "Asks the server to rescan its configured corpus directory or bucket and reconcile the index.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runSync(cmd, outputJSON)
		},
	}

	return cmd
}

func runSync(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/api/sync", nil)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	var syncResp SyncResponse
	if err := json.Unmarshal(resp.Data, &syncResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(syncResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Sync complete: %d indexed, %d skipped, %d removed, %d failed\n",
		syncResp.Indexed, syncResp.Skipped, syncResp.Removed, syncResp.Failed)

	for _, result := range syncResp.Results {
		if result.Status == "failed" {
			fmt.Printf("failed   %s: %s\n", result.DocumentID, result.Error)
		}
	}

	if syncResp.Failed > 0 {
		return fmt.Errorf("%d documents failed", syncResp.Failed)
	}
	return nil
}
