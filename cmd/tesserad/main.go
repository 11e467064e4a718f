package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tessera-labs/tessera/internal/cli"
	"github.com/tessera-labs/tessera/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tesserad",
		Short: "Tessera daemon",
		Long:  "Tessera daemon for running the document question-answering API server",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
