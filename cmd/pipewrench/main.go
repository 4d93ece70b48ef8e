package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pipewrench-ai/pipewrench/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipewrench",
		Short: "Pipewrench CLI - grounded answers over your documents",
		Long: `Pipewrench CLI provides commands to index documents and ask
questions against them.

Environment variables:
  PIPEWRENCH_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")

	rootCmd.AddCommand(client.AddCmd())
	rootCmd.AddCommand(client.DeleteCmd())
	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.HistoryCmd())
	rootCmd.AddCommand(client.CloseCmd())
	rootCmd.AddCommand(client.HealthCmd())
	rootCmd.AddCommand(client.ReindexCmd())
	rootCmd.AddCommand(client.ReviewCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
