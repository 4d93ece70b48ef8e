package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pipewrench-ai/pipewrench/internal/cli/admin"
	"github.com/pipewrench-ai/pipewrench/internal/cli/client"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipewrenchd",
		Short: "Pipewrench daemon",
		Long:  "Pipewrench daemon for running the retrieval API server",
	}

	rootCmd.PersistentFlags().String("api-url", "", "API base URL for admin commands")

	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(client.ReindexCmd())
	rootCmd.AddCommand(client.HealthCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
