package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func HealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server and index health",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runHealth(cmd, outputJSON)
		},
	}
}

func runHealth(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if outputJSON {
		fmt.Println(string(resp.Data))
		return nil
	}

	var status struct {
		IndexBackend   string `json:"index_backend"`
		IndexReachable bool   `json:"index_reachable"`
		LastWriteAt    string `json:"last_write_at"`
	}
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("index backend:   %s\n", status.IndexBackend)
	fmt.Printf("index reachable: %v\n", status.IndexReachable)
	if status.LastWriteAt != "" {
		fmt.Printf("last write:      %s\n", status.LastWriteAt)
	}
	return nil
}

func ReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from all registered documents",
		Long: `Rebuild the vector index by re-chunking and re-embedding every
registered document. Use after changing the embedding model or chunking
parameters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd)
		},
	}
}

func runReindex(cmd *cobra.Command) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/maintenance/reindex", nil)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	var result struct {
		Indexed int `json:"indexed"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Reindexed %d documents\n", result.Indexed)
	return nil
}

func ReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "List documents whose content is due for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runReview(cmd, outputJSON)
		},
	}
}

func runReview(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/maintenance/review")
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}

	if outputJSON {
		fmt.Println(string(resp.Data))
		return nil
	}

	var items []struct {
		DocumentID string `json:"document_id"`
		Revision   int64  `json:"revision"`
		IndexedAt  string `json:"indexed_at"`
	}
	if err := json.Unmarshal(resp.Data, &items); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if len(items) == 0 {
		fmt.Println("No documents due for review")
		return nil
	}

	for _, item := range items {
		fmt.Printf("%s  revision %d  indexed %s\n", item.DocumentID, item.Revision, item.IndexedAt)
	}
	return nil
}
