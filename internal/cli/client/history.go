package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func HistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session_id>",
		Short: "Show the transcript of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runHistory(cmd, args[0], outputJSON)
		},
	}
}

func CloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <session_id>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if _, err := api.Delete(fmt.Sprintf("/sessions/%s", args[0])); err != nil {
				return fmt.Errorf("failed to close session: %w", err)
			}
			fmt.Printf("Closed %s\n", args[0])
			return nil
		},
	}
}

func runHistory(cmd *cobra.Command, sessionID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/sessions/%s", sessionID))
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	if outputJSON {
		fmt.Println(string(resp.Data))
		return nil
	}

	var turns []struct {
		Role      string `json:"role"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
		Citations []struct {
			DocumentID string `json:"document_id"`
			Stale      bool   `json:"stale"`
		} `json:"citations"`
	}
	if err := json.Unmarshal(resp.Data, &turns); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	for _, turn := range turns {
		fmt.Printf("[%s] %s\n", turn.Role, turn.Text)
		for _, c := range turn.Citations {
			stale := ""
			if c.Stale {
				stale = " (stale)"
			}
			fmt.Printf("    source: %s%s\n", c.DocumentID, stale)
		}
	}
	return nil
}
