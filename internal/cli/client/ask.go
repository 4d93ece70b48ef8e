package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func AskCmd() *cobra.Command {
	var (
		documentID string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against the indexed documents",
		Long: `Ask a question and print the grounded answer with its citations.

Without --session a fresh session is opened for the question. Pass the
printed session id back with --session to continue the conversation.

Examples:
  # One-shot question over the whole corpus
  pipewrench ask "How many vacation days do employees get?"

  # Question scoped to a single document
  pipewrench ask --document handbook-2026 "What is the parental leave policy?"

  # Follow-up in an existing session
  pipewrench ask --session <session_id> "And how do I request them?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAsk(cmd, strings.Join(args, " "), documentID, sessionID, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Limit retrieval to one document")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Continue an existing session")

	return cmd
}

func runAsk(cmd *cobra.Command, question, documentID, sessionID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	if sessionID == "" {
		resp, err := api.Post("/sessions", map[string]string{"document_id": documentID})
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		var sess struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(resp.Data, &sess); err != nil {
			return fmt.Errorf("failed to parse session response: %w", err)
		}
		sessionID = sess.ID
	} else if documentID != "" {
		return fmt.Errorf("--document only applies when starting a new session")
	}

	resp, err := api.Post(fmt.Sprintf("/sessions/%s/messages", sessionID), map[string]string{
		"text": question,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if outputJSON {
		fmt.Println(string(resp.Data))
		return nil
	}

	var answer struct {
		SessionID string `json:"session_id"`
		Answer    string `json:"answer"`
		Degraded  bool   `json:"degraded"`
		Citations []struct {
			ChunkID    string  `json:"chunk_id"`
			DocumentID string  `json:"document_id"`
			Excerpt    string  `json:"excerpt"`
			Score      float32 `json:"score"`
			Stale      bool    `json:"stale"`
		} `json:"citations"`
	}
	if err := json.Unmarshal(resp.Data, &answer); err != nil {
		return fmt.Errorf("failed to parse answer: %w", err)
	}

	fmt.Println(answer.Answer)
	if answer.Degraded {
		fmt.Println("\n(degraded: the answer could not be grounded in the index)")
	}
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for i, c := range answer.Citations {
			stale := ""
			if c.Stale {
				stale = " (stale)"
			}
			fmt.Printf("  [%d] %s%s: %s\n", i+1, c.DocumentID, stale, c.Excerpt)
		}
	}
	fmt.Printf("\nSession: %s\n", answer.SessionID)
	return nil
}
