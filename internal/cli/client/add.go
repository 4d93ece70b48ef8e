package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func AddCmd() *cobra.Command {
	var (
		file     string
		revision int64
	)

	cmd := &cobra.Command{
		Use:   "add <document_id>",
		Short: "Index a document's text",
		Long: `Index a document's extracted text so it becomes searchable.

Examples:
  # Index from a file
  pipewrench add handbook-2026 --file handbook.txt

  # Index from stdin
  cat handbook.txt | pipewrench add handbook-2026

  # Replace with a newer revision
  pipewrench add handbook-2026 --file handbook.txt --revision 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAdd(cmd, args[0], file, revision, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Input file with document text (default: stdin)")
	cmd.Flags().Int64Var(&revision, "revision", 1, "Document revision number")

	return cmd
}

func runAdd(cmd *cobra.Command, documentID, file string, revision int64, outputJSON bool) error {
	var text []byte
	var err error
	if file != "" {
		text, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
	} else {
		text, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Put(fmt.Sprintf("/documents/%s", documentID), map[string]interface{}{
		"text":     string(text),
		"revision": revision,
	})
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}

	if outputJSON {
		fmt.Println(string(resp.Data))
		return nil
	}

	var doc struct {
		ID         string `json:"id"`
		Revision   int64  `json:"revision"`
		ChunkCount int    `json:"chunk_count"`
	}
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Indexed %s (revision %d, %d chunks)\n", doc.ID, doc.Revision, doc.ChunkCount)
	return nil
}
