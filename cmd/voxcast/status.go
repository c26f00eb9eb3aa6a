package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"voxcast/internal/merge"
	"voxcast/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [document-id]",
	Short: "Show document analysis status and merged character profiles",
	Long: `Without arguments, status lists all known documents. With a document id,
it shows that document's state and its merged character profiles.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()

		if len(args) == 0 {
			docs, err := a.store.ListDocumentsByStatus(ctx,
				store.DocumentPending, store.DocumentInProgress,
				store.DocumentCompleted, store.DocumentFailed, store.DocumentCancelled)
			if err != nil {
				return err
			}
			return printOutput(documentList{Documents: docs})
		}

		doc, err := a.store.GetDocument(ctx, args[0])
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %q not found", args[0])
		}
		profiles, err := a.store.FetchMergedProfiles(ctx, doc.ID)
		if err != nil {
			return err
		}
		return printOutput(documentDetail{Document: doc, Characters: profiles})
	},
}

type documentList struct {
	Documents []*store.Document `json:"documents" yaml:"documents"`
}

type documentDetail struct {
	Document   *store.Document  `json:"document" yaml:"document"`
	Characters []*merge.Profile `json:"characters" yaml:"characters"`
}

func printOutput(v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
}
