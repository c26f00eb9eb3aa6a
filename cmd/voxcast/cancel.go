package main

import (
	"github.com/spf13/cobra"
)

var cancelPurge bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <document-id>",
	Short: "Cancel analysis of a document",
	Long: `Cancel marks a document cancelled, removes its queued jobs, and discards
its checkpoints. With --purge, persisted characters and merged profiles are
deleted as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		docID := args[0]

		a.sched.CancelForDocument(ctx, docID)
		a.checkpoints.DeleteDocument(docID)

		if cancelPurge {
			if err := a.store.DeleteDocumentData(ctx, docID); err != nil {
				return err
			}
		}

		a.logger.Info("document cancelled", "document_id", docID, "purged", cancelPurge)
		return nil
	},
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelPurge, "purge", false, "also delete persisted characters and profiles")
}
