package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"voxcast/internal/scheduler"
	"voxcast/internal/store"
)

var (
	analyzeDocID      string
	analyzeTitle      string
	analyzeChapter    int
	analyzeDiscovery  bool
	analyzeTraitsOnly bool
	analyzeBackground bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [chapter files...]",
	Short: "Analyze book chapters and build character voice profiles",
	Long: `Analyze runs the extraction pipeline over the given chapter files,
one file per chapter, in argument order.

Progress is checkpointed per chapter: if the run is interrupted, running
the same command again (or 'voxcast resume') picks up where it left off.

Examples:
  voxcast analyze book/ch01.txt book/ch02.txt
  voxcast analyze --discovery-only book/*.txt     # names only, fast
  voxcast analyze --chapter 3 book/*.txt          # one chapter
  voxcast analyze --traits-only --doc-id my-book  # re-synthesize voices`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !analyzeTraitsOnly {
			return fmt.Errorf("at least one chapter file is required")
		}

		a, err := newApp(cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()

		docID := analyzeDocID
		if docID == "" {
			docID = uuid.NewString()
		}

		jobType := scheduler.TypeFullDocument
		chapterIndex := -1
		switch {
		case analyzeDiscovery:
			jobType = scheduler.TypeDiscoveryOnly
		case analyzeTraitsOnly:
			jobType = scheduler.TypeTraitsOnly
		case analyzeChapter >= 0:
			jobType = scheduler.TypeSingleChapter
			chapterIndex = analyzeChapter
		}

		if len(args) > 0 {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				paths = append(paths, abs)
			}

			title := analyzeTitle
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(paths[0]), filepath.Ext(paths[0]))
			}

			if err := a.store.UpsertDocument(ctx, &store.Document{
				ID:           docID,
				Title:        title,
				Status:       store.DocumentPending,
				ChapterCount: len(paths),
				SourcePaths:  paths,
			}); err != nil {
				return err
			}
		}

		priority := scheduler.PriorityForeground
		foreground := true
		if analyzeBackground {
			priority = scheduler.PriorityBackground
			foreground = false
		}

		job := scheduler.NewJob(docID, jobType, chapterIndex, priority, foreground)
		if err := a.sched.Enqueue(ctx, job); err != nil {
			return err
		}

		a.logger.Info("analysis queued", "document_id", docID, "job_id", job.ID, "type", jobType)
		return a.runUntilDone(ctx, map[string]bool{job.ID: true})
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDocID, "doc-id", "", "document id (default: generated)")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "document title (default: first file name)")
	analyzeCmd.Flags().IntVar(&analyzeChapter, "chapter", -1, "analyze a single chapter index")
	analyzeCmd.Flags().BoolVar(&analyzeDiscovery, "discovery-only", false, "run character discovery only")
	analyzeCmd.Flags().BoolVar(&analyzeTraitsOnly, "traits-only", false, "re-run trait and voice synthesis on persisted characters")
	analyzeCmd.Flags().BoolVar(&analyzeBackground, "background", false, "queue at background priority")
}
