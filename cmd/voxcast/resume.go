package main

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume analysis of interrupted documents",
	Long: `Resume scans for documents that were pending or in progress when the
last run stopped, re-enqueues them, and continues from their checkpoints.

Chapters that already completed are skipped; a chapter interrupted partway
continues from its last completed unit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()

		jobs, err := a.sched.ResumeIncomplete(ctx)
		if err != nil {
			return err
		}
		if jobs == 0 {
			a.logger.Info("nothing to resume")
			return nil
		}
		a.logger.Info("resuming interrupted documents", "jobs", jobs)

		ids := make(map[string]bool, jobs)
		for _, job := range a.sched.QueuedJobs() {
			ids[job.ID] = true
		}
		return a.runUntilDone(ctx, ids)
	},
}
