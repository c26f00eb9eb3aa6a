package main

import (
	"github.com/spf13/cobra"

	"voxcast/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "voxcast",
	Short: "Character analysis pipeline for audiobook narration",
	Long: `Voxcast analyzes book chapters with a local or remote LLM and produces
per-character voice profiles for multi-voice audiobook narration.

The pipeline includes:
  - Character discovery across chapter text
  - Dialogue extraction with speaker attribution and emotion
  - Trait and voice profile synthesis per character
  - Cross-chapter merging with consistency checking

Analysis is resumable: progress is checkpointed per chapter, and
interrupted documents are picked up again with 'voxcast resume'.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.voxcast/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "voxcast home directory (default: ~/.voxcast)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
