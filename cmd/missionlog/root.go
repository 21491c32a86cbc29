package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	noColor   bool
	ephemeral bool
)

var rootCmd = &cobra.Command{
	Use:           "missionlog",
	Short:         "Track a learning journey: daily missions, XP, levels and a journal",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep credentials in memory for this run only")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(statusCmd, watchCmd, dayCmd, taskCmd, kcCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(configCmd, mcpCmd)
}
