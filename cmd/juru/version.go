package main

import (
	"github.com/spf13/cobra"

	"github.com/harunnryd/juru/pkg/runner"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("juru version %s\n", runner.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
