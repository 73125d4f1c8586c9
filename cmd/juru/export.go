package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harunnryd/juru/pkg/export"
)

var (
	exportTitle  string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export [session-id]",
	Short: "Export a saved session as Markdown",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportTitle, "title", "t", "", "Override the saved title")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	doc := rec.Document()
	if exportTitle != "" {
		doc.Title = exportTitle
	}
	md, err := export.RenderMarkdown(doc)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), exportOutput, md)
}
