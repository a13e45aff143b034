package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"tableocr/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "tableocr",
	Short: "Table OCR CLI - extract structured tables from scanned documents",
	Long: `Table OCR turns scans of tabular records, such as historical name
registers or census sheets, into structured rows using an OpenAI vision
model.

A project bundles PDF files with a prompt and an output schema. Files are
processed directly or as overnight batch jobs, and results export to CSV,
JSON or Google Sheets. One-shot extraction without a project is available
through the ocr command.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Table OCR CLI executed")

		fmt.Println("Welcome to Table OCR!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
