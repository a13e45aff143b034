package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"tableocr/internal/logger"
	"tableocr/internal/ocr"
	"tableocr/internal/processor"
)

var processCmd = &cobra.Command{
	Use:   "process [project]",
	Short: "Run direct extraction over project files",
	Long: `Process project files synchronously through the vision model. With
--file one file is processed; with --all every unprocessed or failed
file runs through a worker pool sized by TABLEOCR_WORKERS.

Files that fail keep status failed with the error recorded, and a later
--all run picks them up again. Files with a batch job in flight are
skipped.

Required environment variables:
  OPENAI_API_KEY - API key used to authenticate requests`,
	Example: `  # One file
  tableocr process reg1870 --file band_1.pdf

  # Everything pending, three samples per page
  tableocr process reg1870 --all --samples 3

  # A long volume with a generous timeout
  tableocr process reg1870 --file band_4.pdf --timeout 7200`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("file", "", "Process a single file by name")
	processCmd.Flags().Bool("all", false, "Process every unprocessed or failed file")
	processCmd.Flags().Int("samples", 0, "Model calls per page, 3+ enables majority voting (default: TABLEOCR_SAMPLES)")
	processCmd.Flags().Int("timeout", 3600, "Processing timeout in seconds")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	file, _ := cmd.Flags().GetString("file")
	all, _ := cmd.Flags().GetBool("all")
	samples, _ := cmd.Flags().GetInt("samples")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	project := args[0]

	if file == "" && !all {
		return fmt.Errorf("specify --file <name> or --all")
	}
	if file != "" && all {
		return fmt.Errorf("--file and --all are mutually exclusive")
	}

	log.Info().
		Str("project", project).
		Str("file", file).
		Bool("all", all).
		Int("samples", samples).
		Msg("Starting project processing")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	cfg, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	svc, err := newExtractionService(cfg, log)
	if err != nil {
		return err
	}
	proc := processor.New(st, svc, svc, cfg)

	sampleCount, err := resolveSamples(samples, cfg.Samples)
	if err != nil {
		return err
	}
	opts := ocr.ExtractOptions{Samples: sampleCount}

	if file != "" {
		ex, err := proc.ProcessFile(ctx, project, file, opts)
		if err != nil {
			return handleExtractionError(err, log)
		}
		fmt.Printf("%s: %d pages, %d rows, %d tokens\n",
			ex.File, len(ex.Pages), ex.RowCount(), ex.Usage.TotalTokens)
		return nil
	}

	summary, err := proc.ProcessAll(ctx, project, opts)
	if err != nil {
		return handleExtractionError(err, log)
	}

	if summary.Total == 0 {
		fmt.Println("Nothing to process: all files are done or have a batch job in flight.")
		return nil
	}

	fmt.Printf("%-32s %-8s %-6s %-6s %s\n", "FILE", "RESULT", "PAGES", "ROWS", "NOTE")
	for _, res := range summary.Results {
		if res.Err != nil {
			fmt.Printf("%-32s %-8s %-6s %-6s %s\n", res.File, "failed", "-", "-", truncate(res.Err.Error(), 48))
			continue
		}
		fmt.Printf("%-32s %-8s %-6d %-6d\n", res.File, "ok", res.Pages, res.Rows)
	}
	fmt.Printf("\n%d of %d files processed, %d failed, %d tokens, %s\n",
		summary.Succeeded, summary.Total, summary.Failed,
		summary.Usage.TotalTokens, summary.Elapsed.Round(time.Second))

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed; they keep status failed and a later --all run retries them",
			summary.Failed, summary.Total)
	}
	return nil
}
