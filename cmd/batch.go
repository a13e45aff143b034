package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"tableocr/internal/config"
	"tableocr/internal/logger"
	"tableocr/internal/ocr"
	"tableocr/internal/processor"
	"tableocr/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit and track asynchronous batch extraction jobs",
	Long: `Run extractions through the OpenAI batch API. A batch job completes
within 24 hours at roughly half the per-token cost, which suits large
volumes where nobody waits at the terminal.

Submitting uploads one request per page per sample and records the job
locally. The job survives restarts: status, collect and watch only need
the stored job ID. Collecting a completed job validates, votes and saves
the rows exactly like direct processing.

Required environment variables:
  OPENAI_API_KEY - API key used to authenticate requests`,
	Example: `  # Submit a file and check on it later
  tableocr batch submit reg1870 --file band_1.pdf
  tableocr batch status reg1870

  # Collect once completed
  tableocr batch collect reg1870 --id batch_abc123

  # Or block until it finishes
  tableocr batch watch reg1870 --id batch_abc123 --poll-interval 2m`,
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit [project]",
	Short: "Submit one project file as a batch job",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchSubmit,
}

var batchListCmd = &cobra.Command{
	Use:   "list [project]",
	Short: "List stored batch jobs without polling",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchList,
}

var batchStatusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Poll job status and persist changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchStatus,
}

var batchCollectCmd = &cobra.Command{
	Use:   "collect [project]",
	Short: "Fetch results of a finished job and save the extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchCollect,
}

var batchWatchCmd = &cobra.Command{
	Use:   "watch [project]",
	Short: "Poll until the job finishes, then collect it",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchWatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchSubmitCmd)
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchCollectCmd)
	batchCmd.AddCommand(batchWatchCmd)

	batchSubmitCmd.Flags().String("file", "", "Project file to submit (required)")
	batchSubmitCmd.Flags().Int("samples", 0, "Requests per page, 3+ enables majority voting on collect (default: TABLEOCR_SAMPLES)")
	batchSubmitCmd.Flags().Int("timeout", 600, "Submission timeout in seconds")
	_ = batchSubmitCmd.MarkFlagRequired("file")

	batchStatusCmd.Flags().String("id", "", "Poll a single job instead of all non-terminal ones")
	batchStatusCmd.Flags().Int("timeout", 120, "Polling timeout in seconds")

	batchCollectCmd.Flags().String("id", "", "Batch job ID (required)")
	batchCollectCmd.Flags().Int("timeout", 600, "Collection timeout in seconds")
	_ = batchCollectCmd.MarkFlagRequired("id")

	batchWatchCmd.Flags().String("id", "", "Batch job ID (required)")
	batchWatchCmd.Flags().Duration("poll-interval", 0, "Time between polls (default: TABLEOCR_POLL_INTERVAL)")
	batchWatchCmd.Flags().Int("timeout", 86400, "Watch timeout in seconds, batch jobs can take up to a day")
	_ = batchWatchCmd.MarkFlagRequired("id")
}

// newBatchProcessor builds the processor for the batch subcommands.
func newBatchProcessor(log zerolog.Logger) (*processor.Processor, *config.Config, error) {
	cfg, st, err := loadSetup(log)
	if err != nil {
		return nil, nil, err
	}
	svc, err := newExtractionService(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return processor.New(st, svc, svc, cfg), cfg, nil
}

func runBatchSubmit(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	file, _ := cmd.Flags().GetString("file")
	samples, _ := cmd.Flags().GetInt("samples")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	project := args[0]

	log.Info().
		Str("project", project).
		Str("file", file).
		Int("samples", samples).
		Msg("Submitting batch job")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	proc, cfg, err := newBatchProcessor(log)
	if err != nil {
		return err
	}

	sampleCount, err := resolveSamples(samples, cfg.Samples)
	if err != nil {
		return err
	}
	opts := ocr.ExtractOptions{Samples: sampleCount}

	job, err := proc.SubmitFile(ctx, project, file, opts)
	if err != nil {
		return handleExtractionError(err, log)
	}

	fmt.Printf("Submitted %s as job %s (%d pages, %d samples)\n", job.File, job.ID, job.Pages, job.Samples)
	fmt.Printf("Check later with:   tableocr batch status %s\n", project)
	fmt.Printf("Collect later with: tableocr batch collect %s --id %s\n", project, job.ID)
	return nil
}

func runBatchList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	jobs, err := st.ListBatchJobs(args[0])
	if err != nil {
		return handleStoreError(err, log)
	}

	printJobs(jobs)
	return nil
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	id, _ := cmd.Flags().GetString("id")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	project := args[0]

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	proc, _, err := newBatchProcessor(log)
	if err != nil {
		return err
	}

	if id != "" {
		job, err := proc.RefreshJob(ctx, project, id)
		if err != nil {
			return handleExtractionError(err, log)
		}
		printJobs([]models.BatchJob{*job})
		return nil
	}

	jobs, err := proc.Refresh(ctx, project)
	if err != nil {
		return handleExtractionError(err, log)
	}
	printJobs(jobs)
	return nil
}

func runBatchCollect(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	id, _ := cmd.Flags().GetString("id")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	project := args[0]

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	proc, _, err := newBatchProcessor(log)
	if err != nil {
		return err
	}

	ex, job, err := proc.Collect(ctx, project, id)
	if err != nil {
		return handleExtractionError(err, log)
	}

	return reportCollected(ex, job)
}

func runBatchWatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	id, _ := cmd.Flags().GetString("id")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	project := args[0]

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	proc, cfg, err := newBatchProcessor(log)
	if err != nil {
		return err
	}

	if pollInterval <= 0 {
		pollInterval = cfg.PollInterval
	}

	fmt.Printf("Watching job %s, polling every %s. Ctrl-C detaches without losing the job.\n", id, pollInterval)

	ex, job, err := proc.Watch(ctx, project, id, pollInterval)
	if err != nil {
		return handleExtractionError(err, log)
	}

	return reportCollected(ex, job)
}

// reportCollected prints the outcome of a collect or watch call.
func reportCollected(ex *models.Extraction, job *models.BatchJob) error {
	switch {
	case ex != nil:
		fmt.Printf("Collected %s: %d pages, %d rows, %d tokens\n",
			job.File, len(ex.Pages), ex.RowCount(), ex.Usage.TotalTokens)
		return nil
	case job.Status.Terminal():
		if job.Error != "" {
			return fmt.Errorf("job %s ended %s: %s", job.ID, job.Status, job.Error)
		}
		return fmt.Errorf("job %s ended %s without results", job.ID, job.Status)
	default:
		fmt.Printf("Job %s is %s (%d/%d requests done). Try again later or use batch watch.\n",
			job.ID, job.Status, job.RequestCounts.Completed, job.RequestCounts.Total)
		return nil
	}
}

// printJobs renders a job table.
func printJobs(jobs []models.BatchJob) {
	if len(jobs) == 0 {
		fmt.Println("No batch jobs. Submit one with: tableocr batch submit <project> --file <pdf>")
		return
	}

	fmt.Printf("%-20s %-28s %-12s %-10s %s\n", "ID", "FILE", "STATUS", "REQUESTS", "UPDATED")
	for _, job := range jobs {
		requests := fmt.Sprintf("%d/%d", job.RequestCounts.Completed, job.RequestCounts.Total)
		fmt.Printf("%-20s %-28s %-12s %-10s %s\n",
			job.ID, job.File, job.Status, requests, job.UpdatedAt.Format(time.DateTime))
	}
}
