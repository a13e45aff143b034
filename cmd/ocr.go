package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"tableocr/internal/export"
	"tableocr/internal/imaging"
	"tableocr/internal/logger"
	"tableocr/internal/ocr"
	"tableocr/pkg/models"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [scan-file]",
	Short: "Extract a table from a PDF or image in one shot",
	Long: `Extract structured table rows from a scanned document without creating
a project. The input is a PDF or a single JPEG, PNG or TIFF image.

Each page is rendered, sent to the configured OpenAI vision model and
validated against a stored output schema. With --samples 3 or more, every
page is extracted several times and the rows are merged by majority vote.

Required environment variables:
  OPENAI_API_KEY - API key used to authenticate requests

Optional environment variables:
  OPENAI_MODEL    - vision model id (default: gpt-4o-mini)
  OPENAI_BASE_URL - compatible-gateway override`,
	Example: `  # Extract with a stored prompt and schema, print JSON to stdout
  tableocr ocr band_1.pdf --schema name_register_standard

  # Ad-hoc prompt text, CSV output to a file
  tableocr ocr band_1.pdf --schema name_register_standard \
    --prompt-text "Transcribe the register rows" --format csv -o rows.csv

  # Three samples per page with majority voting, narrowed page range
  tableocr ocr band_1.pdf --schema name_register_standard \
    --samples 3 --start-page 10 --max-pages 5

  # Single photographed page
  tableocr ocr page_0421.jpg --schema name_register_standard`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().String("prompt", "basic", "Stored prompt name")
	ocrCmd.Flags().String("prompt-text", "", "Ad-hoc prompt text (overrides --prompt)")
	ocrCmd.Flags().String("schema", "", "Stored output schema name (required)")
	ocrCmd.Flags().Int("samples", 0, "Model calls per page, 3+ enables majority voting (default: TABLEOCR_SAMPLES)")
	ocrCmd.Flags().Int("start-page", 0, "First page to process (1-based)")
	ocrCmd.Flags().Int("max-pages", 0, "Maximum number of pages, 0 means all")
	ocrCmd.Flags().Int("dpi", 0, "Render density cap (default: TABLEOCR_DPI)")
	ocrCmd.Flags().Int("crop-sides", 0, "Pixels cropped from left and right edges (default: TABLEOCR_CROP_SIDES)")
	ocrCmd.Flags().Bool("grayscale", false, "Convert pages to grayscale")
	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().String("format", "json", "Output format: json or csv")
	ocrCmd.Flags().Int("timeout", 600, "Processing timeout in seconds")

	_ = ocrCmd.MarkFlagRequired("schema")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	promptName, _ := cmd.Flags().GetString("prompt")
	promptText, _ := cmd.Flags().GetString("prompt-text")
	schemaName, _ := cmd.Flags().GetString("schema")
	samples, _ := cmd.Flags().GetInt("samples")
	startPage, _ := cmd.Flags().GetInt("start-page")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	dpi, _ := cmd.Flags().GetInt("dpi")
	cropSides, _ := cmd.Flags().GetInt("crop-sides")
	grayscale, _ := cmd.Flags().GetBool("grayscale")
	outputPath, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	scanPath := args[0]

	log.Info().
		Str("file", scanPath).
		Str("schema", schemaName).
		Int("samples", samples).
		Str("format", format).
		Int("timeout", timeoutSecs).
		Msg("Starting table extraction")

	if _, err := validateScanFile(scanPath, log); err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	cfg, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	// Resolve the prompt. Ad-hoc text wins and is recorded as "inline".
	if promptText != "" {
		promptName = "inline"
	} else {
		p, err := st.GetPrompt(promptName)
		if err != nil {
			return handleStoreError(err, log)
		}
		promptText = p.Text
	}

	sc, err := st.GetSchema(schemaName)
	if err != nil {
		return handleStoreError(err, log)
	}

	svc, err := newExtractionService(cfg, log)
	if err != nil {
		return err
	}

	sampleCount, err := resolveSamples(samples, cfg.Samples)
	if err != nil {
		return err
	}
	opts := ocr.ExtractOptions{
		Samples:   sampleCount,
		StartPage: startPage,
		MaxPages:  maxPages,
		DPI:       dpi,
		CropSides: cropSides,
		Grayscale: grayscale,
	}

	startTime := time.Now()
	var ex *models.Extraction

	switch strings.ToLower(filepath.Ext(scanPath)) {
	case ".pdf":
		ex, err = svc.ExtractPDF(ctx, scanPath, promptText, sc, opts)
	case ".jpg", ".jpeg", ".png", ".tif", ".tiff":
		ex, err = svc.ExtractImage(ctx, scanPath, promptText, sc, opts)
	default:
		return fmt.Errorf("unsupported file type %q: use PDF, JPEG, PNG or TIFF", filepath.Ext(scanPath))
	}
	if err != nil {
		return handleExtractionError(err, log)
	}

	ex.Prompt = promptName

	log.Info().
		Int("pages", len(ex.Pages)).
		Int("rows", ex.RowCount()).
		Int("total_tokens", ex.Usage.TotalTokens).
		Dur("duration", time.Since(startTime)).
		Msg("Extraction completed")

	return outputExtraction(ex, sc, outputPath, format, log)
}

// validateScanFile checks that the input exists, is a regular file and is
// not empty. Unknown extensions only produce a warning; the extension
// switch in the caller decides what is actually supported.
func validateScanFile(path string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", path).
				Msg("Input file not found")
			return nil, fmt.Errorf("input file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().
				Str("file", path).
				Msg("Permission denied accessing input file")
			return nil, fmt.Errorf("permission denied accessing input file: %s", path)
		}
		return nil, fmt.Errorf("error accessing input file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().
			Str("file", path).
			Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}

	if fileInfo.Size() == 0 {
		log.Error().
			Str("file", path).
			Msg("Input file is empty")
		return nil, fmt.Errorf("input file is empty: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".jpg", ".jpeg", ".png", ".tif", ".tiff":
	default:
		log.Warn().
			Str("file", path).
			Msg("File extension is not a known scan format")
	}

	return fileInfo, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}

// handleExtractionError provides user-friendly error messages for extraction failures
func handleExtractionError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Extraction failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("extraction timed out. Try increasing --timeout or narrowing the page range with --start-page and --max-pages")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("extraction was canceled")
	case errors.Is(err, ocr.ErrAPIKeyMissing):
		return fmt.Errorf("OpenAI authentication failed. Please check your API key:\n\n"+
			"1. Export OPENAI_API_KEY in your shell:\n"+
			"   export OPENAI_API_KEY=sk-...\n\n"+
			"2. Or add OPENAI_API_KEY=sk-... to your .env file\n\n"+
			"Original error: %v", err)
	case errors.Is(err, ocr.ErrQuotaExceeded):
		return fmt.Errorf("OpenAI quota or rate limit exceeded. Wait and retry, or lower OPENAI_RPM. For large documents consider batch mode")
	case errors.Is(err, ocr.ErrAPIUnavailable):
		return fmt.Errorf("OpenAI API is unavailable. Check your network and OPENAI_BASE_URL, then retry")
	case errors.Is(err, ocr.ErrEmptyResponse), errors.Is(err, ocr.ErrMalformedResponse):
		return fmt.Errorf("the model did not return a usable table. Try a higher --dpi, a clearer prompt, or --samples 3 for majority voting: %w", err)
	case errors.Is(err, imaging.ErrUnreadable):
		return fmt.Errorf("invalid or corrupted input document. Please check the file integrity")
	case errors.Is(err, imaging.ErrNoPages), errors.Is(err, imaging.ErrNoPageImage):
		return fmt.Errorf("no processable pages found. The PDF may be empty or contain no embedded scans: %w", err)
	case errors.Is(err, imaging.ErrPageOutOfRange):
		return fmt.Errorf("--start-page is beyond the last page of the document")
	case errors.Is(err, imaging.ErrUnsupportedImage):
		return fmt.Errorf("the document embeds an unsupported image format: %w", err)
	default:
		return fmt.Errorf("table extraction failed: %w", err)
	}
}

// outputExtraction formats one extraction as JSON or CSV and writes it to
// a file or stdout.
func outputExtraction(ex *models.Extraction, sc *models.OutputSchema, outputPath, format string, log zerolog.Logger) error {
	var outputData []byte

	switch format {
	case "json":
		data, err := json.MarshalIndent(ex, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = data
	case "csv":
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, sc, ex); err != nil {
			log.Error().Err(err).Msg("Failed to build CSV output")
			return fmt.Errorf("failed to create CSV output: %w", err)
		}
		outputData = buf.Bytes()
	default:
		return fmt.Errorf("unknown format %q: use json or csv", format)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("Extraction written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
