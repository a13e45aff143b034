package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"tableocr/internal/config"
	"tableocr/internal/imaging"
	"tableocr/internal/logger"
)

var pagesCmd = &cobra.Command{
	Use:   "pages [pdf-file]",
	Short: "Render PDF pages to JPEG images without calling the model",
	Long: `Prepare page images exactly as the extraction pipeline would, but stop
before any model call. Useful to check DPI, cropping and grayscale
settings on a few pages before spending tokens on a whole volume.

Page preparation is deterministic: the same input and options always
produce the same images.`,
	Example: `  # Render all pages with the configured defaults
  tableocr pages band_1.pdf --out ./pages

  # Check crop settings on the first three pages
  tableocr pages band_1.pdf --out ./pages --crop-sides 120 --max-pages 3

  # Grayscale at reduced density
  tableocr pages band_1.pdf --out ./pages --dpi 150 --grayscale`,
	Args: cobra.ExactArgs(1),
	RunE: runPages,
}

func init() {
	rootCmd.AddCommand(pagesCmd)

	pagesCmd.Flags().StringP("out", "o", "", "Output directory for page JPEGs (required)")
	pagesCmd.Flags().Int("dpi", 0, "Render density cap (default: TABLEOCR_DPI)")
	pagesCmd.Flags().Int("crop-sides", 0, "Pixels cropped from left and right edges (default: TABLEOCR_CROP_SIDES)")
	pagesCmd.Flags().Bool("grayscale", false, "Convert pages to grayscale")
	pagesCmd.Flags().Int("start-page", 0, "First page to render (1-based)")
	pagesCmd.Flags().Int("max-pages", 0, "Maximum number of pages, 0 means all")
	pagesCmd.Flags().Int("quality", 0, "JPEG encode quality 1-100 (default: TABLEOCR_JPEG_QUALITY)")

	_ = pagesCmd.MarkFlagRequired("out")
}

func runPages(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("pages")

	outDir, _ := cmd.Flags().GetString("out")
	dpi, _ := cmd.Flags().GetInt("dpi")
	cropSides, _ := cmd.Flags().GetInt("crop-sides")
	grayscale, _ := cmd.Flags().GetBool("grayscale")
	startPage, _ := cmd.Flags().GetInt("start-page")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	quality, _ := cmd.Flags().GetInt("quality")

	pdfPath := args[0]

	log.Info().
		Str("file", pdfPath).
		Str("out", outDir).
		Int("dpi", dpi).
		Int("crop_sides", cropSides).
		Bool("grayscale", grayscale).
		Msg("Starting page preparation")

	if _, err := validateScanFile(pdfPath, log); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	opts := imaging.Options{
		DPI:         dpi,
		CropSides:   cropSides,
		Grayscale:   grayscale,
		StartPage:   startPage,
		MaxPages:    maxPages,
		JPEGQuality: quality,
	}
	if opts.DPI == 0 {
		opts.DPI = cfg.DPI
	}
	if opts.CropSides == 0 {
		opts.CropSides = cfg.CropSides
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = cfg.JPEGQuality
	}
	if !opts.Grayscale {
		opts.Grayscale = cfg.Grayscale
	}

	startTime := time.Now()
	pages, err := imaging.Pages(pdfPath, opts)
	if err != nil {
		return handleExtractionError(err, log)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Error().Err(err).Str("dir", outDir).Msg("Failed to create output directory")
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var totalBytes int
	for _, page := range pages {
		name := fmt.Sprintf("page_%04d.jpg", page.Page)
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, page.Data, 0644); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to write page image")
			return fmt.Errorf("failed to write page image %s: %w", path, err)
		}
		totalBytes += len(page.Data)
		fmt.Printf("%s  %dx%d px  %d bytes\n", name, page.Width, page.Height, len(page.Data))
	}

	log.Info().
		Int("pages", len(pages)).
		Int("bytes", totalBytes).
		Dur("duration", time.Since(startTime)).
		Msg("Page preparation completed")

	fmt.Printf("\n%d pages written to %s\n", len(pages), outDir)
	return nil
}
