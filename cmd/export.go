package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"tableocr/internal/export"
	"tableocr/internal/logger"
	"tableocr/internal/sheets"
	"tableocr/pkg/models"
)

var exportCmd = &cobra.Command{
	Use:   "export [project]",
	Short: "Export extracted rows to CSV, JSON or Google Sheets",
	Long: `Export the stored extractions of a project. By default every processed
file is included in file order; --file narrows the export to one file.
Each row carries the schema columns plus file and page provenance.

With --sheet-url the rows are appended to a Google Sheets worksheet
instead, creating the worksheet and a formatted header row when needed.

Required environment variables for Sheets export:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # All processed files as CSV
  tableocr export reg1870 --format csv -o reg1870.csv

  # A single file as JSON to stdout
  tableocr export reg1870 --file band_1.pdf --format json

  # Append to a Google Sheet
  tableocr export reg1870 --sheet-url "https://docs.google.com/spreadsheets/d/abc123/edit" \
    --sheet-name "Band 1870"`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("file", "", "Export a single file instead of the whole project")
	exportCmd.Flags().String("format", "csv", "Output format: csv or json")
	exportCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	exportCmd.Flags().String("sheet-url", "", "Google Sheets URL to append to (default: GOOGLE_SHEET_URL)")
	exportCmd.Flags().String("sheet-name", "", "Worksheet name (default: GOOGLE_SHEET_WORKSHEET)")
	exportCmd.Flags().Int("timeout", 120, "Sheets export timeout in seconds")
}

func runExport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("export")

	file, _ := cmd.Flags().GetString("file")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	sheetURL, _ := cmd.Flags().GetString("sheet-url")
	sheetName, _ := cmd.Flags().GetString("sheet-name")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	project := args[0]

	log.Info().
		Str("project", project).
		Str("file", file).
		Str("format", format).
		Bool("sheets", sheetURL != "").
		Msg("Starting export")

	cfg, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	// Gather the schema and the extractions to export.
	var sc *models.OutputSchema
	var extractions []*models.Extraction

	if file != "" {
		proj, err := st.GetProject(project)
		if err != nil {
			return handleStoreError(err, log)
		}
		sc, err = st.GetSchema(proj.Schema)
		if err != nil {
			return handleStoreError(err, log)
		}
		ex, err := st.GetExtraction(project, file)
		if err != nil {
			return handleStoreError(err, log)
		}
		extractions = []*models.Extraction{ex}
	} else {
		sc, extractions, err = export.Project(st, project)
		if err != nil {
			return handleStoreError(err, log)
		}
	}

	if len(extractions) == 0 {
		return fmt.Errorf("project %q has no processed files to export. Run: tableocr process %s --all", project, project)
	}

	if sheetURL == "" && cmd.Flags().Changed("sheet-name") {
		sheetURL = cfg.GoogleSheetURL
		if sheetURL == "" {
			return fmt.Errorf("--sheet-name given but no sheet URL: pass --sheet-url or set GOOGLE_SHEET_URL")
		}
	}

	if sheetURL != "" {
		return exportToSheets(sheetURL, sheetName, cfg.GoogleSheetWorksheet, sc, extractions, timeoutSecs)
	}

	var buf bytes.Buffer
	switch format {
	case "csv":
		err = export.WriteCSV(&buf, sc, extractions...)
	case "json":
		err = export.WriteJSON(&buf, sc, extractions...)
	default:
		return fmt.Errorf("unknown format %q: use csv or json", format)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to build export")
		return fmt.Errorf("failed to build export: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, buf.Bytes(), 0644); err != nil {
			log.Error().Err(err).Str("output_file", outputPath).Msg("Failed to write export file")
			return fmt.Errorf("failed to write export file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("files", len(extractions)).
			Int("bytes", buf.Len()).
			Msg("Export written to file")
		fmt.Printf("Exported %d files to %s\n", len(extractions), outputPath)
		return nil
	}

	if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// exportToSheets appends the extractions to a Google Sheets worksheet.
func exportToSheets(sheetURL, sheetName, defaultWorksheet string, sc *models.OutputSchema, extractions []*models.Extraction, timeoutSecs int) error {
	log := logger.WithComponent("export")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	if sheetName == "" {
		sheetName = defaultWorksheet
	}

	svc, err := sheets.NewSheetsService(ctx, sheetURL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Sheets service")
		return fmt.Errorf("failed to create Google Sheets service. Please verify:\n\n"+
			"1. GOOGLE_APPLICATION_CREDENTIALS points to a service account JSON file,\n"+
			"   or GOOGLE_CREDENTIALS holds the inline JSON\n"+
			"2. The spreadsheet is shared with the service account email\n"+
			"3. The URL contains a /spreadsheets/d/<id>/ part\n\n"+
			"Original error: %w", err)
	}

	if err := svc.AppendExtractions(ctx, sheetName, sc, extractions...); err != nil {
		log.Error().Err(err).Str("worksheet", sheetName).Msg("Sheets export failed")
		return fmt.Errorf("sheets export failed: %w", err)
	}

	rows := 0
	for _, ex := range extractions {
		rows += ex.RowCount()
	}
	fmt.Printf("Appended %d rows from %d files to worksheet %q\n", rows, len(extractions), sheetName)
	return nil
}
