package ocr_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tableocr/internal/config"
	"tableocr/internal/ocr"
	"tableocr/pkg/models"
)

// Example demonstrates a one-shot direct extraction.
func Example() {
	// Load .env in your main() before this:
	//
	// if err := godotenv.Load(); err != nil {
	//     log.Printf("Warning: Could not load .env file: %v", err)
	// }

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Create service - the API key comes from OPENAI_API_KEY
	service, err := ocr.NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to create extraction service: %v", err)
	}

	// Declare the table structure the model must return
	registerSchema := &models.OutputSchema{
		Name: "church_register",
		Fields: []models.SchemaField{
			{Name: "Familienname", Type: models.FieldString, Required: true},
			{Name: "Vornamen", Type: models.FieldString, Required: true},
			{Name: "Eintrag_Nr", Type: models.FieldInteger, Required: false},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	extraction, err := service.ExtractPDF(ctx, "register_1870.pdf",
		"Transcribe the text as if you were reading it naturally.",
		registerSchema, ocr.ExtractOptions{})
	if err != nil {
		log.Fatalf("Extraction failed: %v", err)
	}

	fmt.Printf("Extracted %d rows from %d pages (%d tokens)\n",
		extraction.RowCount(), len(extraction.Pages), extraction.Usage.TotalTokens)
}

// Example_errorHandling demonstrates matching the package sentinels.
func Example_errorHandling() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	service, err := ocr.NewService(cfg)
	if err != nil {
		if errors.Is(err, ocr.ErrAPIKeyMissing) {
			log.Fatalf("Please set the OPENAI_API_KEY environment variable")
		}
		log.Fatalf("Failed to create extraction service: %v", err)
	}

	registerSchema := &models.OutputSchema{
		Name:   "minimal",
		Fields: []models.SchemaField{{Name: "Text", Type: models.FieldString, Required: true}},
	}

	extraction, err := service.ExtractPDF(context.Background(), "register_1870.pdf",
		"Transcribe the text as if you were reading it naturally.",
		registerSchema, ocr.ExtractOptions{})
	if err != nil {
		switch {
		case errors.Is(err, ocr.ErrQuotaExceeded):
			log.Printf("Rate limited by the API even after client-side throttling. Try again later.")
			return
		case errors.Is(err, ocr.ErrAPIUnavailable):
			log.Printf("The API is unreachable or failing. Check connectivity and status.")
			return
		case errors.Is(err, ocr.ErrMalformedResponse):
			log.Printf("The model output did not match the schema.")
			return
		default:
			log.Fatalf("Extraction failed: %v", err)
		}
	}

	fmt.Printf("Successfully extracted %d rows\n", extraction.RowCount())
}

// Example_batchFlow demonstrates the asynchronous batch path: submit once,
// poll until done, then fetch and assemble the results.
func Example_batchFlow() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	service, err := ocr.NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to create extraction service: %v", err)
	}

	registerSchema := &models.OutputSchema{
		Name:   "minimal",
		Fields: []models.SchemaField{{Name: "Text", Type: models.FieldString, Required: true}},
	}

	ctx := context.Background()

	// Submit returns immediately; only the job ID needs to survive
	job, err := service.Submit(ctx, "register_1870.pdf",
		"Transcribe the text as if you were reading it naturally.",
		registerSchema, ocr.ExtractOptions{Samples: 3})
	if err != nil {
		log.Fatalf("Batch submission failed: %v", err)
	}
	fmt.Printf("Submitted batch %s with %d pages\n", job.ID, job.Pages)

	// Watch blocks until the job is terminal; Poll is the one-shot variant
	job, err = service.Watch(ctx, job.ID, cfg.PollInterval)
	if err != nil {
		log.Fatalf("Watching batch failed: %v", err)
	}
	if job.Status != models.BatchCompleted {
		log.Fatalf("Batch finished with status %s: %s", job.Status, job.Error)
	}

	out, err := service.Fetch(ctx, job.ID, registerSchema)
	if err != nil {
		log.Fatalf("Fetching batch output failed: %v", err)
	}

	pages, err := ocr.BuildPages(out.Samples, registerSchema)
	if err != nil {
		log.Fatalf("Assembling results failed: %v", err)
	}

	fmt.Printf("Collected %d pages, %d failed lines\n", len(pages), len(out.Failures))
}
