// Package ocr extracts structured tables from scanned documents using the
// OpenAI chat completions API.
//
// Two execution paths share the same request shape. The direct path
// (Service) sends one vision request per page and sample and returns the
// assembled extraction synchronously. The batch path (BatchService)
// uploads the identical requests as an OpenAI batch job, which completes
// within 24 hours at reduced per-token cost, and collects the results once
// the job finishes. A batch job survives process restarts: its ID alone is
// enough to poll and fetch later.
//
// Required Environment Variables:
//   - OPENAI_API_KEY: API key used to authenticate requests
//
// Optional Environment Variables:
//   - OPENAI_BASE_URL: alternative endpoint for proxies or compatible gateways
//   - OPENAI_MODEL: model name (default: gpt-4o-mini)
//   - OPENAI_RPM: client-side request cap per minute (default: 15)
//
// API Limitations:
//   - Page images travel inline as base64 data URIs, so request size grows
//     with scan resolution.
//   - Direct requests are throttled client-side to OPENAI_RPM requests per
//     minute. Batch jobs are scheduled by the API and not throttled here.
package ocr

import (
	"context"
	"time"

	"tableocr/internal/imaging"
	"tableocr/pkg/models"
)

// Service defines the interface for synchronous table extraction.
type Service interface {
	// ExtractPDF prepares page images from a PDF file and extracts one
	// table per page. The returned extraction carries File, Schema, Model,
	// Mode, Pages and Usage; project and prompt bookkeeping is the caller's.
	ExtractPDF(ctx context.Context, pdfPath, prompt string, schema *models.OutputSchema, opts ExtractOptions) (*models.Extraction, error)

	// ExtractPages extracts tables from already prepared page images.
	ExtractPages(ctx context.Context, pages []imaging.PageImage, prompt string, schema *models.OutputSchema, samples int) (*models.Extraction, error)

	// ExtractImage extracts a table from a single image file (JPEG, PNG
	// or TIFF) without any PDF handling.
	ExtractImage(ctx context.Context, imagePath, prompt string, schema *models.OutputSchema, opts ExtractOptions) (*models.Extraction, error)
}

// BatchService defines the interface for asynchronous batch extraction.
type BatchService interface {
	// Submit uploads one request per page per sample as a batch job.
	// It returns as soon as the job is created; no polling happens here.
	Submit(ctx context.Context, pdfPath, prompt string, schema *models.OutputSchema, opts ExtractOptions) (*models.BatchJob, error)

	// Poll reads the current job status once. It is idempotent and safe
	// to repeat at any cadence. A job that failed remotely is a
	// successful poll carrying the failure message; only transport and
	// auth problems are returned as errors.
	Poll(ctx context.Context, batchID string) (*models.BatchJob, error)

	// Fetch downloads and parses the job output. Before the job has
	// completed it returns (nil, nil).
	Fetch(ctx context.Context, batchID string, schema *models.OutputSchema) (*BatchOutput, error)

	// Watch polls at the given interval until the job reaches a terminal
	// status or the context is cancelled.
	Watch(ctx context.Context, batchID string, interval time.Duration) (*models.BatchJob, error)
}

// ExtractOptions controls page preparation and sampling for one extraction.
type ExtractOptions struct {
	// Samples is the number of model calls per page. Three or more enable
	// majority voting across samples; zero means one.
	Samples int

	// StartPage and MaxPages narrow the page range (1-based; zero means
	// from the start / all pages).
	StartPage int
	MaxPages  int

	// DPI, CropSides and Grayscale flow through to image preparation.
	// Zero values fall back to the configured defaults.
	DPI       int
	CropSides int
	Grayscale bool

	// ManifestDir, when set, receives a local JSONL copy of each
	// submitted batch manifest for audit. Only the batch path reads it.
	ManifestDir string
}

// samplesOrOne normalizes the sample count for loop bounds.
func (o ExtractOptions) samplesOrOne() int {
	if o.Samples < 1 {
		return 1
	}
	return o.Samples
}

// BatchOutput holds the parsed results of a completed batch job.
type BatchOutput struct {
	// Samples maps each page number to its row sets, ordered by sample
	// index as encoded in the request custom IDs.
	Samples map[int][][]models.TableRow

	// Failures maps the custom ID of every line that could not be parsed
	// to the reason. A fetch with failures still returns the good lines.
	Failures map[string]string

	// Usage sums token usage across all result lines.
	Usage models.TokenUsage
}
