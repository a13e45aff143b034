package ocr

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tableocr/internal/imaging"
	"tableocr/internal/schema"
	"tableocr/pkg/models"
)

// completionWindow is the only window the batch API currently offers.
const completionWindow = "24h"

// Submit builds one request line per page per sample, uploads them and
// creates the remote batch job. When opts.ManifestDir is set, a local
// JSONL copy of the manifest is written there first, so the exact
// submitted requests stay auditable.
func (s *OpenAIService) Submit(ctx context.Context, pdfPath, prompt string, sc *models.OutputSchema, opts ExtractOptions) (*models.BatchJob, error) {
	const op = "Submit"

	pages, err := imaging.Pages(pdfPath, s.imagingOptions(opts))
	if err != nil {
		return nil, err
	}

	format, err := responseFormat(sc)
	if err != nil {
		return nil, err
	}

	samples := opts.samplesOrOne()
	stem := fileStem(pdfPath)

	lines := make([]openai.BatchLineItem, 0, len(pages)*samples)
	for _, page := range pages {
		for i := 1; i <= samples; i++ {
			lines = append(lines, openai.BatchChatCompletionRequest{
				CustomID: BatchCustomID(stem, page.Page, i),
				Body:     s.chatRequest(page, prompt, format),
				Method:   http.MethodPost,
				URL:      openai.BatchEndpointChatCompletions,
			})
		}
	}

	fileName := fmt.Sprintf("%s_batch_%s.jsonl", stem, time.Now().UTC().Format("20060102_150405"))
	if opts.ManifestDir != "" {
		if err := writeManifest(filepath.Join(opts.ManifestDir, fileName), lines); err != nil {
			return nil, WrapOCRError(op, err, "writing local manifest copy")
		}
	}

	resp, err := s.client.CreateBatchWithUploadFile(ctx, openai.CreateBatchWithUploadFileRequest{
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: completionWindow,
		Metadata: map[string]any{
			"description": "table extraction for " + filepath.Base(pdfPath),
		},
		UploadBatchFileRequest: openai.UploadBatchFileRequest{
			FileName: fileName,
			Lines:    lines,
		},
	})
	if err != nil {
		return nil, WrapOCRError(op, mapAPIError(err), "creating batch job")
	}

	job := jobFromBatch(resp.Batch)
	job.File = filepath.Base(pdfPath)
	job.Model = s.cfg.Model
	job.Samples = samples
	job.Pages = len(pages)
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt

	s.log.Info().
		Str("batch_id", job.ID).
		Int("pages", job.Pages).
		Int("samples", samples).
		Int("requests", len(lines)).
		Msg("Batch job submitted")

	return job, nil
}

// Poll reads the current status of a batch job. Remote failure is a
// successful poll carrying the failure message; only transport and auth
// problems are errors.
func (s *OpenAIService) Poll(ctx context.Context, batchID string) (*models.BatchJob, error) {
	const op = "Poll"

	resp, err := s.client.RetrieveBatch(ctx, batchID)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			return nil, NewOCRError(op, fmt.Errorf("%w: %s", ErrJobNotFound, batchID), "")
		}
		return nil, WrapOCRError(op, mapAPIError(err), "retrieving batch status")
	}

	job := jobFromBatch(resp.Batch)

	s.log.Debug().
		Str("batch_id", batchID).
		Str("status", string(job.Status)).
		Int("completed", job.RequestCounts.Completed).
		Int("total", job.RequestCounts.Total).
		Msg("Batch status polled")

	return job, nil
}

// Fetch downloads and parses the output of a completed batch job. Until
// the job has completed and an output file exists it returns (nil, nil).
func (s *OpenAIService) Fetch(ctx context.Context, batchID string, sc *models.OutputSchema) (*BatchOutput, error) {
	const op = "Fetch"

	job, err := s.Poll(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.BatchCompleted || job.OutputFileID == "" {
		return nil, nil
	}

	content, err := s.client.GetFileContent(ctx, job.OutputFileID)
	if err != nil {
		return nil, WrapOCRError(op, mapAPIError(err), "downloading batch output")
	}
	defer content.Close()

	out, err := parseBatchOutput(content, sc)
	if err != nil {
		return nil, WrapOCRError(op, err, "parsing batch output")
	}

	s.log.Info().
		Str("batch_id", batchID).
		Int("pages", len(out.Samples)).
		Int("failed_lines", len(out.Failures)).
		Int("total_tokens", out.Usage.TotalTokens).
		Msg("Batch output fetched")

	return out, nil
}

// Watch polls the job at the given interval until it reaches a terminal
// status or the context is cancelled.
func (s *OpenAIService) Watch(ctx context.Context, batchID string, interval time.Duration) (*models.BatchJob, error) {
	if interval <= 0 {
		interval = time.Minute
	}

	log := s.log.With().Str("batch_id", batchID).Logger()

	for {
		job, err := s.Poll(ctx, batchID)
		if err != nil {
			return nil, err
		}

		if job.Status.Terminal() {
			log.Info().Str("status", string(job.Status)).Msg("Batch job finished")
			return job, nil
		}

		log.Info().
			Str("status", string(job.Status)).
			Int("completed", job.RequestCounts.Completed).
			Int("total", job.RequestCounts.Total).
			Msg("Batch job still running")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// batchOutputLine is one line of the batch output JSONL file. The batch
// API has no typed output in the client library, so the shape is declared
// here.
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                           `json:"status_code"`
		Body       openai.ChatCompletionResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseBatchOutput reads the output JSONL stream. Bad lines land in
// Failures keyed by custom ID instead of aborting the whole parse; the
// stream itself failing is an error.
func parseBatchOutput(r io.Reader, sc *models.OutputSchema) (*BatchOutput, error) {
	out := &BatchOutput{
		Samples:  make(map[int][][]models.TableRow),
		Failures: make(map[string]string),
	}

	type sampleKey struct{ page, sample int }
	rowsByKey := make(map[sampleKey][]models.TableRow)

	// Output lines carry whole model responses; the default scanner cap
	// of 64KB is too small for them.
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var parsed batchOutputLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			out.Failures[fmt.Sprintf("line %d", lineNo)] = err.Error()
			continue
		}

		id := parsed.CustomID
		if id == "" {
			id = fmt.Sprintf("line %d", lineNo)
		}

		switch {
		case parsed.Error != nil:
			out.Failures[id] = parsed.Error.Message
			continue
		case parsed.Response == nil:
			out.Failures[id] = "line carries neither response nor error"
			continue
		case parsed.Response.StatusCode != http.StatusOK:
			out.Failures[id] = fmt.Sprintf("request returned status %d", parsed.Response.StatusCode)
			continue
		}

		out.Usage.Add(models.TokenUsage{
			PromptTokens:     parsed.Response.Body.Usage.PromptTokens,
			CompletionTokens: parsed.Response.Body.Usage.CompletionTokens,
			TotalTokens:      parsed.Response.Body.Usage.TotalTokens,
		})

		if len(parsed.Response.Body.Choices) == 0 {
			out.Failures[id] = ErrEmptyResponse.Error()
			continue
		}

		_, page, sample, err := ParseBatchCustomID(id)
		if err != nil {
			out.Failures[id] = err.Error()
			continue
		}

		content := schema.CleanModelOutput(parsed.Response.Body.Choices[0].Message.Content)
		rows, err := schema.ParseTable([]byte(content), sc)
		if err != nil {
			out.Failures[id] = err.Error()
			continue
		}

		rowsByKey[sampleKey{page, sample}] = rows
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch output: %w", err)
	}

	sampleIdxs := make(map[int][]int)
	for k := range rowsByKey {
		sampleIdxs[k.page] = append(sampleIdxs[k.page], k.sample)
	}
	for page, idxs := range sampleIdxs {
		sort.Ints(idxs)
		sets := make([][]models.TableRow, 0, len(idxs))
		for _, idx := range idxs {
			sets = append(sets, rowsByKey[sampleKey{page, idx}])
		}
		out.Samples[page] = sets
	}

	return out, nil
}

// BatchCustomID encodes the origin of one batch request line. Collection
// parses it back to place results.
func BatchCustomID(stem string, page, sample int) string {
	return fmt.Sprintf("%s_page_%d_sample_%d", stem, page, sample)
}

var customIDRE = regexp.MustCompile(`^(.+)_page_(\d+)_sample_(\d+)$`)

// ParseBatchCustomID recovers the file stem, page and sample index from a
// custom ID built by BatchCustomID.
func ParseBatchCustomID(id string) (stem string, page, sample int, err error) {
	m := customIDRE.FindStringSubmatch(id)
	if m == nil {
		return "", 0, 0, fmt.Errorf("custom id %q does not match <stem>_page_<n>_sample_<m>", id)
	}

	page, _ = strconv.Atoi(m[2])
	sample, _ = strconv.Atoi(m[3])
	return m[1], page, sample, nil
}

// fileStem strips the directory and extension from a path.
func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// writeManifest stores the request lines as JSONL, one line per request,
// byte-identical to what the upload sends.
func writeManifest(path string, lines []openai.BatchLineItem) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line.MarshalBatchLineItem())
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// jobFromBatch converts the remote batch object into the persisted handle.
func jobFromBatch(b openai.Batch) *models.BatchJob {
	job := &models.BatchJob{
		ID:     b.ID,
		Status: batchStatus(b.Status),
		RequestCounts: models.BatchRequestCounts{
			Total:     b.RequestCounts.Total,
			Completed: b.RequestCounts.Completed,
			Failed:    b.RequestCounts.Failed,
		},
		UpdatedAt: time.Now(),
	}

	if b.OutputFileID != nil {
		job.OutputFileID = *b.OutputFileID
	}

	// The errors object is loosely typed; its JSON rendering is kept
	// whole as the failure message.
	if b.Errors != nil {
		if data, err := json.Marshal(b.Errors); err == nil {
			job.Error = string(data)
		}
	}

	return job
}

// batchStatus maps the remote status string onto the model's enum.
func batchStatus(remote string) models.BatchStatus {
	switch remote {
	case "validating":
		return models.BatchValidating
	case "in_progress":
		return models.BatchInProgress
	case "finalizing":
		return models.BatchFinalizing
	case "completed":
		return models.BatchCompleted
	case "failed":
		return models.BatchFailed
	case "expired":
		return models.BatchExpired
	case "cancelling":
		return models.BatchCancelling
	case "cancelled":
		return models.BatchCancelled
	}
	return models.BatchUnknown
}
