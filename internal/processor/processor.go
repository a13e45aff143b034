// Package processor drives project files through extraction and keeps the
// store in sync with the outcome.
//
// Direct processing runs synchronously against the chat completions API.
// Batch processing splits into submit, refresh and collect phases so a job
// can be resumed after a process restart. The processor owns the file
// status lifecycle: unprocessed → processing → done or failed. Every state
// change is persisted before control returns to the caller.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tableocr/internal/config"
	"tableocr/internal/logger"
	"tableocr/internal/ocr"
	"tableocr/internal/store"
	"tableocr/pkg/models"
)

// Processor coordinates the store and the extraction services.
type Processor struct {
	store *store.Store
	ocr   ocr.Service
	batch ocr.BatchService
	cfg   *config.Config
	log   zerolog.Logger
}

// New creates a processor on top of an opened store and the extraction
// services.
func New(st *store.Store, svc ocr.Service, batch ocr.BatchService, cfg *config.Config) *Processor {
	return &Processor{
		store: st,
		ocr:   svc,
		batch: batch,
		cfg:   cfg,
		log:   logger.WithComponent("processor"),
	}
}

// ProcessFile extracts one project file in direct mode and stores the
// result. The file moves to processing first; an extraction failure
// records the failed status with the error message before returning.
func (p *Processor) ProcessFile(ctx context.Context, project, file string, opts ocr.ExtractOptions) (*models.Extraction, error) {
	const op = "ProcessFile"

	proj, prompt, sc, err := p.resolve(op, project)
	if err != nil {
		return nil, err
	}
	path, err := p.store.FilePath(project, file)
	if err != nil {
		return nil, WrapProcessorError(op, err, "")
	}

	if err := p.store.SetFileStatus(project, file, models.StatusProcessing, ""); err != nil {
		return nil, WrapProcessorError(op, err, "")
	}

	start := time.Now()
	ex, err := p.ocr.ExtractPDF(ctx, path, prompt.Text, sc, opts)
	if err != nil {
		p.markFailed(project, file, err.Error())
		return nil, WrapProcessorError(op, err, file)
	}

	ex.Prompt = proj.Prompt
	if err := p.store.SaveExtraction(project, ex); err != nil {
		p.markFailed(project, file, err.Error())
		return nil, WrapProcessorError(op, err, file)
	}

	p.log.Info().
		Str("project", project).
		Str("file", file).
		Int("pages", len(ex.Pages)).
		Int("rows", ex.RowCount()).
		Int("tokens", ex.Usage.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("File processed")

	return ex, nil
}

// SubmitFile sends one project file into the batch queue and persists the
// job handle. The file is marked processing; results arrive later through
// Collect or Watch.
func (p *Processor) SubmitFile(ctx context.Context, project, file string, opts ocr.ExtractOptions) (*models.BatchJob, error) {
	const op = "SubmitFile"

	_, prompt, sc, err := p.resolve(op, project)
	if err != nil {
		return nil, err
	}
	path, err := p.store.FilePath(project, file)
	if err != nil {
		return nil, WrapProcessorError(op, err, "")
	}

	// Manifests of submitted requests live next to the project's results.
	opts.ManifestDir = p.store.BatchDir(project)

	job, err := p.batch.Submit(ctx, path, prompt.Text, sc, opts)
	if err != nil {
		p.markFailed(project, file, err.Error())
		return nil, WrapProcessorError(op, err, file)
	}

	if err := p.store.SaveBatchJob(project, job); err != nil {
		return nil, WrapProcessorError(op, err, job.ID)
	}
	if err := p.store.SetFileStatus(project, file, models.StatusProcessing, ""); err != nil {
		return nil, WrapProcessorError(op, err, "")
	}

	p.log.Info().
		Str("project", project).
		Str("file", file).
		Str("batch_id", job.ID).
		Int("pages", job.Pages).
		Int("samples", job.Samples).
		Msg("File submitted as batch job")

	return job, nil
}

// Refresh polls every known job of the project once and persists status
// changes. Poll failures for individual jobs are logged and skipped so one
// unreachable job does not block the rest.
func (p *Processor) Refresh(ctx context.Context, project string) ([]models.BatchJob, error) {
	const op = "Refresh"

	jobs, err := p.store.ListBatchJobs(project)
	if err != nil {
		return nil, WrapProcessorError(op, err, "")
	}

	for i := range jobs {
		if jobs[i].Status.Terminal() {
			continue
		}

		remote, err := p.batch.Poll(ctx, jobs[i].ID)
		if err != nil {
			p.log.Warn().
				Err(err).
				Str("batch_id", jobs[i].ID).
				Msg("Poll failed, keeping stored status")
			continue
		}
		if remote.Status == jobs[i].Status && remote.RequestCounts == jobs[i].RequestCounts {
			continue
		}

		mergeRemote(&jobs[i], remote)
		if err := p.store.SaveBatchJob(project, &jobs[i]); err != nil {
			return nil, WrapProcessorError(op, err, jobs[i].ID)
		}

		p.log.Info().
			Str("batch_id", jobs[i].ID).
			Str("status", string(jobs[i].Status)).
			Int("completed", jobs[i].RequestCounts.Completed).
			Int("total", jobs[i].RequestCounts.Total).
			Msg("Job status changed")
	}

	return jobs, nil
}

// RefreshJob polls a single job and persists any change. Terminal jobs
// are returned as stored without a remote call.
func (p *Processor) RefreshJob(ctx context.Context, project, batchID string) (*models.BatchJob, error) {
	const op = "RefreshJob"

	job, err := p.store.GetBatchJob(project, batchID)
	if err != nil {
		return nil, WrapProcessorError(op, err, "")
	}
	if job.Status.Terminal() {
		return job, nil
	}

	remote, err := p.batch.Poll(ctx, batchID)
	if err != nil {
		return nil, WrapProcessorError(op, err, batchID)
	}
	mergeRemote(job, remote)
	if err := p.store.SaveBatchJob(project, job); err != nil {
		return nil, WrapProcessorError(op, err, batchID)
	}
	return job, nil
}

// Collect finalizes a batch job. A completed job is fetched, voted and
// saved as the file's extraction; a failed, expired or cancelled job marks
// the file failed with the remote message. A job still in flight changes
// nothing. Callers inspect the returned job's status; only transport and
// store problems are errors.
func (p *Processor) Collect(ctx context.Context, project, batchID string) (*models.Extraction, *models.BatchJob, error) {
	const op = "Collect"

	job, err := p.store.GetBatchJob(project, batchID)
	if err != nil {
		return nil, nil, WrapProcessorError(op, err, "")
	}

	// A terminal status on record is trusted; it never changes remotely.
	if !job.Status.Terminal() {
		remote, err := p.batch.Poll(ctx, batchID)
		if err != nil {
			return nil, nil, WrapProcessorError(op, err, batchID)
		}
		mergeRemote(job, remote)
		if err := p.store.SaveBatchJob(project, job); err != nil {
			return nil, nil, WrapProcessorError(op, err, batchID)
		}
	}

	switch {
	case job.Status == models.BatchCompleted:
		ex, err := p.collectCompleted(ctx, project, job)
		if err != nil {
			return nil, job, err
		}
		return ex, job, nil
	case job.Status.Terminal():
		msg := job.Error
		if msg == "" {
			msg = fmt.Sprintf("batch %s", job.Status)
		}
		p.markFailed(project, job.File, msg)
		p.log.Warn().
			Str("project", project).
			Str("batch_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Batch job did not complete")
		return nil, job, nil
	default:
		return nil, job, nil
	}
}

// Watch blocks until the job reaches a terminal status, then collects it.
// The returned extraction is nil when the job did not complete.
func (p *Processor) Watch(ctx context.Context, project, batchID string, interval time.Duration) (*models.Extraction, *models.BatchJob, error) {
	const op = "Watch"

	job, err := p.store.GetBatchJob(project, batchID)
	if err != nil {
		return nil, nil, WrapProcessorError(op, err, "")
	}

	final, err := p.batch.Watch(ctx, batchID, interval)
	if err != nil {
		return nil, nil, WrapProcessorError(op, err, batchID)
	}

	mergeRemote(job, final)
	if err := p.store.SaveBatchJob(project, job); err != nil {
		return nil, nil, WrapProcessorError(op, err, batchID)
	}

	return p.Collect(ctx, project, batchID)
}

// Summary aggregates one project-wide processing run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []FileResult
	Usage     models.TokenUsage
	Elapsed   time.Duration
}

// FileResult is the outcome for a single file within a run.
type FileResult struct {
	File  string
	Pages int
	Rows  int
	Usage models.TokenUsage
	Err   error
}

// ProcessAll runs direct extraction over every pending file of the project
// using a worker pool. Pending means unprocessed or failed; files already
// done or with a batch job in flight are skipped. Failures do not stop the
// run, each file's outcome lands in the summary.
func (p *Processor) ProcessAll(ctx context.Context, project string, opts ocr.ExtractOptions) (*Summary, error) {
	const op = "ProcessAll"

	files, err := p.store.ListFiles(project)
	if err != nil {
		return nil, WrapProcessorError(op, err, "")
	}

	var pending []string
	for _, f := range files {
		if f.Status == models.StatusUnprocessed || f.Status == models.StatusFailed {
			pending = append(pending, f.Name)
		}
	}

	summary := &Summary{Total: len(pending), Results: make([]FileResult, len(pending))}
	if len(pending) == 0 {
		p.log.Info().Str("project", project).Msg("No pending files to process")
		return summary, nil
	}

	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	start := time.Now()
	p.log.Info().
		Str("project", project).
		Int("files", len(pending)).
		Int("workers", workers).
		Msg("Processing project")

	jobs := make(chan int, len(pending))

	var done int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			for idx := range jobs {
				name := pending[idx]
				p.log.Debug().
					Int("worker", worker).
					Str("file", name).
					Msg("Worker picked file")

				ex, err := p.ProcessFile(ctx, project, name, opts)

				result := FileResult{File: name, Err: err}
				if err == nil {
					result.Pages = len(ex.Pages)
					result.Rows = ex.RowCount()
					result.Usage = ex.Usage
				}
				summary.Results[idx] = result

				mu.Lock()
				done++
				current := done
				mu.Unlock()

				if err != nil {
					p.log.Error().
						Err(err).
						Str("project", project).
						Str("file", name).
						Int("done", current).
						Int("total", len(pending)).
						Msg("File failed")
				} else {
					p.log.Info().
						Str("project", project).
						Str("file", name).
						Int("rows", result.Rows).
						Int("done", current).
						Int("total", len(pending)).
						Msg("Progress")
				}
			}
		}(w)
	}

	for i := range pending {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, r := range summary.Results {
		if r.Err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		summary.Usage.Add(r.Usage)
	}
	summary.Elapsed = time.Since(start)

	p.log.Info().
		Str("project", project).
		Int("total", summary.Total).
		Int("success", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("tokens", summary.Usage.TotalTokens).
		Dur("duration", summary.Elapsed).
		Msg("Project processing completed")

	return summary, nil
}

// collectCompleted downloads a completed job's output and turns it into
// the file's stored extraction.
func (p *Processor) collectCompleted(ctx context.Context, project string, job *models.BatchJob) (*models.Extraction, error) {
	const op = "Collect"

	proj, err := p.store.GetProject(project)
	if err != nil {
		return nil, WrapProcessorError(op, err, "")
	}
	sc, err := p.store.GetSchema(proj.Schema)
	if err != nil {
		return nil, WrapProcessorError(op, err, fmt.Sprintf("schema %q", proj.Schema))
	}

	out, err := p.batch.Fetch(ctx, job.ID, sc)
	if err != nil {
		return nil, WrapProcessorError(op, err, job.ID)
	}
	if out == nil {
		return nil, NewProcessorError(op, ocr.ErrJobNotFinished, job.ID)
	}

	if len(out.Samples) == 0 {
		details := fmt.Sprintf("batch %s produced no usable results, %d failed requests", job.ID, len(out.Failures))
		p.markFailed(project, job.File, details)
		return nil, NewProcessorError(op, ocr.ErrJobFailed, details)
	}
	if len(out.Failures) > 0 {
		p.log.Warn().
			Str("batch_id", job.ID).
			Int("failed_requests", len(out.Failures)).
			Msg("Batch completed with failed requests, result is partial")
	}

	pages, err := ocr.BuildPages(out.Samples, sc)
	if err != nil {
		p.markFailed(project, job.File, err.Error())
		return nil, WrapProcessorError(op, err, job.ID)
	}

	ex := &models.Extraction{
		File:        job.File,
		Prompt:      proj.Prompt,
		Schema:      proj.Schema,
		Model:       job.Model,
		Mode:        models.ModeBatch,
		BatchID:     job.ID,
		Pages:       pages,
		Usage:       out.Usage,
		ExtractedAt: time.Now(),
	}
	if err := p.store.SaveExtraction(project, ex); err != nil {
		p.markFailed(project, job.File, err.Error())
		return nil, WrapProcessorError(op, err, job.File)
	}

	p.log.Info().
		Str("project", project).
		Str("file", job.File).
		Str("batch_id", job.ID).
		Int("pages", len(ex.Pages)).
		Int("rows", ex.RowCount()).
		Msg("Batch job collected")

	return ex, nil
}

// resolve loads the project and its prompt and schema referents.
func (p *Processor) resolve(op, project string) (*models.Project, *models.Prompt, *models.OutputSchema, error) {
	proj, err := p.store.GetProject(project)
	if err != nil {
		return nil, nil, nil, WrapProcessorError(op, err, "")
	}
	prompt, err := p.store.GetPrompt(proj.Prompt)
	if err != nil {
		return nil, nil, nil, WrapProcessorError(op, err, fmt.Sprintf("prompt %q", proj.Prompt))
	}
	sc, err := p.store.GetSchema(proj.Schema)
	if err != nil {
		return nil, nil, nil, WrapProcessorError(op, err, fmt.Sprintf("schema %q", proj.Schema))
	}
	return proj, prompt, sc, nil
}

// markFailed records a failure on the file entry. Status write problems
// are logged, not returned; the original failure wins.
func (p *Processor) markFailed(project, file, msg string) {
	if err := p.store.SetFileStatus(project, file, models.StatusFailed, msg); err != nil {
		p.log.Warn().
			Err(err).
			Str("project", project).
			Str("file", file).
			Msg("Could not record failure status")
	}
}

// mergeRemote folds freshly polled fields into the stored job record.
// Local bookkeeping (file, model, sample count) is not on the remote
// object and must survive the merge.
func mergeRemote(stored, remote *models.BatchJob) {
	stored.Status = remote.Status
	stored.RequestCounts = remote.RequestCounts
	stored.OutputFileID = remote.OutputFileID
	stored.Error = remote.Error
	stored.UpdatedAt = remote.UpdatedAt
}
