// Package server exposes the project store and the processor over HTTP.
//
// Endpoints speak JSON in both directions; failures come back as
// {"error": "..."} with a status code derived from the error family.
// Liveness, readiness and Prometheus metrics run on the same listener.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tableocr/internal/config"
	"tableocr/internal/logger"
	"tableocr/internal/ocr"
	"tableocr/internal/processor"
	"tableocr/internal/schema"
	"tableocr/internal/store"
	"tableocr/pkg/models"
)

// Handler implements the API endpoints.
type Handler struct {
	store          *store.Store
	proc           *processor.Processor
	cfg            *config.Config
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewHandler creates the endpoint handler.
func NewHandler(st *store.Store, proc *processor.Processor, cfg *config.Config) *Handler {
	return &Handler{
		store:          st,
		proc:           proc,
		cfg:            cfg,
		maxUploadBytes: 50 << 20,
		log:            logger.WithComponent("server"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeError maps an error to a status code by its family: missing
// records to 404, constraint violations to 409, validation failures to
// 422 and upstream OCR trouble to 502. Anything unrecognized is a 500
// and gets logged.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var schemaErr *schema.SchemaError
	var ocrErr *ocr.OCRError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ocr.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrPromptInUse),
		errors.Is(err, store.ErrSchemaInUse):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalidName):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &schemaErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &ocrErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("request_id", RequestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz reports readiness. The store must be readable.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := h.store.ListPrompts(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// ---- Prompts ----

func (h *Handler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.store.ListPrompts()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (h *Handler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	p := &models.Prompt{Name: body.Name, Text: body.Text}
	if err := h.store.SavePrompt(p); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPrompt(w http.ResponseWriter, r *http.Request, name string) {
	p, err := h.store.GetPrompt(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeletePrompt(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.store.DeletePrompt(name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Schemas ----

func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.store.ListSchemas()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas)
}

func (h *Handler) CreateSchema(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		Fields []struct {
			Name     string `json:"name"`
			Type     string `json:"type"`
			Required bool   `json:"required"`
		} `json:"fields"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	sc := &models.OutputSchema{Name: body.Name}
	for _, f := range body.Fields {
		sc.Fields = append(sc.Fields, models.SchemaField{
			Name:     f.Name,
			Type:     models.FieldType(f.Type),
			Required: f.Required,
		})
	}
	if err := schema.Check(sc); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.SaveSchema(sc); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request, name string) {
	sc, err := h.store.GetSchema(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *Handler) DeleteSchema(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.store.DeleteSchema(name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Projects ----

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string `json:"name"`
		Prompt string `json:"prompt"`
		Schema string `json:"schema"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	p, err := h.store.CreateProject(body.Name, body.Prompt, body.Schema)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request, name string) {
	p, err := h.store.GetProject(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.store.DeleteProject(name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Files ----

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request, project string) {
	files, err := h.store.ListFiles(project)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// UploadFile accepts one PDF as multipart form field "file".
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request, project string) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		maxMB := h.maxUploadBytes / (1 << 20)
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: fmt.Sprintf("file too large (max %dMB) or invalid form", maxMB)})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `multipart field "file" is required`})
		return
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "only PDF files are accepted"})
		return
	}

	entry, err := h.store.AddFileReader(project, header.Filename, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) RemoveFile(w http.ResponseWriter, r *http.Request, project, file string) {
	if err := h.store.RemoveFile(project, file); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Processing ----

// ProcessFile runs one file through extraction. Mode "direct" (the
// default) blocks until the extraction is stored and returns a summary;
// mode "batch" submits a batch job and returns it with 202.
func (h *Handler) ProcessFile(w http.ResponseWriter, r *http.Request, project, file string) {
	var body struct {
		Mode    string `json:"mode"`
		Samples int    `json:"samples"`
	}
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if body.Samples < 0 || body.Samples == 2 {
		writeJSON(w, http.StatusUnprocessableEntity,
			errorResponse{Error: "samples must be 1 or at least 3"})
		return
	}

	opts := ocr.ExtractOptions{Samples: h.cfg.Samples}
	if body.Samples > 0 {
		opts.Samples = body.Samples
	}

	switch body.Mode {
	case "", "direct":
		start := time.Now()
		ex, err := h.proc.ProcessFile(r.Context(), project, file, opts)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		extractionDuration.Observe(time.Since(start).Seconds())

		writeJSON(w, http.StatusOK, struct {
			File        string    `json:"file"`
			Mode        string    `json:"mode"`
			Pages       int       `json:"pages"`
			Rows        int       `json:"rows"`
			TotalTokens int       `json:"total_tokens"`
			ExtractedAt time.Time `json:"extracted_at"`
		}{
			File:        ex.File,
			Mode:        ex.Mode,
			Pages:       len(ex.Pages),
			Rows:        ex.RowCount(),
			TotalTokens: ex.Usage.TotalTokens,
			ExtractedAt: ex.ExtractedAt,
		})
	case "batch":
		job, err := h.proc.SubmitFile(r.Context(), project, file, opts)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	default:
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: fmt.Sprintf("unknown mode %q", body.Mode)})
	}
}

// GetResult returns the stored extraction of a processed file.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request, project, file string) {
	ex, err := h.store.GetExtraction(project, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// ---- Batch jobs ----

// ListJobs returns the project's batch jobs. With ?refresh=true every
// non-terminal job is polled first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request, project string) {
	if r.URL.Query().Get("refresh") == "true" {
		jobs, err := h.proc.Refresh(r.Context(), project)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
		return
	}

	jobs, err := h.store.ListBatchJobs(project)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// RefreshJob polls one job and returns its stored state.
func (h *Handler) RefreshJob(w http.ResponseWriter, r *http.Request, project, id string) {
	job, err := h.proc.RefreshJob(r.Context(), project, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CollectJob finalizes a batch job. A job still in flight comes back
// as 202 with its current status and no extraction.
func (h *Handler) CollectJob(w http.ResponseWriter, r *http.Request, project, id string) {
	ex, job, err := h.proc.Collect(r.Context(), project, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := struct {
		Job        *models.BatchJob   `json:"job"`
		Extraction *models.Extraction `json:"extraction,omitempty"`
	}{Job: job, Extraction: ex}

	if ex == nil && !job.Status.Terminal() {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
