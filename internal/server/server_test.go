package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tableocr/internal/config"
	"tableocr/internal/imaging"
	"tableocr/internal/ocr"
	"tableocr/internal/processor"
	"tableocr/internal/store"
	"tableocr/pkg/models"
)

// fakeOCR implements ocr.Service with canned pages.
type fakeOCR struct {
	pages []models.PageResult
	usage models.TokenUsage
	err   error
}

func (f *fakeOCR) ExtractPDF(_ context.Context, pdfPath, _ string, _ *models.OutputSchema, _ ocr.ExtractOptions) (*models.Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Extraction{
		File:        filepath.Base(pdfPath),
		Model:       "gpt-4o-mini",
		Mode:        models.ModeDirect,
		Pages:       f.pages,
		Usage:       f.usage,
		ExtractedAt: time.Now(),
	}, nil
}

func (f *fakeOCR) ExtractPages(context.Context, []imaging.PageImage, string, *models.OutputSchema, int) (*models.Extraction, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeOCR) ExtractImage(context.Context, string, string, *models.OutputSchema, ocr.ExtractOptions) (*models.Extraction, error) {
	return nil, errors.New("not scripted")
}

// fakeBatch implements ocr.BatchService with a scripted remote status.
type fakeBatch struct {
	status models.BatchStatus
	output *ocr.BatchOutput
	polls  int
}

func (f *fakeBatch) Submit(_ context.Context, pdfPath, _ string, _ *models.OutputSchema, _ ocr.ExtractOptions) (*models.BatchJob, error) {
	now := time.Now()
	return &models.BatchJob{
		ID:        "batch_srv1",
		File:      filepath.Base(pdfPath),
		Model:     "gpt-4o-mini",
		Samples:   1,
		Pages:     2,
		Status:    models.BatchValidating,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (f *fakeBatch) Poll(_ context.Context, batchID string) (*models.BatchJob, error) {
	f.polls++
	return &models.BatchJob{
		ID:        batchID,
		Status:    f.status,
		UpdatedAt: time.Now(),
	}, nil
}

func (f *fakeBatch) Fetch(context.Context, string, *models.OutputSchema) (*ocr.BatchOutput, error) {
	return f.output, nil
}

func (f *fakeBatch) Watch(_ context.Context, batchID string, _ time.Duration) (*models.BatchJob, error) {
	return &models.BatchJob{ID: batchID, Status: f.status, UpdatedAt: time.Now()}, nil
}

func samplePages() []models.PageResult {
	return []models.PageResult{
		{Page: 1, Rows: []models.TableRow{
			{"Familienname": "Huber", "Eintrag_Nr": int64(1)},
			{"Familienname": "Maier", "Eintrag_Nr": int64(2)},
		}, Samples: 1},
		{Page: 2, Rows: []models.TableRow{
			{"Familienname": "Schmid", "Eintrag_Nr": int64(3)},
		}, Samples: 1},
	}
}

func newTestRouter(t *testing.T) (*http.ServeMux, *store.Store, *fakeOCR, *fakeBatch) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}

	svc := &fakeOCR{pages: samplePages(), usage: models.TokenUsage{PromptTokens: 80, CompletionTokens: 20, TotalTokens: 100}}
	batch := &fakeBatch{status: models.BatchInProgress}
	cfg := &config.Config{Workers: 2, Samples: 1}

	proc := processor.New(st, svc, batch, cfg)
	return NewRouter(NewHandler(st, proc, cfg)), st, svc, batch
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func uploadPDF(t *testing.T, mux *http.ServeMux, project, name string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("%PDF-1.4 test content")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func createProject(t *testing.T, mux *http.ServeMux, name string) {
	t.Helper()

	rec := doRequest(t, mux, http.MethodPost, "/api/projects", map[string]string{
		"name":   name,
		"prompt": "basic",
		"schema": "name_register_standard",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)

	rec := doRequest(t, mux, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz: status %d, body %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ready" {
		t.Errorf("readyz: status %d, body %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics: status %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}

func TestRequestIDHeader(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)
	handler := RequestID(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-7")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "caller-7" {
		t.Errorf("inbound request id not kept: got %q", got)
	}
}

func TestPromptLifecycle(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/prompts", map[string]string{
		"name": "census",
		"text": "Transcribe every row of the census table.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/prompts/census", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var p models.Prompt
	decodeInto(t, rec, &p)
	if p.Name != "census" || p.Text == "" {
		t.Errorf("unexpected prompt: %+v", p)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/prompts", nil)
	var prompts []models.Prompt
	decodeInto(t, rec, &prompts)
	if len(prompts) != 4 {
		t.Errorf("expected 3 seeded prompts plus census, got %d", len(prompts))
	}

	rec = doRequest(t, mux, http.MethodDelete, "/api/prompts/census", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/prompts/census", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d", rec.Code)
	}
}

func TestCreatePromptRejectsBadInput(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/prompts", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/prompts", map[string]string{
		"name": "has space",
		"text": "whatever",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid name: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSchemaLifecycle(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)

	body := map[string]any{
		"name": "census_1880",
		"fields": []map[string]any{
			{"name": "Name", "type": "string", "required": true},
			{"name": "Alter", "type": "integer", "required": false},
		},
	}
	rec := doRequest(t, mux, http.MethodPost, "/api/schemas", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/schemas/census_1880", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var sc models.OutputSchema
	decodeInto(t, rec, &sc)
	if len(sc.Fields) != 2 || sc.Fields[0].Name != "Name" {
		t.Errorf("unexpected schema: %+v", sc)
	}

	rec = doRequest(t, mux, http.MethodDelete, "/api/schemas/census_1880", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}
}

func TestCreateSchemaRejectsBadDeclaration(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/schemas", map[string]any{
		"name":   "empty",
		"fields": []map[string]any{},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("no fields: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/schemas", map[string]any{
		"name": "bad_type",
		"fields": []map[string]any{
			{"name": "x", "type": "decimal", "required": true},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad field type: status %d", rec.Code)
	}
}

func TestDeleteReferencedSchemaConflicts(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")

	rec := doRequest(t, mux, http.MethodDelete, "/api/schemas/name_register_standard", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for referenced schema, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodDelete, "/api/prompts/basic", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for referenced prompt, got %d", rec.Code)
	}
}

func TestProjectLifecycle(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")

	rec := doRequest(t, mux, http.MethodGet, "/api/projects/reg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var p models.Project
	decodeInto(t, rec, &p)
	if p.Prompt != "basic" || p.Schema != "name_register_standard" {
		t.Errorf("unexpected project: %+v", p)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/projects", map[string]string{
		"name": "reg", "prompt": "basic", "schema": "name_register_standard",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/projects", map[string]string{
		"name": "other", "prompt": "ghost", "schema": "name_register_standard",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing prompt referent: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodDelete, "/api/projects/reg", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}
	rec = doRequest(t, mux, http.MethodGet, "/api/projects/reg", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d", rec.Code)
	}
}

func TestUploadFile(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")

	rec := uploadPDF(t, mux, "reg", "band_1.pdf")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: status %d, body %s", rec.Code, rec.Body.String())
	}
	var entry models.ProjectFile
	decodeInto(t, rec, &entry)
	if entry.Name != "band_1.pdf" || entry.Status != models.StatusUnprocessed {
		t.Errorf("unexpected file entry: %+v", entry)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/projects/reg/files", nil)
	var files []models.ProjectFile
	decodeInto(t, rec, &files)
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}

	rec = uploadPDF(t, mux, "reg", "notes.txt")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-PDF upload: status %d", rec.Code)
	}

	rec = uploadPDF(t, mux, "ghost", "band_1.pdf")
	if rec.Code != http.StatusNotFound {
		t.Errorf("upload to missing project: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodDelete, "/api/projects/reg/files/band_1.pdf", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("remove: status %d", rec.Code)
	}
}

func TestProcessFileDirect(t *testing.T) {
	mux, st, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")

	rec := doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("process: status %d, body %s", rec.Code, rec.Body.String())
	}

	var summary struct {
		File        string `json:"file"`
		Mode        string `json:"mode"`
		Pages       int    `json:"pages"`
		Rows        int    `json:"rows"`
		TotalTokens int    `json:"total_tokens"`
	}
	decodeInto(t, rec, &summary)
	if summary.File != "band_1.pdf" || summary.Mode != models.ModeDirect {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.Pages != 2 || summary.Rows != 3 || summary.TotalTokens != 100 {
		t.Errorf("unexpected counts: %+v", summary)
	}

	proj, err := st.GetProject("reg")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if proj.Files[0].Status != models.StatusDone {
		t.Errorf("file status = %s, want done", proj.Files[0].Status)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/projects/reg/files/band_1.pdf/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result: status %d", rec.Code)
	}
	var ex models.Extraction
	decodeInto(t, rec, &ex)
	if ex.RowCount() != 3 || ex.Prompt != "basic" {
		t.Errorf("unexpected extraction: rows %d, prompt %q", ex.RowCount(), ex.Prompt)
	}
}

func TestProcessFileDirectFailure(t *testing.T) {
	mux, st, svc, _ := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")

	svc.err = ocr.NewOCRError("CreateChatCompletion", ocr.ErrQuotaExceeded, "")

	rec := doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for upstream failure, got %d, body %s", rec.Code, rec.Body.String())
	}

	proj, err := st.GetProject("reg")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if proj.Files[0].Status != models.StatusFailed {
		t.Errorf("file status = %s, want failed", proj.Files[0].Status)
	}
}

func TestProcessFileRejectsBadRequest(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")

	rec := doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process",
		map[string]any{"mode": "turbo"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown mode: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process",
		map[string]any{"samples": 2})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("two samples: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/ghost.pdf/process", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file: status %d", rec.Code)
	}
}

func TestProcessFileBatch(t *testing.T) {
	mux, st, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")

	rec := doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process",
		map[string]any{"mode": "batch"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: status %d, body %s", rec.Code, rec.Body.String())
	}
	var job models.BatchJob
	decodeInto(t, rec, &job)
	if job.ID != "batch_srv1" || job.Project != "reg" {
		t.Errorf("unexpected job: %+v", job)
	}

	proj, err := st.GetProject("reg")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if proj.Files[0].Status != models.StatusProcessing {
		t.Errorf("file status = %s, want processing", proj.Files[0].Status)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/projects/reg/jobs", nil)
	var jobs []models.BatchJob
	decodeInto(t, rec, &jobs)
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}
}

func TestListJobsRefresh(t *testing.T) {
	mux, _, _, batch := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")
	doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process",
		map[string]any{"mode": "batch"})

	batch.status = models.BatchFinalizing
	rec := doRequest(t, mux, http.MethodGet, "/api/projects/reg/jobs?refresh=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d", rec.Code)
	}
	var jobs []models.BatchJob
	decodeInto(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].Status != models.BatchFinalizing {
		t.Errorf("unexpected jobs after refresh: %+v", jobs)
	}
	if batch.polls != 1 {
		t.Errorf("polls = %d, want 1", batch.polls)
	}
}

func TestRefreshSingleJob(t *testing.T) {
	mux, _, _, batch := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")
	doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process",
		map[string]any{"mode": "batch"})

	batch.status = models.BatchInProgress
	rec := doRequest(t, mux, http.MethodPost, "/api/projects/reg/jobs/batch_srv1/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", rec.Code, rec.Body.String())
	}
	var job models.BatchJob
	decodeInto(t, rec, &job)
	if job.Status != models.BatchInProgress {
		t.Errorf("job status = %s, want in_progress", job.Status)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/projects/reg/jobs/ghost/refresh", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job: status %d", rec.Code)
	}
}

func TestCollectJob(t *testing.T) {
	mux, st, _, batch := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")
	doRequest(t, mux, http.MethodPost, "/api/projects/reg/files/band_1.pdf/process",
		map[string]any{"mode": "batch"})

	// Still running: 202 and no extraction.
	rec := doRequest(t, mux, http.MethodPost, "/api/projects/reg/jobs/batch_srv1/collect", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("collect while running: status %d", rec.Code)
	}

	batch.status = models.BatchCompleted
	batch.output = &ocr.BatchOutput{
		Samples: map[int][][]models.TableRow{
			1: {{{"Familienname": "Huber", "Eintrag_Nr": int64(1)}}},
			2: {{{"Familienname": "Schmid", "Eintrag_Nr": int64(2)}}},
		},
		Usage: models.TokenUsage{TotalTokens: 400},
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/projects/reg/jobs/batch_srv1/collect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("collect: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Job        *models.BatchJob   `json:"job"`
		Extraction *models.Extraction `json:"extraction"`
	}
	decodeInto(t, rec, &resp)
	if resp.Job == nil || resp.Job.Status != models.BatchCompleted {
		t.Fatalf("unexpected job in response: %+v", resp.Job)
	}
	if resp.Extraction == nil || resp.Extraction.RowCount() != 2 {
		t.Fatalf("unexpected extraction in response: %+v", resp.Extraction)
	}

	proj, err := st.GetProject("reg")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if proj.Files[0].Status != models.StatusDone {
		t.Errorf("file status = %s, want done", proj.Files[0].Status)
	}
}

func TestGetResultBeforeProcessing(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")
	uploadPDF(t, mux, "reg", "band_1.pdf")

	rec := doRequest(t, mux, http.MethodGet, "/api/projects/reg/files/band_1.pdf/result", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before processing, got %d", rec.Code)
	}
}

func TestRoutingRejections(t *testing.T) {
	mux, _, _, _ := newTestRouter(t)
	createProject(t, mux, "reg")

	rec := doRequest(t, mux, http.MethodPut, "/api/prompts", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT prompts: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/projects/reg", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST project: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/projects/reg/files/x.pdf/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown action: status %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/projects/reg/files/x.pdf/process", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET process: status %d", rec.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/api/prompts", "/api/prompts"},
		{"/api/prompts/census", "/api/prompts/{name}"},
		{"/api/projects/reg", "/api/projects/{name}"},
		{"/api/projects/reg/files", "/api/projects/{name}/files"},
		{"/api/projects/reg/files/band_1.pdf", "/api/projects/{name}/files/{item}"},
		{"/api/projects/reg/files/band_1.pdf/process", "/api/projects/{name}/files/{item}/process"},
		{"/api/projects/reg/jobs/batch_1/collect", "/api/projects/{name}/jobs/{item}/collect"},
		{"/favicon.ico", "other"},
	}
	for _, tc := range cases {
		if got := normalizeRoute(tc.path); got != tc.want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
