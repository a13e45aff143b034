package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tableocr/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

// writePDF drops a placeholder upload; the store never inspects content.
func writePDF(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatalf("writing test pdf: %v", err)
	}
	return path
}

func testExtraction(file string, rows int) *models.Extraction {
	tableRows := make([]models.TableRow, rows)
	for i := range tableRows {
		tableRows[i] = models.TableRow{"Familienname": "Huber", "Eintrag_Nr": int64(i + 1)}
	}
	return &models.Extraction{
		File:        file,
		Prompt:      "basic",
		Schema:      "name_register_standard",
		Model:       "gpt-4o-mini",
		Mode:        models.ModeDirect,
		Pages:       []models.PageResult{{Page: 1, Rows: tableRows, Samples: 1}},
		ExtractedAt: time.Now(),
	}
}

func TestOpenSeedsStarterRecords(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	basic, err := s.GetPrompt("basic")
	if err != nil {
		t.Fatalf("seeded prompt missing: %v", err)
	}
	if basic.Text != "Transcribe the text as if you were reading it naturally." {
		t.Errorf("basic prompt text = %q", basic.Text)
	}

	schemas, err := s.ListSchemas()
	if err != nil {
		t.Fatalf("ListSchemas() error = %v", err)
	}
	if len(schemas) == 0 {
		t.Fatal("no seeded schemas")
	}

	// Reopening must not duplicate or reset anything.
	if err := s.SavePrompt(&models.Prompt{Name: "own", Text: "Read the page."}); err != nil {
		t.Fatalf("SavePrompt() error = %v", err)
	}
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	prompts, err := s2.ListPrompts()
	if err != nil {
		t.Fatalf("ListPrompts() error = %v", err)
	}
	if len(prompts) != 4 {
		t.Errorf("got %d prompts after reopen, want 4 (3 seeds + 1 own)", len(prompts))
	}
}

func TestPromptCRUD(t *testing.T) {
	s := newTestStore(t)

	p := &models.Prompt{Name: "register", Text: "Read the register page."}
	if err := s.SavePrompt(p); err != nil {
		t.Fatalf("SavePrompt() error = %v", err)
	}
	created := p.CreatedAt

	// Update keeps the original creation time.
	if err := s.SavePrompt(&models.Prompt{Name: "register", Text: "Read it carefully."}); err != nil {
		t.Fatalf("SavePrompt() update error = %v", err)
	}

	got, err := s.GetPrompt("register")
	if err != nil {
		t.Fatalf("GetPrompt() error = %v", err)
	}
	if got.Text != "Read it carefully." {
		t.Errorf("Text = %q after update", got.Text)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: %v != %v", got.CreatedAt, created)
	}

	if err := s.DeletePrompt("register"); err != nil {
		t.Fatalf("DeletePrompt() error = %v", err)
	}
	if _, err := s.GetPrompt("register"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPrompt after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeletePrompt("register"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestListPromptsSorted(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"zweite", "erste", "mittlere"} {
		if err := s.SavePrompt(&models.Prompt{Name: name, Text: "x"}); err != nil {
			t.Fatalf("SavePrompt(%q) error = %v", name, err)
		}
	}

	prompts, err := s.ListPrompts()
	if err != nil {
		t.Fatalf("ListPrompts() error = %v", err)
	}
	for i := 1; i < len(prompts); i++ {
		if prompts[i-1].Name > prompts[i].Name {
			t.Fatalf("prompts not sorted: %q before %q", prompts[i-1].Name, prompts[i].Name)
		}
	}
}

func TestInvalidNamesRejected(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{
		"",
		"../escape",
		"has space",
		"slash/inside",
		".hidden",
		strings.Repeat("x", 65),
	} {
		if err := s.SavePrompt(&models.Prompt{Name: name, Text: "x"}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("SavePrompt(%q) = %v, want ErrInvalidName", name, err)
		}
		if _, err := s.CreateProject(name, "basic", "name_register_standard"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CreateProject(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestCreateProject(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("sterberegister", "missing", "name_register_standard"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing prompt referent = %v, want ErrNotFound", err)
	}
	if _, err := s.CreateProject("sterberegister", "basic", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing schema referent = %v, want ErrNotFound", err)
	}

	p, err := s.CreateProject("sterberegister", "basic", "name_register_standard")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if p.Prompt != "basic" || p.Schema != "name_register_standard" {
		t.Errorf("project referents = %q/%q", p.Prompt, p.Schema)
	}

	if _, err := s.CreateProject("sterberegister", "basic", "name_register_standard"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create = %v, want ErrAlreadyExists", err)
	}

	for _, dir := range []string{
		s.uploadsDir("sterberegister"),
		s.resultsDir("sterberegister"),
		s.BatchDir("sterberegister"),
	} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("project directory %s missing", dir)
		}
	}
}

func TestUpdateProject(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	p, err := s.GetProject("reg")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}

	// Re-pointing to a missing referent must fail and change nothing.
	p.Schema = "missing"
	if err := s.UpdateProject(p); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProject(missing schema) = %v, want ErrNotFound", err)
	}
	got, err := s.GetProject("reg")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Schema != "name_register_standard" {
		t.Errorf("schema changed after refused update: %q", got.Schema)
	}

	p.Schema = "name_register_stamt4"
	if err := s.UpdateProject(p); err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}
	got, err = s.GetProject("reg")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Schema != "name_register_stamt4" {
		t.Errorf("Schema = %q after update", got.Schema)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped on update")
	}

	ghost := &models.Project{Name: "ghost", Prompt: "basic", Schema: "name_register_standard"}
	if err := s.UpdateProject(ghost); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProject(unknown project) = %v, want ErrNotFound", err)
	}
}

func TestDeleteReferencedPromptAndSchema(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg1870", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	err := s.DeletePrompt("basic")
	if !errors.Is(err, ErrPromptInUse) {
		t.Fatalf("DeletePrompt(referenced) = %v, want ErrPromptInUse", err)
	}
	if !strings.Contains(err.Error(), "reg1870") {
		t.Errorf("error does not name the referencing project: %v", err)
	}
	// The store must be unchanged after the refused delete.
	if _, err := s.GetPrompt("basic"); err != nil {
		t.Errorf("prompt vanished after refused delete: %v", err)
	}

	err = s.DeleteSchema("name_register_standard")
	if !errors.Is(err, ErrSchemaInUse) {
		t.Fatalf("DeleteSchema(referenced) = %v, want ErrSchemaInUse", err)
	}
	if _, err := s.GetSchema("name_register_standard"); err != nil {
		t.Errorf("schema vanished after refused delete: %v", err)
	}

	// Once the project is gone both become deletable.
	if err := s.DeleteProject("reg1870"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if err := s.DeletePrompt("basic"); err != nil {
		t.Errorf("DeletePrompt after project removal: %v", err)
	}
	if err := s.DeleteSchema("name_register_standard"); err != nil {
		t.Errorf("DeleteSchema after project removal: %v", err)
	}
}

func TestAddAndRemoveFile(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	src := writePDF(t, t.TempDir(), "band_2.pdf")
	entry, err := s.AddFile("reg", src)
	if err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if entry.Status != models.StatusUnprocessed {
		t.Errorf("new file status = %q, want unprocessed", entry.Status)
	}

	path, err := s.FilePath("reg", "band_2.pdf")
	if err != nil {
		t.Fatalf("FilePath() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("upload not copied: %v", err)
	}
	if string(data) != "%PDF-1.4 test" {
		t.Errorf("upload content differs from source")
	}

	if _, err := s.AddFile("reg", src); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate AddFile = %v, want ErrAlreadyExists", err)
	}

	if err := s.RemoveFile("reg", "band_2.pdf"); err != nil {
		t.Fatalf("RemoveFile() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("upload still on disk after RemoveFile")
	}
	if _, err := s.FilePath("reg", "band_2.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FilePath after remove = %v, want ErrNotFound", err)
	}
}

func TestAddFileReader(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	entry, err := s.AddFileReader("reg", "../sneaky/band_3.pdf", strings.NewReader("%PDF-1.4 upload"))
	if err != nil {
		t.Fatalf("AddFileReader() error = %v", err)
	}
	if entry.Name != "band_3.pdf" {
		t.Errorf("name = %q, want directory components stripped", entry.Name)
	}

	path, err := s.FilePath("reg", "band_3.pdf")
	if err != nil {
		t.Fatalf("FilePath() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("upload not written: %v", err)
	}
	if string(data) != "%PDF-1.4 upload" {
		t.Errorf("upload content = %q", data)
	}
}

func TestSetFileStatus(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if _, err := s.AddFile("reg", writePDF(t, t.TempDir(), "scan.pdf")); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	if err := s.SetFileStatus("reg", "scan.pdf", models.StatusFailed, "model unreachable"); err != nil {
		t.Fatalf("SetFileStatus() error = %v", err)
	}
	files, _ := s.ListFiles("reg")
	if files[0].Status != models.StatusFailed || files[0].Error != "model unreachable" {
		t.Errorf("failed state not recorded: %+v", files[0])
	}

	// Done clears the failure message and stamps the time.
	if err := s.SetFileStatus("reg", "scan.pdf", models.StatusDone, ""); err != nil {
		t.Fatalf("SetFileStatus() error = %v", err)
	}
	files, _ = s.ListFiles("reg")
	if files[0].Error != "" || files[0].ProcessedAt == nil {
		t.Errorf("done state not recorded: %+v", files[0])
	}

	if err := s.SetFileStatus("reg", "ghost.pdf", models.StatusDone, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown file = %v, want ErrNotFound", err)
	}
}

func TestSaveExtractionOverwritesWhole(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if _, err := s.AddFile("reg", writePDF(t, t.TempDir(), "scan.pdf")); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	if err := s.SaveExtraction("reg", testExtraction("scan.pdf", 5)); err != nil {
		t.Fatalf("SaveExtraction() error = %v", err)
	}

	files, _ := s.ListFiles("reg")
	if files[0].Status != models.StatusDone || files[0].ProcessedAt == nil {
		t.Fatalf("file not marked done: %+v", files[0])
	}

	// Reprocessing replaces the result entirely, no merging.
	if err := s.SaveExtraction("reg", testExtraction("scan.pdf", 2)); err != nil {
		t.Fatalf("second SaveExtraction() error = %v", err)
	}

	ex, err := s.GetExtraction("reg", "scan.pdf")
	if err != nil {
		t.Fatalf("GetExtraction() error = %v", err)
	}
	if ex.RowCount() != 2 {
		t.Errorf("row count after overwrite = %d, want 2", ex.RowCount())
	}
	if ex.Project != "reg" {
		t.Errorf("extraction project = %q, want reg", ex.Project)
	}

	if err := s.DeleteExtraction("reg", "scan.pdf"); err != nil {
		t.Fatalf("DeleteExtraction() error = %v", err)
	}
	if _, err := s.GetExtraction("reg", "scan.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExtraction after delete = %v, want ErrNotFound", err)
	}
	files, _ = s.ListFiles("reg")
	if files[0].Status != models.StatusUnprocessed || files[0].ProcessedAt != nil {
		t.Errorf("file not reset after DeleteExtraction: %+v", files[0])
	}

	if err := s.SaveExtraction("reg", testExtraction("unknown.pdf", 1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveExtraction for untracked file = %v, want ErrNotFound", err)
	}
}

func TestBatchJobCRUD(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	job := &models.BatchJob{
		ID:        "batch_abc123",
		File:      "scan.pdf",
		Model:     "gpt-4o-mini",
		Samples:   3,
		Pages:     4,
		Status:    models.BatchValidating,
		CreatedAt: time.Now(),
	}
	if err := s.SaveBatchJob("reg", job); err != nil {
		t.Fatalf("SaveBatchJob() error = %v", err)
	}

	got, err := s.GetBatchJob("reg", "batch_abc123")
	if err != nil {
		t.Fatalf("GetBatchJob() error = %v", err)
	}
	if got.Project != "reg" || got.Samples != 3 {
		t.Errorf("stored job = %+v", got)
	}

	// Saving the same ID updates in place.
	job.Status = models.BatchCompleted
	if err := s.SaveBatchJob("reg", job); err != nil {
		t.Fatalf("SaveBatchJob() update error = %v", err)
	}
	jobs, err := s.ListBatchJobs("reg")
	if err != nil {
		t.Fatalf("ListBatchJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != models.BatchCompleted {
		t.Errorf("jobs after update = %+v", jobs)
	}

	if err := s.DeleteBatchJob("reg", "batch_abc123"); err != nil {
		t.Fatalf("DeleteBatchJob() error = %v", err)
	}
	if _, err := s.GetBatchJob("reg", "batch_abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBatchJob after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteProjectRemovesTree(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateProject("reg", "basic", "name_register_standard"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if _, err := s.AddFile("reg", writePDF(t, t.TempDir(), "scan.pdf")); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if err := s.SaveExtraction("reg", testExtraction("scan.pdf", 1)); err != nil {
		t.Fatalf("SaveExtraction() error = %v", err)
	}

	if err := s.DeleteProject("reg"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}

	if _, err := s.GetProject("reg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(s.projectDir("reg")); !os.IsNotExist(err) {
		t.Errorf("project directory survives deletion")
	}
}
