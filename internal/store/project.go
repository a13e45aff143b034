package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tableocr/pkg/models"
)

// CreateProject creates a project directory tree bound to an existing
// prompt and schema.
func (s *Store) CreateProject(name, prompt, schema string) (*models.Project, error) {
	const op = "CreateProject"

	if !validName(name) {
		return nil, NewStoreError(op, ErrInvalidName, fmt.Sprintf("project %q", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.projectPath(name)); err == nil {
		return nil, NewStoreError(op, ErrAlreadyExists, fmt.Sprintf("project %q", name))
	}

	// Both referents must exist before anything is created on disk.
	ok, err := s.hasPrompt(prompt)
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}
	if !ok {
		return nil, NewStoreError(op, ErrNotFound, fmt.Sprintf("prompt %q", prompt))
	}
	ok, err = s.hasSchema(schema)
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}
	if !ok {
		return nil, NewStoreError(op, ErrNotFound, fmt.Sprintf("schema %q", schema))
	}

	for _, dir := range []string{s.uploadsDir(name), s.resultsDir(name), s.BatchDir(name)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewStoreError(op, err, "creating project directories")
		}
	}

	now := time.Now()
	project := &models.Project{
		Name:      name,
		Prompt:    prompt,
		Schema:    schema,
		Files:     []models.ProjectFile{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := writeJSON(s.projectPath(name), project); err != nil {
		return nil, NewStoreError(op, err, "")
	}
	if err := writeJSON(s.jobsPath(name), []models.BatchJob{}); err != nil {
		return nil, NewStoreError(op, err, "")
	}

	s.log.Info().
		Str("project", name).
		Str("prompt", prompt).
		Str("schema", schema).
		Msg("Project created")

	return project, nil
}

// GetProject returns the project with the given name.
func (s *Store) GetProject(name string) (*models.Project, error) {
	const op = "GetProject"

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getProject(op, name)
}

// ListProjects returns all projects sorted by name.
func (s *Store) ListProjects() ([]*models.Project, error) {
	const op = "ListProjects"

	s.mu.Lock()
	defer s.mu.Unlock()

	projects, err := s.readProjects()
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}
	return projects, nil
}

// UpdateProject replaces a project record. The referenced prompt and
// schema must exist.
func (s *Store) UpdateProject(p *models.Project) error {
	const op = "UpdateProject"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProject(op, p.Name); err != nil {
		return err
	}

	ok, err := s.hasPrompt(p.Prompt)
	if err != nil {
		return WrapStoreError(op, err, "")
	}
	if !ok {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("prompt %q", p.Prompt))
	}
	ok, err = s.hasSchema(p.Schema)
	if err != nil {
		return WrapStoreError(op, err, "")
	}
	if !ok {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("schema %q", p.Schema))
	}

	p.UpdatedAt = time.Now()
	if err := writeJSON(s.projectPath(p.Name), p); err != nil {
		return NewStoreError(op, err, "")
	}
	return nil
}

// DeleteProject removes the project and its whole directory tree,
// uploads and results included.
func (s *Store) DeleteProject(name string) error {
	const op = "DeleteProject"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProject(op, name); err != nil {
		return err
	}
	if err := os.RemoveAll(s.projectDir(name)); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Info().Str("project", name).Msg("Project deleted")
	return nil
}

// ---- Files ----

// AddFile copies a PDF into the project uploads and tracks it with
// status "unprocessed".
func (s *Store) AddFile(project, srcPath string) (*models.ProjectFile, error) {
	const op = "AddFile"

	in, err := os.Open(srcPath)
	if err != nil {
		return nil, NewStoreError(op, err, "")
	}
	defer in.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addFile(op, project, filepath.Base(srcPath), in)
}

// AddFileReader stores an upload from a stream under the given name.
// Any directory components in the name are stripped.
func (s *Store) AddFileReader(project, name string, src io.Reader) (*models.ProjectFile, error) {
	const op = "AddFileReader"

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addFile(op, project, filepath.Base(name), src)
}

// addFile writes one upload and tracks it. Callers hold the lock.
func (s *Store) addFile(op, project, name string, src io.Reader) (*models.ProjectFile, error) {
	p, err := s.getProject(op, project)
	if err != nil {
		return nil, err
	}

	if name == "." || name == ".." || name == "" || name == string(filepath.Separator) {
		return nil, NewStoreError(op, ErrInvalidName, fmt.Sprintf("file %q", name))
	}
	if p.File(name) != nil {
		return nil, NewStoreError(op, ErrAlreadyExists, fmt.Sprintf("file %q in project %q", name, project))
	}

	if err := os.MkdirAll(s.uploadsDir(project), 0o755); err != nil {
		return nil, NewStoreError(op, err, "")
	}
	dst, err := os.Create(filepath.Join(s.uploadsDir(project), name))
	if err != nil {
		return nil, NewStoreError(op, err, "")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return nil, NewStoreError(op, err, "writing upload")
	}
	if err := dst.Close(); err != nil {
		return nil, NewStoreError(op, err, "")
	}

	p.Files = append(p.Files, models.ProjectFile{
		Name:    name,
		Status:  models.StatusUnprocessed,
		AddedAt: time.Now(),
	})
	p.UpdatedAt = time.Now()

	if err := writeJSON(s.projectPath(project), p); err != nil {
		return nil, NewStoreError(op, err, "")
	}

	s.log.Info().Str("project", project).Str("file", name).Msg("File added")
	return &p.Files[len(p.Files)-1], nil
}

// RemoveFile deletes the upload, any stored extraction and the tracking
// entry.
func (s *Store) RemoveFile(project, file string) error {
	const op = "RemoveFile"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getProject(op, project)
	if err != nil {
		return err
	}

	idx := -1
	for i := range p.Files {
		if p.Files[i].Name == file {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("file %q in project %q", file, project))
	}

	for _, path := range []string{
		filepath.Join(s.uploadsDir(project), file),
		s.resultPath(project, file),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return NewStoreError(op, err, "")
		}
	}

	p.Files = append(p.Files[:idx], p.Files[idx+1:]...)
	p.UpdatedAt = time.Now()

	if err := writeJSON(s.projectPath(project), p); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Info().Str("project", project).Str("file", file).Msg("File removed")
	return nil
}

// FilePath returns the on-disk location of a tracked upload.
func (s *Store) FilePath(project, file string) (string, error) {
	const op = "FilePath"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getProject(op, project)
	if err != nil {
		return "", err
	}
	if p.File(file) == nil {
		return "", NewStoreError(op, ErrNotFound, fmt.Sprintf("file %q in project %q", file, project))
	}
	return filepath.Join(s.uploadsDir(project), file), nil
}

// ListFiles returns the tracked files of a project in add order.
func (s *Store) ListFiles(project string) ([]models.ProjectFile, error) {
	const op = "ListFiles"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getProject(op, project)
	if err != nil {
		return nil, err
	}
	return p.Files, nil
}

// SetFileStatus updates the processing state of a tracked file. Setting
// StatusDone stamps ProcessedAt and clears any failure message.
func (s *Store) SetFileStatus(project, file string, status models.FileStatus, errMsg string) error {
	const op = "SetFileStatus"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getProject(op, project)
	if err != nil {
		return err
	}

	entry := p.File(file)
	if entry == nil {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("file %q in project %q", file, project))
	}

	entry.Status = status
	entry.Error = errMsg
	if status == models.StatusDone {
		now := time.Now()
		entry.ProcessedAt = &now
		entry.Error = ""
	}
	p.UpdatedAt = time.Now()

	if err := writeJSON(s.projectPath(project), p); err != nil {
		return NewStoreError(op, err, "")
	}
	return nil
}

// ---- Results ----

// SaveExtraction stores the extraction for its file, replacing any
// previous result whole, and marks the file done.
func (s *Store) SaveExtraction(project string, ex *models.Extraction) error {
	const op = "SaveExtraction"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getProject(op, project)
	if err != nil {
		return err
	}

	entry := p.File(ex.File)
	if entry == nil {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("file %q in project %q", ex.File, project))
	}

	ex.Project = project
	if err := os.MkdirAll(s.resultsDir(project), 0o755); err != nil {
		return NewStoreError(op, err, "")
	}
	if err := writeJSON(s.resultPath(project, ex.File), ex); err != nil {
		return NewStoreError(op, err, "writing extraction")
	}

	now := time.Now()
	entry.Status = models.StatusDone
	entry.Error = ""
	entry.ProcessedAt = &now
	entry.Pages = len(ex.Pages)
	p.UpdatedAt = now

	if err := writeJSON(s.projectPath(project), p); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Info().
		Str("project", project).
		Str("file", ex.File).
		Int("pages", len(ex.Pages)).
		Int("rows", ex.RowCount()).
		Msg("Extraction saved")

	return nil
}

// GetExtraction returns the stored extraction for a file.
func (s *Store) GetExtraction(project, file string) (*models.Extraction, error) {
	const op = "GetExtraction"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProject(op, project); err != nil {
		return nil, err
	}

	var ex models.Extraction
	if err := readJSON(s.resultPath(project, file), &ex); err != nil {
		if os.IsNotExist(err) {
			return nil, NewStoreError(op, ErrNotFound, fmt.Sprintf("no extraction for file %q", file))
		}
		return nil, WrapStoreError(op, err, "")
	}
	return &ex, nil
}

// DeleteExtraction removes the stored result and returns the file to the
// unprocessed state.
func (s *Store) DeleteExtraction(project, file string) error {
	const op = "DeleteExtraction"

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getProject(op, project)
	if err != nil {
		return err
	}

	entry := p.File(file)
	if entry == nil {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("file %q in project %q", file, project))
	}

	if err := os.Remove(s.resultPath(project, file)); err != nil {
		if os.IsNotExist(err) {
			return NewStoreError(op, ErrNotFound, fmt.Sprintf("no extraction for file %q", file))
		}
		return NewStoreError(op, err, "")
	}

	entry.Status = models.StatusUnprocessed
	entry.ProcessedAt = nil
	entry.Pages = 0
	p.UpdatedAt = time.Now()

	if err := writeJSON(s.projectPath(project), p); err != nil {
		return NewStoreError(op, err, "")
	}
	return nil
}

// ---- Batch jobs ----

// SaveBatchJob creates or updates a job handle by ID.
func (s *Store) SaveBatchJob(project string, job *models.BatchJob) error {
	const op = "SaveBatchJob"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProject(op, project); err != nil {
		return err
	}

	job.Project = project

	jobs, err := s.readJobs(project)
	if err != nil {
		return WrapStoreError(op, err, "")
	}

	replaced := false
	for i := range jobs {
		if jobs[i].ID == job.ID {
			jobs[i] = *job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, *job)
	}

	if err := writeJSON(s.jobsPath(project), jobs); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Debug().
		Str("project", project).
		Str("batch_id", job.ID).
		Str("status", string(job.Status)).
		Msg("Batch job saved")

	return nil
}

// GetBatchJob returns the stored handle for a batch ID.
func (s *Store) GetBatchJob(project, id string) (*models.BatchJob, error) {
	const op = "GetBatchJob"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProject(op, project); err != nil {
		return nil, err
	}

	jobs, err := s.readJobs(project)
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}

	for i := range jobs {
		if jobs[i].ID == id {
			return &jobs[i], nil
		}
	}
	return nil, NewStoreError(op, ErrNotFound, fmt.Sprintf("batch job %q in project %q", id, project))
}

// ListBatchJobs returns the project's job handles in submit order.
func (s *Store) ListBatchJobs(project string) ([]models.BatchJob, error) {
	const op = "ListBatchJobs"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProject(op, project); err != nil {
		return nil, err
	}

	jobs, err := s.readJobs(project)
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}
	return jobs, nil
}

// DeleteBatchJob removes a job handle.
func (s *Store) DeleteBatchJob(project, id string) error {
	const op = "DeleteBatchJob"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProject(op, project); err != nil {
		return err
	}

	jobs, err := s.readJobs(project)
	if err != nil {
		return WrapStoreError(op, err, "")
	}

	idx := -1
	for i := range jobs {
		if jobs[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("batch job %q in project %q", id, project))
	}

	jobs = append(jobs[:idx], jobs[idx+1:]...)
	if err := writeJSON(s.jobsPath(project), jobs); err != nil {
		return NewStoreError(op, err, "")
	}
	return nil
}

// ---- Internal helpers ----

// getProject loads a project, translating a missing record into
// ErrNotFound. Callers hold the lock.
func (s *Store) getProject(op, name string) (*models.Project, error) {
	var p models.Project
	if err := readJSON(s.projectPath(name), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, NewStoreError(op, ErrNotFound, fmt.Sprintf("project %q", name))
		}
		return nil, WrapStoreError(op, err, "")
	}
	return &p, nil
}

// readProjects loads every project record. Callers hold the lock.
func (s *Store) readProjects() ([]*models.Project, error) {
	entries, err := os.ReadDir(s.projectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var projects []*models.Project
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var p models.Project
		if err := readJSON(s.projectPath(e.Name()), &p); err != nil {
			if os.IsNotExist(err) {
				continue // stray directory without a record
			}
			return nil, err
		}
		projects = append(projects, &p)
	}

	sortByName(projects, func(p *models.Project) string { return p.Name })
	return projects, nil
}

// readJobs loads the job handles of a project. A missing jobs file is an
// empty list. Callers hold the lock.
func (s *Store) readJobs(project string) ([]models.BatchJob, error) {
	var jobs []models.BatchJob
	if err := readJSON(s.jobsPath(project), &jobs); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return jobs, nil
}

// resultPath maps a file name to its extraction record.
func (s *Store) resultPath(project, file string) string {
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	return filepath.Join(s.resultsDir(project), stem+".json")
}
