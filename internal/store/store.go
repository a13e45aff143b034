// Package store persists prompts, schemas, projects and extraction
// results as JSON files under a single data directory.
//
// Layout:
//
//	data/
//	  prompts.json                     all prompts, sorted by name
//	  schemas.json                     all output schemas, sorted by name
//	  projects/<name>/project.json     project record with tracked files
//	  projects/<name>/uploads/         original PDFs
//	  projects/<name>/results/         one extraction JSON per file
//	  projects/<name>/batch/           submitted batch manifests (audit)
//	  projects/<name>/jobs.json        batch job handles
//
// Writes replace whole files atomically (temp file + rename). A single
// mutex serializes mutations within the process; cross-process writers
// are not coordinated, the store is built for one operator.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tableocr/internal/logger"
	"tableocr/pkg/models"
)

// Store is a file-backed registry for all persistent records.
type Store struct {
	dir string
	mu  sync.Mutex
	log zerolog.Logger
}

// Open initializes the data directory, creating the layout and seeding
// the starter prompts and schemas on first use.
func Open(dir string) (*Store, error) {
	const op = "Open"

	s := &Store{
		dir: dir,
		log: logger.WithComponent("store"),
	}

	if err := os.MkdirAll(s.projectsDir(), 0o755); err != nil {
		return nil, NewStoreError(op, err, "creating data directory")
	}

	seeded := false
	if _, err := os.Stat(s.promptsPath()); os.IsNotExist(err) {
		if err := writeJSON(s.promptsPath(), seedPrompts()); err != nil {
			return nil, NewStoreError(op, err, "seeding prompts")
		}
		seeded = true
	}
	if _, err := os.Stat(s.schemasPath()); os.IsNotExist(err) {
		if err := writeJSON(s.schemasPath(), seedSchemas()); err != nil {
			return nil, NewStoreError(op, err, "seeding schemas")
		}
		seeded = true
	}

	s.log.Info().
		Str("dir", dir).
		Bool("seeded", seeded).
		Msg("Store opened")

	return s, nil
}

// Dir returns the root data directory.
func (s *Store) Dir() string {
	return s.dir
}

// ---- Prompts ----

// SavePrompt creates or replaces a prompt by name.
func (s *Store) SavePrompt(p *models.Prompt) error {
	const op = "SavePrompt"

	if !validName(p.Name) {
		return NewStoreError(op, ErrInvalidName, fmt.Sprintf("prompt %q", p.Name))
	}
	if strings.TrimSpace(p.Text) == "" {
		return NewStoreError(op, ErrInvalidName, "prompt text is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prompts, err := s.readPrompts()
	if err != nil {
		return WrapStoreError(op, err, "")
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	replaced := false
	for i := range prompts {
		if prompts[i].Name == p.Name {
			p.CreatedAt = prompts[i].CreatedAt
			prompts[i] = *p
			replaced = true
			break
		}
	}
	if !replaced {
		prompts = append(prompts, *p)
	}

	sortByName(prompts, func(p models.Prompt) string { return p.Name })
	if err := writeJSON(s.promptsPath(), prompts); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Debug().Str("prompt", p.Name).Bool("replaced", replaced).Msg("Prompt saved")
	return nil
}

// GetPrompt returns the prompt with the given name.
func (s *Store) GetPrompt(name string) (*models.Prompt, error) {
	const op = "GetPrompt"

	s.mu.Lock()
	defer s.mu.Unlock()

	prompts, err := s.readPrompts()
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}

	for i := range prompts {
		if prompts[i].Name == name {
			return &prompts[i], nil
		}
	}
	return nil, NewStoreError(op, ErrNotFound, fmt.Sprintf("prompt %q", name))
}

// ListPrompts returns all prompts sorted by name.
func (s *Store) ListPrompts() ([]models.Prompt, error) {
	const op = "ListPrompts"

	s.mu.Lock()
	defer s.mu.Unlock()

	prompts, err := s.readPrompts()
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}
	return prompts, nil
}

// DeletePrompt removes a prompt. Deletion fails with ErrPromptInUse when
// any project still references it, and the store stays unchanged.
func (s *Store) DeletePrompt(name string) error {
	const op = "DeletePrompt"

	s.mu.Lock()
	defer s.mu.Unlock()

	prompts, err := s.readPrompts()
	if err != nil {
		return WrapStoreError(op, err, "")
	}

	idx := -1
	for i := range prompts {
		if prompts[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("prompt %q", name))
	}

	users, err := s.projectsUsing(func(p *models.Project) bool { return p.Prompt == name })
	if err != nil {
		return WrapStoreError(op, err, "")
	}
	if len(users) > 0 {
		return NewStoreError(op, ErrPromptInUse,
			fmt.Sprintf("prompt %q used by projects: %s", name, strings.Join(users, ", ")))
	}

	prompts = append(prompts[:idx], prompts[idx+1:]...)
	if err := writeJSON(s.promptsPath(), prompts); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Debug().Str("prompt", name).Msg("Prompt deleted")
	return nil
}

// ---- Schemas ----

// SaveSchema creates or replaces an output schema by name. Structural
// validation of the fields happens at the call sites; the store only
// guards names.
func (s *Store) SaveSchema(sc *models.OutputSchema) error {
	const op = "SaveSchema"

	if !validName(sc.Name) {
		return NewStoreError(op, ErrInvalidName, fmt.Sprintf("schema %q", sc.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schemas, err := s.readSchemas()
	if err != nil {
		return WrapStoreError(op, err, "")
	}

	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}

	replaced := false
	for i := range schemas {
		if schemas[i].Name == sc.Name {
			sc.CreatedAt = schemas[i].CreatedAt
			schemas[i] = *sc
			replaced = true
			break
		}
	}
	if !replaced {
		schemas = append(schemas, *sc)
	}

	sortByName(schemas, func(sc models.OutputSchema) string { return sc.Name })
	if err := writeJSON(s.schemasPath(), schemas); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Debug().Str("schema", sc.Name).Bool("replaced", replaced).Msg("Schema saved")
	return nil
}

// GetSchema returns the schema with the given name.
func (s *Store) GetSchema(name string) (*models.OutputSchema, error) {
	const op = "GetSchema"

	s.mu.Lock()
	defer s.mu.Unlock()

	schemas, err := s.readSchemas()
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}

	for i := range schemas {
		if schemas[i].Name == name {
			return &schemas[i], nil
		}
	}
	return nil, NewStoreError(op, ErrNotFound, fmt.Sprintf("schema %q", name))
}

// ListSchemas returns all schemas sorted by name.
func (s *Store) ListSchemas() ([]models.OutputSchema, error) {
	const op = "ListSchemas"

	s.mu.Lock()
	defer s.mu.Unlock()

	schemas, err := s.readSchemas()
	if err != nil {
		return nil, WrapStoreError(op, err, "")
	}
	return schemas, nil
}

// DeleteSchema removes a schema. Deletion fails with ErrSchemaInUse when
// any project still references it, and the store stays unchanged.
func (s *Store) DeleteSchema(name string) error {
	const op = "DeleteSchema"

	s.mu.Lock()
	defer s.mu.Unlock()

	schemas, err := s.readSchemas()
	if err != nil {
		return WrapStoreError(op, err, "")
	}

	idx := -1
	for i := range schemas {
		if schemas[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewStoreError(op, ErrNotFound, fmt.Sprintf("schema %q", name))
	}

	users, err := s.projectsUsing(func(p *models.Project) bool { return p.Schema == name })
	if err != nil {
		return WrapStoreError(op, err, "")
	}
	if len(users) > 0 {
		return NewStoreError(op, ErrSchemaInUse,
			fmt.Sprintf("schema %q used by projects: %s", name, strings.Join(users, ", ")))
	}

	schemas = append(schemas[:idx], schemas[idx+1:]...)
	if err := writeJSON(s.schemasPath(), schemas); err != nil {
		return NewStoreError(op, err, "")
	}

	s.log.Debug().Str("schema", name).Msg("Schema deleted")
	return nil
}

// ---- Paths and helpers ----

func (s *Store) promptsPath() string { return filepath.Join(s.dir, "prompts.json") }
func (s *Store) schemasPath() string { return filepath.Join(s.dir, "schemas.json") }
func (s *Store) projectsDir() string { return filepath.Join(s.dir, "projects") }

func (s *Store) projectDir(name string) string { return filepath.Join(s.projectsDir(), name) }
func (s *Store) projectPath(name string) string {
	return filepath.Join(s.projectDir(name), "project.json")
}
func (s *Store) uploadsDir(name string) string { return filepath.Join(s.projectDir(name), "uploads") }
func (s *Store) resultsDir(name string) string { return filepath.Join(s.projectDir(name), "results") }
func (s *Store) jobsPath(name string) string   { return filepath.Join(s.projectDir(name), "jobs.json") }

// BatchDir returns the directory holding submitted batch manifests for a
// project. Callers hand it to the batch submitter as the audit location.
func (s *Store) BatchDir(project string) string {
	return filepath.Join(s.projectDir(project), "batch")
}

func (s *Store) readPrompts() ([]models.Prompt, error) {
	var prompts []models.Prompt
	if err := readJSON(s.promptsPath(), &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

func (s *Store) readSchemas() ([]models.OutputSchema, error) {
	var schemas []models.OutputSchema
	if err := readJSON(s.schemasPath(), &schemas); err != nil {
		return nil, err
	}
	return schemas, nil
}

// hasPrompt reports whether a prompt exists. Callers hold the lock.
func (s *Store) hasPrompt(name string) (bool, error) {
	prompts, err := s.readPrompts()
	if err != nil {
		return false, err
	}
	for i := range prompts {
		if prompts[i].Name == name {
			return true, nil
		}
	}
	return false, nil
}

// hasSchema reports whether a schema exists. Callers hold the lock.
func (s *Store) hasSchema(name string) (bool, error) {
	schemas, err := s.readSchemas()
	if err != nil {
		return false, err
	}
	for i := range schemas {
		if schemas[i].Name == name {
			return true, nil
		}
	}
	return false, nil
}

// projectsUsing returns the names of projects matching the predicate.
// Callers hold the lock.
func (s *Store) projectsUsing(match func(*models.Project) bool) ([]string, error) {
	projects, err := s.readProjects()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, p := range projects {
		if match(p) {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// nameRE keeps record names usable as directory and file names.
var nameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

func validName(name string) bool {
	return name != "" && len(name) <= 64 && nameRE.MatchString(name)
}

// readJSON loads a JSON file into v. Missing files surface as
// os.ErrNotExist for callers to translate.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON replaces a JSON file atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// sortByName orders records by their name key.
func sortByName[T any](items []T, key func(T) string) {
	sort.Slice(items, func(i, j int) bool { return key(items[i]) < key(items[j]) })
}
