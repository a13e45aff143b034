package models

import "time"

// FieldType enumerates the primitive column types an output schema may declare.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldInteger, FieldNumber, FieldBoolean:
		return true
	}
	return false
}

// Prompt is a named instruction text sent alongside each page image.
type Prompt struct {
	Name      string    `json:"name"`       // Unique prompt identifier
	Text      string    `json:"text"`       // Instruction text for the model
	CreatedAt time.Time `json:"created_at"` // Record creation timestamp
}

// SchemaField is a single column definition. The declaration order of
// fields is preserved and used as the column order in every output.
type SchemaField struct {
	Name     string    `json:"name"`     // Column name as it appears in extracted rows
	Type     FieldType `json:"type"`     // Primitive value type
	Required bool      `json:"required"` // Optional columns may come back null
}

// OutputSchema describes the tabular structure the model must return:
// an object holding a "table" array whose items carry these fields.
type OutputSchema struct {
	Name      string        `json:"name"`       // Unique schema identifier
	Fields    []SchemaField `json:"fields"`     // Ordered column definitions
	CreatedAt time.Time     `json:"created_at"` // Record creation timestamp
}

// Columns returns the field names in declaration order.
func (s *OutputSchema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Field returns the field with the given name, or nil.
func (s *OutputSchema) Field(name string) *SchemaField {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// FileStatus tracks a project file through its processing lifecycle.
type FileStatus string

const (
	StatusUnprocessed FileStatus = "unprocessed"
	StatusProcessing  FileStatus = "processing"
	StatusDone        FileStatus = "done"
	StatusFailed      FileStatus = "failed"
)

// ProjectFile is one uploaded PDF tracked inside a project.
type ProjectFile struct {
	Name   string     `json:"name"`   // File name inside the project uploads directory
	Status FileStatus `json:"status"` // Current processing state
	Pages  int        `json:"pages,omitempty"` // Page count once known
	Error  string     `json:"error,omitempty"` // Failure message when status is "failed"

	AddedAt     time.Time  `json:"added_at"`               // Upload timestamp
	ProcessedAt *time.Time `json:"processed_at,omitempty"` // Last successful extraction (nil if never)
}

// Project ties uploaded files to the prompt and schema used to process
// them. Prompt and Schema reference stored records by name.
type Project struct {
	Name   string `json:"name"`   // Unique project identifier, filesystem-safe
	Prompt string `json:"prompt"` // Name of the prompt applied to every file
	Schema string `json:"schema"` // Name of the output schema applied to every file

	Files []ProjectFile `json:"files"` // Tracked uploads in add order

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// File returns the tracked file with the given name, or nil.
func (p *Project) File(name string) *ProjectFile {
	for i := range p.Files {
		if p.Files[i].Name == name {
			return &p.Files[i]
		}
	}
	return nil
}
