package models

import "time"

// TableRow is one extracted table row, keyed by schema column name.
// Values hold the coerced Go types: string, int64, float64, bool, or nil
// for optional columns the model left empty.
type TableRow map[string]any

// TokenUsage accumulates model token counts across calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add folds another usage record into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// PageResult holds the rows extracted from a single page. When several
// samples were taken, Rows is the consensus table and Agreement carries
// the per-column agreement ratio from majority voting.
type PageResult struct {
	Page      int                `json:"page"` // 1-based page number
	Rows      []TableRow         `json:"rows"`
	Samples   int                `json:"samples"`             // Samples this page was extracted with
	Agreement map[string]float64 `json:"agreement,omitempty"` // Column name → vote agreement in [0,1]
}

// ExtractionMode distinguishes the synchronous and batch paths.
const (
	ModeDirect = "direct"
	ModeBatch  = "batch"
)

// Extraction is the complete result of processing one file. Exactly one
// extraction exists per project file; reprocessing replaces it whole.
type Extraction struct {
	Project string `json:"project,omitempty"` // Empty for one-shot runs outside a project
	File    string `json:"file"`
	Prompt  string `json:"prompt"` // Prompt name, or "inline" for ad-hoc text
	Schema  string `json:"schema"`
	Model   string `json:"model"`
	Mode    string `json:"mode"`               // "direct" or "batch"
	BatchID string `json:"batch_id,omitempty"` // Set for batch-mode results

	Pages []PageResult `json:"pages"`
	Usage TokenUsage   `json:"usage"`

	ExtractedAt time.Time `json:"extracted_at"`
}

// Rows flattens all pages into a single slice in page order.
func (e *Extraction) Rows() []TableRow {
	var rows []TableRow
	for _, p := range e.Pages {
		rows = append(rows, p.Rows...)
	}
	return rows
}

// RowCount returns the total number of extracted rows.
func (e *Extraction) RowCount() int {
	n := 0
	for _, p := range e.Pages {
		n += len(p.Rows)
	}
	return n
}
