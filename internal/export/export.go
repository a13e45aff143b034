// Package export renders stored extractions as flat tabular output.
//
// Every output format shares the same column layout: the schema columns
// in declaration order, then the provenance columns naming the source
// file and page. Rows keep their page order; exporting several
// extractions concatenates them in the order given.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"tableocr/internal/store"
	"tableocr/pkg/models"
)

// Provenance columns appended after the schema columns.
const (
	ColumnFile = "file"
	ColumnPage = "page"
)

// Columns returns the export header for a schema.
func Columns(sc *models.OutputSchema) []string {
	return append(sc.Columns(), ColumnFile, ColumnPage)
}

// Rows flattens extractions into typed records, one map per table row,
// with file and page provenance added.
func Rows(sc *models.OutputSchema, extractions ...*models.Extraction) []map[string]any {
	var records []map[string]any
	for _, ex := range extractions {
		for _, page := range ex.Pages {
			for _, row := range page.Rows {
				rec := make(map[string]any, len(sc.Fields)+2)
				for _, col := range sc.Columns() {
					rec[col] = row[col]
				}
				rec[ColumnFile] = ex.File
				rec[ColumnPage] = page.Page
				records = append(records, rec)
			}
		}
	}
	return records
}

// WriteCSV writes a header line and all extraction rows to w.
func WriteCSV(w io.Writer, sc *models.OutputSchema, extractions ...*models.Extraction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(sc)); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	columns := sc.Columns()
	for _, ex := range extractions {
		for _, page := range ex.Pages {
			pageNo := strconv.Itoa(page.Page)
			for _, row := range page.Rows {
				record := make([]string, 0, len(columns)+2)
				for _, col := range columns {
					record = append(record, formatValue(row[col]))
				}
				record = append(record, ex.File, pageNo)
				if err := cw.Write(record); err != nil {
					return fmt.Errorf("writing csv row: %w", err)
				}
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the flattened records as a pretty-printed JSON array.
func WriteJSON(w io.Writer, sc *models.OutputSchema, extractions ...*models.Extraction) error {
	records := Rows(sc, extractions...)
	if records == nil {
		records = []map[string]any{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// Project gathers the schema and the stored extractions of every done
// file in the project, in file order. Files without a result are skipped.
func Project(st *store.Store, project string) (*models.OutputSchema, []*models.Extraction, error) {
	proj, err := st.GetProject(project)
	if err != nil {
		return nil, nil, err
	}
	sc, err := st.GetSchema(proj.Schema)
	if err != nil {
		return nil, nil, err
	}

	var extractions []*models.Extraction
	for _, f := range proj.Files {
		if f.Status != models.StatusDone {
			continue
		}
		ex, err := st.GetExtraction(project, f.Name)
		if err != nil {
			return nil, nil, err
		}
		extractions = append(extractions, ex)
	}
	return sc, extractions, nil
}

// formatValue renders a cell for CSV output. Integer columns come back
// as int64 from a fresh extraction but as float64 after a store round
// trip; whole floats print without a decimal point either way.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
