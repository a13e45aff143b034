package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"tableocr/pkg/models"
)

var jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

// CleanModelOutput strips markdown code fences the model sometimes wraps
// around payloads and isolates the first JSON object in the text.
func CleanModelOutput(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	if match := jsonObjectRE.FindString(cleaned); match != "" {
		return match
	}
	return cleaned
}

// ParseTable validates a model payload against the schema and returns the
// coerced rows. The payload must be the {"table": [...]} envelope; rows
// must carry exactly the declared columns. Missing optional columns are
// filled with nil so every row exposes the full column set.
func ParseTable(content []byte, s *models.OutputSchema) ([]models.TableRow, error) {
	const op = "ParseTable"

	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var payload map[string]json.RawMessage
	if err := dec.Decode(&payload); err != nil {
		return nil, NewSchemaError(op, ErrNotObject, err.Error())
	}

	rawTable, ok := payload["table"]
	if !ok {
		return nil, NewSchemaError(op, ErrMissingTable, "")
	}

	var rawRows []map[string]json.RawMessage
	if err := json.Unmarshal(rawTable, &rawRows); err != nil {
		return nil, NewSchemaError(op, ErrNotObject, fmt.Sprintf("table is not an array of objects: %v", err))
	}

	rows := make([]models.TableRow, 0, len(rawRows))
	for i, rawRow := range rawRows {
		row := make(models.TableRow, len(s.Fields))

		for name := range rawRow {
			if s.Field(name) == nil {
				return nil, NewSchemaError(op, ErrUnknownColumn, fmt.Sprintf("row %d, column %q", i, name))
			}
		}

		for _, f := range s.Fields {
			rawVal, present := rawRow[f.Name]
			if !present {
				if f.Required {
					return nil, NewSchemaError(op, ErrMissingColumn, fmt.Sprintf("row %d, column %q", i, f.Name))
				}
				row[f.Name] = nil
				continue
			}

			val, err := coerceValue(rawVal, f, i)
			if err != nil {
				return nil, WrapSchemaError(op, err, "")
			}
			row[f.Name] = val
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// coerceValue converts one JSON cell to the Go type the field declares:
// string, int64, float64, or bool. Null is accepted for optional fields.
func coerceValue(raw json.RawMessage, f models.SchemaField, rowIdx int) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, NewSchemaError("coerceValue", ErrBadValue, err.Error())
	}

	if v == nil {
		if f.Required {
			return nil, badValue(rowIdx, f, v, "required column is null")
		}
		return nil, nil
	}

	switch f.Type {
	case models.FieldString:
		switch tv := v.(type) {
		case string:
			return tv, nil
		case json.Number:
			// Models occasionally emit bare numbers for numeric-looking
			// text columns; keep the literal.
			return tv.String(), nil
		}
		return nil, badValue(rowIdx, f, v, "expected a string")

	case models.FieldInteger:
		num, ok := v.(json.Number)
		if !ok {
			return nil, badValue(rowIdx, f, v, "expected an integer")
		}
		n, err := num.Int64()
		if err != nil {
			return nil, badValue(rowIdx, f, v, "expected an integer, got a fraction")
		}
		return n, nil

	case models.FieldNumber:
		num, ok := v.(json.Number)
		if !ok {
			return nil, badValue(rowIdx, f, v, "expected a number")
		}
		fl, err := num.Float64()
		if err != nil {
			return nil, badValue(rowIdx, f, v, "unparseable number")
		}
		return fl, nil

	case models.FieldBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, badValue(rowIdx, f, v, "expected a boolean")
		}
		return b, nil
	}

	return nil, badValue(rowIdx, f, v, fmt.Sprintf("unsupported field type %q", f.Type))
}

func badValue(rowIdx int, f models.SchemaField, v any, msg string) error {
	return NewSchemaError("coerceValue", ErrBadValue, NewValidationError(rowIdx, f.Name, v, msg).Error())
}
