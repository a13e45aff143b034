// Package schema turns user-declared output schemas into the strict JSON
// schema the chat completions API enforces, and validates model payloads
// back against the declaration.
//
// Every extraction payload has the same envelope: a JSON object with a
// single "table" key holding an array of row objects. Rows carry exactly
// the declared columns; optional columns may be null.
package schema

import (
	"encoding/json"
	"fmt"

	"tableocr/pkg/models"
)

// Check validates a schema declaration itself: at least one field, no
// duplicate names, only supported types.
func Check(s *models.OutputSchema) error {
	const op = "Check"

	if len(s.Fields) == 0 {
		return NewSchemaError(op, ErrNoFields, s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return NewSchemaError(op, ErrDuplicateField, "empty field name")
		}
		if seen[f.Name] {
			return NewSchemaError(op, ErrDuplicateField, f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return NewSchemaError(op, ErrBadFieldType, fmt.Sprintf("field %q has type %q", f.Name, f.Type))
		}
	}
	return nil
}

// Compile produces the strict response-format schema for a declaration.
// Strict mode requires every property to be listed in "required", so
// optional columns become nullable unions instead of being omitted.
func Compile(s *models.OutputSchema) (json.RawMessage, error) {
	const op = "Compile"

	if err := Check(s); err != nil {
		return nil, WrapSchemaError(op, err, s.Name)
	}

	properties := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Required {
			properties[f.Name] = map[string]any{"type": string(f.Type)}
		} else {
			properties[f.Name] = map[string]any{"type": []string{string(f.Type), "null"}}
		}
		required = append(required, f.Name)
	}

	root := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"table": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"properties":           properties,
					"required":             required,
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"table"},
		"additionalProperties": false,
	}

	raw, err := json.Marshal(root)
	if err != nil {
		return nil, NewSchemaError(op, err, s.Name)
	}
	return raw, nil
}

// ResponseFormatName derives the response-format identifier sent with each
// request. The API restricts it to [a-zA-Z0-9_-], so anything else in the
// schema name is replaced.
func ResponseFormatName(s *models.OutputSchema) string {
	name := []byte(s.Name)
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			name[i] = '_'
		}
	}
	if len(name) == 0 {
		return "table"
	}
	return string(name)
}
