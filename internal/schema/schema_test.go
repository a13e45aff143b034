package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tableocr/pkg/models"
)

func registerSchema() *models.OutputSchema {
	return &models.OutputSchema{
		Name: "name-register",
		Fields: []models.SchemaField{
			{Name: "Familienname", Type: models.FieldString, Required: true},
			{Name: "Vornamen", Type: models.FieldString, Required: true},
			{Name: "Eintrag_Nr", Type: models.FieldInteger, Required: true},
			{Name: "Betrag", Type: models.FieldNumber, Required: false},
			{Name: "Verstorben", Type: models.FieldBoolean, Required: false},
		},
		CreatedAt: time.Now(),
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		schema  *models.OutputSchema
		wantErr error
	}{
		{
			name:   "valid schema",
			schema: registerSchema(),
		},
		{
			name:    "no fields",
			schema:  &models.OutputSchema{Name: "empty"},
			wantErr: ErrNoFields,
		},
		{
			name: "duplicate field",
			schema: &models.OutputSchema{
				Name: "dup",
				Fields: []models.SchemaField{
					{Name: "col", Type: models.FieldString},
					{Name: "col", Type: models.FieldInteger},
				},
			},
			wantErr: ErrDuplicateField,
		},
		{
			name: "unsupported type",
			schema: &models.OutputSchema{
				Name: "bad",
				Fields: []models.SchemaField{
					{Name: "col", Type: models.FieldType("decimal")},
				},
			},
			wantErr: ErrBadFieldType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.schema)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Check() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompileStrictShape(t *testing.T) {
	raw, err := Compile(registerSchema())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	var root struct {
		Type       string `json:"type"`
		Required   []string
		Properties struct {
			Table struct {
				Type  string `json:"type"`
				Items struct {
					Type                 string                     `json:"type"`
					Properties           map[string]json.RawMessage `json:"properties"`
					Required             []string                   `json:"required"`
					AdditionalProperties bool                       `json:"additionalProperties"`
				} `json:"items"`
			} `json:"table"`
		} `json:"properties"`
		AdditionalProperties bool `json:"additionalProperties"`
	}
	if err := json.Unmarshal(raw, &root); err != nil {
		t.Fatalf("compiled schema is not valid JSON: %v", err)
	}

	if root.Type != "object" || root.Properties.Table.Type != "array" {
		t.Errorf("unexpected envelope: root=%q table=%q", root.Type, root.Properties.Table.Type)
	}
	if root.AdditionalProperties || root.Properties.Table.Items.AdditionalProperties {
		t.Error("additionalProperties must be false at both levels")
	}

	items := root.Properties.Table.Items
	if len(items.Required) != 5 {
		t.Errorf("strict mode requires all fields listed in required, got %v", items.Required)
	}
	if len(items.Properties) != 5 {
		t.Errorf("expected 5 properties, got %d", len(items.Properties))
	}

	// Required field: plain type. Optional field: nullable union.
	var plain struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(items.Properties["Familienname"], &plain); err != nil || plain.Type != "string" {
		t.Errorf("required field should keep a plain type, got %s", items.Properties["Familienname"])
	}
	var union struct {
		Type []string `json:"type"`
	}
	if err := json.Unmarshal(items.Properties["Betrag"], &union); err != nil {
		t.Fatalf("optional field should carry a type union, got %s", items.Properties["Betrag"])
	}
	if len(union.Type) != 2 || union.Type[0] != "number" || union.Type[1] != "null" {
		t.Errorf("optional field union = %v, want [number null]", union.Type)
	}
}

func TestResponseFormatName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"name-register", "name-register"},
		{"Sterberegister 1900", "Sterberegister_1900"},
		{"", "table"},
	}
	for _, tt := range tests {
		got := ResponseFormatName(&models.OutputSchema{Name: tt.in})
		if got != tt.want {
			t.Errorf("ResponseFormatName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanModelOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "json fence",
			in:   "```json\n{\"table\": []}\n```",
			want: `{"table": []}`,
		},
		{
			name: "bare fence",
			in:   "```\n{\"table\": []}\n```",
			want: `{"table": []}`,
		},
		{
			name: "prose around the object",
			in:   "Here is the extracted table:\n{\"table\": [{\"a\": 1}]}\nLet me know if you need more.",
			want: `{"table": [{"a": 1}]}`,
		},
		{
			name: "already clean",
			in:   `{"table": []}`,
			want: `{"table": []}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanModelOutput(tt.in); got != tt.want {
				t.Errorf("CleanModelOutput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTable(t *testing.T) {
	s := registerSchema()

	t.Run("coerces declared types", func(t *testing.T) {
		payload := `{"table": [
			{"Familienname": "Huber", "Vornamen": "Anna Maria", "Eintrag_Nr": 2738, "Betrag": 12.5, "Verstorben": true},
			{"Familienname": "Moser", "Vornamen": 1900, "Eintrag_Nr": 45, "Betrag": null}
		]}`
		rows, err := ParseTable([]byte(payload), s)
		if err != nil {
			t.Fatalf("ParseTable() error = %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("got %d rows, want 2", len(rows))
		}

		first := rows[0]
		if got, ok := first["Eintrag_Nr"].(int64); !ok || got != 2738 {
			t.Errorf("Eintrag_Nr = %#v, want int64(2738)", first["Eintrag_Nr"])
		}
		if got, ok := first["Betrag"].(float64); !ok || got != 12.5 {
			t.Errorf("Betrag = %#v, want float64(12.5)", first["Betrag"])
		}
		if got, ok := first["Verstorben"].(bool); !ok || !got {
			t.Errorf("Verstorben = %#v, want true", first["Verstorben"])
		}

		second := rows[1]
		// Numeric-looking text columns keep their literal.
		if got, ok := second["Vornamen"].(string); !ok || got != "1900" {
			t.Errorf("Vornamen = %#v, want \"1900\"", second["Vornamen"])
		}
		if second["Betrag"] != nil {
			t.Errorf("null optional = %#v, want nil", second["Betrag"])
		}
		// Absent optional columns still appear, as nil.
		if v, present := second["Verstorben"]; !present || v != nil {
			t.Errorf("absent optional = %#v (present=%v), want nil", v, present)
		}
	})

	t.Run("rows round-trip the schema columns", func(t *testing.T) {
		payload := `{"table": [{"Familienname": "Huber", "Vornamen": "Anna", "Eintrag_Nr": 1}]}`
		rows, err := ParseTable([]byte(payload), s)
		if err != nil {
			t.Fatalf("ParseTable() error = %v", err)
		}
		for _, col := range s.Columns() {
			if _, ok := rows[0][col]; !ok {
				t.Errorf("column %q missing from parsed row", col)
			}
		}
		if len(rows[0]) != len(s.Fields) {
			t.Errorf("row has %d columns, want %d", len(rows[0]), len(s.Fields))
		}
	})

	errorTests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{
			name:    "not an object",
			payload: `[{"Familienname": "Huber"}]`,
			wantErr: ErrNotObject,
		},
		{
			name:    "missing table key",
			payload: `{"rows": []}`,
			wantErr: ErrMissingTable,
		},
		{
			name:    "unknown column",
			payload: `{"table": [{"Familienname": "Huber", "Vornamen": "A", "Eintrag_Nr": 1, "Beruf": "Schmied"}]}`,
			wantErr: ErrUnknownColumn,
		},
		{
			name:    "missing required column",
			payload: `{"table": [{"Familienname": "Huber", "Eintrag_Nr": 1}]}`,
			wantErr: ErrMissingColumn,
		},
		{
			name:    "null required column",
			payload: `{"table": [{"Familienname": null, "Vornamen": "A", "Eintrag_Nr": 1}]}`,
			wantErr: ErrBadValue,
		},
		{
			name:    "fractional integer",
			payload: `{"table": [{"Familienname": "Huber", "Vornamen": "A", "Eintrag_Nr": 1.5}]}`,
			wantErr: ErrBadValue,
		},
		{
			name:    "boolean for string",
			payload: `{"table": [{"Familienname": true, "Vornamen": "A", "Eintrag_Nr": 1}]}`,
			wantErr: ErrBadValue,
		},
	}

	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.payload), s)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseTable() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
