package store

import (
	"time"

	"tableocr/pkg/models"
)

// seedPrompts returns the starter prompts written on first use. The two
// register prompts target the name indexes of German civil registers;
// "basic" is the neutral default for anything else.
func seedPrompts() []models.Prompt {
	now := time.Now()
	return []models.Prompt{
		{
			Name:      "basic",
			Text:      "Transcribe the text as if you were reading it naturally.",
			CreatedAt: now,
		},
		{
			Name: "namensverzeichnisse_stamt4",
			Text: `The page contains a table with columns: "Fortlaufende Nummer", "Name und Vorname", "Wohnort", "Jahrgang", "Nr.", "Bemerkungen".
The Jahrgang is always 1900.
Extract the table into the provided structure. If there is no table, output an empty list. Often, a cell contains just a ditto ". Fill dittos appropriately.
Sometimes, the author later added another entry within the same cell. In these cases, pay special attention and create another row with the same fortlaufende Nummer, as this refers to two different people.`,
			CreatedAt: now,
		},
		{
			Name: "namensverzeichnisse_stamt_standard",
			Text: `The scanned page contains a table with columns: "Familienname", "Vornamen", "Religion", "Sterbetag", "Eintrag Nr.".
The Eintrag Nr. is always provided, and is either a number up to 4 digits (e.g., "45" or "2738"), or a number and a place abbreviation (e.g., "4/Perl." or "87/Trud." or "123 Milb.").
The Religion column is almost always empty. The Sterbetag is only provided in rare cases. When a Sterbetag is provided, we usually have a slash in the Eintrag Nr.
Sometimes the very edges of the scanned page can show a column from the previous or next page ("Eintrag Nr" oder "Familienname"). Ignore these. Consider only the main table on the page.
Extract the table into the provided structure. If there is no table on the page, output an empty list.`,
			CreatedAt: now,
		},
	}
}

// seedSchemas returns the starter output schemas matching the register
// prompts above.
func seedSchemas() []models.OutputSchema {
	now := time.Now()
	return []models.OutputSchema{
		{
			Name: "name_register_stamt4",
			Fields: []models.SchemaField{
				{Name: "Fortlaufende_Nummer", Type: models.FieldInteger, Required: true},
				{Name: "Nachname", Type: models.FieldString, Required: true},
				{Name: "Vornamen", Type: models.FieldString, Required: true},
				{Name: "Wohnort", Type: models.FieldString, Required: true},
				{Name: "Jahrgang", Type: models.FieldInteger, Required: true},
				{Name: "Nr.", Type: models.FieldString, Required: true},
				{Name: "Bemerkung", Type: models.FieldString, Required: false},
			},
			CreatedAt: now,
		},
		{
			Name: "name_register_standard",
			Fields: []models.SchemaField{
				{Name: "Familienname", Type: models.FieldString, Required: true},
				{Name: "Vornamen", Type: models.FieldString, Required: true},
				{Name: "Religion", Type: models.FieldString, Required: true},
				{Name: "Sterbetag", Type: models.FieldString, Required: true},
				{Name: "Eintrag_Nr", Type: models.FieldString, Required: true},
			},
			CreatedAt: now,
		},
	}
}
