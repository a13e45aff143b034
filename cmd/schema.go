package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"tableocr/internal/logger"
	"tableocr/internal/schema"
	"tableocr/pkg/models"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage stored output schemas",
	Long: `Manage the output schemas that define the columns of extracted tables.
Field order is preserved and becomes the column order in every CSV and
Sheets export.

Supported field types are string, integer, number and boolean. Optional
fields may come back empty; required fields must be present in every
extracted row.

Schemas referenced by a project cannot be deleted.`,
}

var schemaAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Create or replace an output schema",
	Long: `Create or replace an output schema from repeated --field flags. Each
flag takes name:type or name:type:required; fields default to optional.
The flag order defines the column order.`,
	Example: `  # A register schema with two required and two optional columns
  tableocr schema add register_1880 \
    --field Familienname:string:required \
    --field Vorname:string:required \
    --field Beruf:string \
    --field Eintrag_Nr:integer:required`,
	Args: cobra.ExactArgs(1),
	RunE: runSchemaAdd,
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored schemas",
	Args:  cobra.NoArgs,
	RunE:  runSchemaList,
}

var schemaShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print a schema as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaShow,
}

var schemaDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaDelete,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaAddCmd)
	schemaCmd.AddCommand(schemaListCmd)
	schemaCmd.AddCommand(schemaShowCmd)
	schemaCmd.AddCommand(schemaDeleteCmd)

	schemaAddCmd.Flags().StringArray("field", nil, "Field as name:type[:required], repeatable, order = column order")
	_ = schemaAddCmd.MarkFlagRequired("field")
}

// parseFieldSpec parses one --field value of the form name:type[:required].
func parseFieldSpec(spec string) (models.SchemaField, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return models.SchemaField{}, fmt.Errorf("invalid field spec %q: use name:type[:required]", spec)
	}

	field := models.SchemaField{
		Name: strings.TrimSpace(parts[0]),
		Type: models.FieldType(strings.TrimSpace(parts[1])),
	}

	if len(parts) == 3 {
		switch strings.TrimSpace(parts[2]) {
		case "required":
			field.Required = true
		case "optional", "":
		default:
			return models.SchemaField{}, fmt.Errorf("invalid field spec %q: third part must be required or optional", spec)
		}
	}

	return field, nil
}

func runSchemaAdd(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("schema")

	fieldSpecs, _ := cmd.Flags().GetStringArray("field")
	name := args[0]

	sc := &models.OutputSchema{Name: name}
	for _, spec := range fieldSpecs {
		field, err := parseFieldSpec(spec)
		if err != nil {
			return err
		}
		sc.Fields = append(sc.Fields, field)
	}

	if err := schema.Check(sc); err != nil {
		log.Error().Err(err).Str("schema", name).Msg("Schema declaration is invalid")
		return fmt.Errorf("schema declaration is invalid: %w", err)
	}

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	if err := st.SaveSchema(sc); err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Schema %q saved with %d fields\n", name, len(sc.Fields))
	return nil
}

func runSchemaList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("schema")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	schemas, err := st.ListSchemas()
	if err != nil {
		return handleStoreError(err, log)
	}

	if len(schemas) == 0 {
		fmt.Println("No schemas stored.")
		return nil
	}

	fmt.Printf("%-28s %-8s %s\n", "NAME", "FIELDS", "COLUMNS")
	for _, sc := range schemas {
		fmt.Printf("%-28s %-8d %s\n", sc.Name, len(sc.Fields), truncate(strings.Join(sc.Columns(), ", "), 60))
	}
	return nil
}

func runSchemaShow(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("schema")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	sc, err := st.GetSchema(args[0])
	if err != nil {
		return handleStoreError(err, log)
	}

	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runSchemaDelete(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("schema")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	if err := st.DeleteSchema(args[0]); err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Schema %q deleted\n", args[0])
	return nil
}
