package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"tableocr/internal/logger"
	"tableocr/pkg/models"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage extraction projects",
	Long: `Manage projects. A project bundles uploaded PDF files with one prompt
and one output schema; every file in the project is processed with that
pair. Results live inside the project until exported.

Deleting a project removes its uploads, results and batch job records.`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project",
	Example: `  # A register volume with the seeded prompt and schema
  tableocr project create reg1870 --prompt basic --schema name_register_standard`,
	Args: cobra.ExactArgs(1),
	RunE: runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var projectShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a project and its files",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a project and all its data",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectDeleteCmd)

	projectCreateCmd.Flags().String("prompt", "", "Stored prompt name (required)")
	projectCreateCmd.Flags().String("schema", "", "Stored schema name (required)")
	_ = projectCreateCmd.MarkFlagRequired("prompt")
	_ = projectCreateCmd.MarkFlagRequired("schema")
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("project")

	promptName, _ := cmd.Flags().GetString("prompt")
	schemaName, _ := cmd.Flags().GetString("schema")
	name := args[0]

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	p, err := st.CreateProject(name, promptName, schemaName)
	if err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Project %q created (prompt %q, schema %q)\n", p.Name, p.Prompt, p.Schema)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("project")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	projects, err := st.ListProjects()
	if err != nil {
		return handleStoreError(err, log)
	}

	if len(projects) == 0 {
		fmt.Println("No projects yet. Create one with: tableocr project create <name> --prompt <p> --schema <s>")
		return nil
	}

	fmt.Printf("%-20s %-20s %-28s %-6s %s\n", "NAME", "PROMPT", "SCHEMA", "FILES", "CREATED")
	for _, p := range projects {
		fmt.Printf("%-20s %-20s %-28s %-6d %s\n",
			p.Name, p.Prompt, p.Schema, len(p.Files), p.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("project")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	p, err := st.GetProject(args[0])
	if err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Project:  %s\n", p.Name)
	fmt.Printf("Prompt:   %s\n", p.Prompt)
	fmt.Printf("Schema:   %s\n", p.Schema)
	fmt.Printf("Created:  %s\n", p.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("Files:    %d\n", len(p.Files))

	if len(p.Files) == 0 {
		return nil
	}

	fmt.Printf("\n%-32s %-12s %-6s %s\n", "FILE", "STATUS", "PAGES", "NOTE")
	for _, f := range p.Files {
		note := f.Error
		if f.Status == models.StatusDone && f.ProcessedAt != nil {
			note = "processed " + f.ProcessedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-32s %-12s %-6d %s\n", f.Name, f.Status, f.Pages, truncate(note, 48))
	}
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("project")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	if err := st.DeleteProject(args[0]); err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Project %q deleted\n", args[0])
	return nil
}
