package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"tableocr/internal/logger"
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage the PDF files of a project",
	Long: `Add, list and remove the PDF files of a project. Adding copies the file
into the project's uploads directory; the original stays untouched. A
fresh file starts unprocessed and keeps its status across restarts.`,
}

var fileAddCmd = &cobra.Command{
	Use:   "add [project] [pdf-file...]",
	Short: "Copy one or more PDFs into a project",
	Example: `  tableocr file add reg1870 band_1.pdf band_2.pdf
  tableocr file add reg1870 ./scans/*.pdf`,
	Args: cobra.MinimumNArgs(2),
	RunE: runFileAdd,
}

var fileListCmd = &cobra.Command{
	Use:   "list [project]",
	Short: "List the files of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileList,
}

var fileRemoveCmd = &cobra.Command{
	Use:   "remove [project] [file-name]",
	Short: "Remove a file, its result and its upload copy",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileRemove,
}

func init() {
	rootCmd.AddCommand(fileCmd)
	fileCmd.AddCommand(fileAddCmd)
	fileCmd.AddCommand(fileListCmd)
	fileCmd.AddCommand(fileRemoveCmd)
}

func runFileAdd(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("file")

	project := args[0]
	paths := args[1:]

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	for _, path := range paths {
		if _, err := validateScanFile(path, log); err != nil {
			return err
		}
		// Projects hold PDFs only; single images go through the ocr command.
		if strings.ToLower(filepath.Ext(path)) != ".pdf" {
			return fmt.Errorf("only PDF files can be added to a project, got %s. Use the ocr command for single images", filepath.Base(path))
		}
		entry, err := st.AddFile(project, path)
		if err != nil {
			return handleStoreError(err, log)
		}
		fmt.Printf("Added %s to project %q\n", entry.Name, project)
	}

	return nil
}

func runFileList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("file")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	files, err := st.ListFiles(args[0])
	if err != nil {
		return handleStoreError(err, log)
	}

	if len(files) == 0 {
		fmt.Println("No files in this project. Add one with: tableocr file add <project> <pdf>")
		return nil
	}

	fmt.Printf("%-32s %-12s %-6s %s\n", "FILE", "STATUS", "PAGES", "NOTE")
	for _, f := range files {
		fmt.Printf("%-32s %-12s %-6d %s\n", f.Name, f.Status, f.Pages, truncate(f.Error, 48))
	}
	return nil
}

func runFileRemove(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("file")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	if err := st.RemoveFile(args[0], args[1]); err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Removed %s from project %q\n", args[1], args[0])
	return nil
}
