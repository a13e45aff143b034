package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"tableocr/internal/logger"
	"tableocr/pkg/models"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Manage stored extraction prompts",
	Long: `Manage the named prompt texts sent to the vision model. A fresh store
comes seeded with starter prompts for German historical registers; add
your own for other document types.

Prompts referenced by a project cannot be deleted.`,
}

var promptAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Create or replace a prompt",
	Example: `  # Inline text
  tableocr prompt add census --text "Transcribe every row of the census table."

  # Longer text from a file
  tableocr prompt add church_book --file ./prompts/church_book.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runPromptAdd,
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored prompts",
	Args:  cobra.NoArgs,
	RunE:  runPromptList,
}

var promptShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print the full text of a prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptShow,
}

var promptDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptDelete,
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.AddCommand(promptAddCmd)
	promptCmd.AddCommand(promptListCmd)
	promptCmd.AddCommand(promptShowCmd)
	promptCmd.AddCommand(promptDeleteCmd)

	promptAddCmd.Flags().String("text", "", "Prompt text")
	promptAddCmd.Flags().String("file", "", "Read prompt text from a file")
}

func runPromptAdd(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("prompt")

	text, _ := cmd.Flags().GetString("text")
	textFile, _ := cmd.Flags().GetString("file")
	name := args[0]

	if text == "" && textFile == "" {
		return fmt.Errorf("provide the prompt text with --text or --file")
	}
	if text != "" && textFile != "" {
		return fmt.Errorf("--text and --file are mutually exclusive")
	}
	if textFile != "" {
		data, err := os.ReadFile(textFile)
		if err != nil {
			log.Error().Err(err).Str("file", textFile).Msg("Failed to read prompt file")
			return fmt.Errorf("failed to read prompt file: %w", err)
		}
		text = string(data)
	}

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	p := &models.Prompt{Name: name, Text: text}
	if err := st.SavePrompt(p); err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Prompt %q saved (%d characters)\n", name, len(text))
	return nil
}

func runPromptList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("prompt")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	prompts, err := st.ListPrompts()
	if err != nil {
		return handleStoreError(err, log)
	}

	if len(prompts) == 0 {
		fmt.Println("No prompts stored.")
		return nil
	}

	fmt.Printf("%-24s %-12s %s\n", "NAME", "CREATED", "TEXT")
	for _, p := range prompts {
		fmt.Printf("%-24s %-12s %s\n", p.Name, p.CreatedAt.Format("2006-01-02"), truncate(p.Text, 60))
	}
	return nil
}

func runPromptShow(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("prompt")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	p, err := st.GetPrompt(args[0])
	if err != nil {
		return handleStoreError(err, log)
	}

	fmt.Println(p.Text)
	return nil
}

func runPromptDelete(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("prompt")

	_, st, err := loadSetup(log)
	if err != nil {
		return err
	}

	if err := st.DeletePrompt(args[0]); err != nil {
		return handleStoreError(err, log)
	}

	fmt.Printf("Prompt %q deleted\n", args[0])
	return nil
}
