package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"tableocr/internal/config"
	"tableocr/internal/ocr"
	"tableocr/internal/store"
)

// loadSetup loads the configuration and opens the project store. Commands
// that only touch the store work without an API key.
func loadSetup(log zerolog.Logger) (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Configuration is invalid")
		return nil, nil, fmt.Errorf("configuration is invalid: %w", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Error().
			Err(err).
			Str("dir", cfg.DataDir).
			Msg("Failed to open project store")
		return nil, nil, fmt.Errorf("failed to open project store at %s: %w", cfg.DataDir, err)
	}

	return cfg, st, nil
}

// newExtractionService creates the OpenAI service used for both direct
// and batch extraction.
func newExtractionService(cfg *config.Config, log zerolog.Logger) (*ocr.OpenAIService, error) {
	if cfg.OpenAIAPIKey == "" {
		log.Error().Msg("OpenAI API key not configured")
		return nil, fmt.Errorf("OpenAI API key not configured. Please set it:\n\n" +
			"1. Export OPENAI_API_KEY in your shell:\n" +
			"   export OPENAI_API_KEY=sk-...\n\n" +
			"2. Or add OPENAI_API_KEY=sk-... to your .env file\n\n" +
			"Optional: set OPENAI_BASE_URL to use a compatible gateway")
	}

	svc, err := ocr.NewService(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create extraction service")
		return nil, fmt.Errorf("failed to create extraction service: %w", err)
	}

	log.Debug().Str("model", cfg.Model).Msg("Extraction service created")
	return svc, nil
}

// resolveSamples merges the --samples flag with the configured default.
// A count of 2 cannot form a majority and is rejected, matching the
// TABLEOCR_SAMPLES validation.
func resolveSamples(flagValue, configured int) (int, error) {
	if flagValue == 2 {
		return 0, fmt.Errorf("--samples 2 cannot form a majority, use 1 or at least 3")
	}
	if flagValue == 0 {
		return configured, nil
	}
	return flagValue, nil
}

// handleStoreError turns store errors into actionable messages.
func handleStoreError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Store operation failed")

	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("record not found: %w", err)
	case errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("record already exists: %w", err)
	case errors.Is(err, store.ErrInvalidName):
		return fmt.Errorf("invalid name: use letters, digits, dot, dash or underscore (max 64 characters)")
	case errors.Is(err, store.ErrPromptInUse):
		return fmt.Errorf("%w. Delete those projects first, or keep the prompt", err)
	case errors.Is(err, store.ErrSchemaInUse):
		return fmt.Errorf("%w. Delete those projects first, or keep the schema", err)
	default:
		return fmt.Errorf("store operation failed: %w", err)
	}
}

// truncate shortens s for single-line table output.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
