package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"tableocr/internal/logger"
)

type Config struct {
	// OpenAI Configuration
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	Model           string
	RequestsPerMin  int
	Temperature     float32
	MaxOutputTokens int

	// Store Configuration
	DataDir string

	// Image Preparation
	DPI         int
	CropSides   int
	Grayscale   bool
	JPEGQuality int

	// Processing
	Samples      int
	Workers      int
	PollInterval time.Duration

	// HTTP Server
	ServerAddr string

	// Google Sheets Export
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		Model:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		RequestsPerMin:  parseIntEnv("OPENAI_RPM", 15),
		Temperature:     parseFloatEnv("OPENAI_TEMPERATURE", 0.6),
		MaxOutputTokens: parseIntEnv("OPENAI_MAX_OUTPUT_TOKENS", 8192),

		DataDir: getEnv("TABLEOCR_DATA_DIR", "./data"),

		DPI:         parseIntEnv("TABLEOCR_DPI", 200),
		CropSides:   parseIntEnv("TABLEOCR_CROP_SIDES", 0),
		Grayscale:   parseBoolEnv("TABLEOCR_GRAYSCALE", false),
		JPEGQuality: parseIntEnv("TABLEOCR_JPEG_QUALITY", 85),

		Samples:      parseIntEnv("TABLEOCR_SAMPLES", 1),
		Workers:      parseIntEnv("TABLEOCR_WORKERS", 2),
		PollInterval: parseDurationEnv("TABLEOCR_POLL_INTERVAL", 60*time.Second),

		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		GoogleSheetURL:       getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet: getEnv("GOOGLE_SHEET_WORKSHEET", "Extractions"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:     getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validate checks value ranges. The API key is deliberately not checked
// here: store-only commands work offline, and the OCR service verifies
// the key when it is constructed.
func (c *Config) validate() error {
	if c.DPI <= 0 {
		return fmt.Errorf("TABLEOCR_DPI must be positive, got %d", c.DPI)
	}
	if c.CropSides < 0 {
		return fmt.Errorf("TABLEOCR_CROP_SIDES must not be negative, got %d", c.CropSides)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("TABLEOCR_JPEG_QUALITY must be in 1..100, got %d", c.JPEGQuality)
	}
	if c.Samples < 1 {
		return fmt.Errorf("TABLEOCR_SAMPLES must be at least 1, got %d", c.Samples)
	}
	if c.Samples == 2 {
		return fmt.Errorf("TABLEOCR_SAMPLES of 2 cannot form a majority, use 1 or at least 3")
	}
	if c.Workers < 1 {
		return fmt.Errorf("TABLEOCR_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.RequestsPerMin < 1 {
		return fmt.Errorf("OPENAI_RPM must be at least 1, got %d", c.RequestsPerMin)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("OPENAI_TEMPERATURE must be in 0..2, got %g", c.Temperature)
	}
	if c.MaxOutputTokens < 1 {
		return fmt.Errorf("OPENAI_MAX_OUTPUT_TOKENS must be positive, got %d", c.MaxOutputTokens)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("TABLEOCR_POLL_INTERVAL must be at least 1s, got %s", c.PollInterval)
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
