package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"tableocr/internal/config"
	"tableocr/internal/imaging"
	"tableocr/internal/logger"
	"tableocr/internal/schema"
	"tableocr/internal/vote"
	"tableocr/pkg/models"
)

// OpenAIService implements Service and BatchService against the OpenAI
// chat completions and batch APIs.
type OpenAIService struct {
	client  *openai.Client
	cfg     *config.Config
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewService creates an extraction service from the configuration.
// The API key is required here even though config loading tolerates its
// absence for offline commands.
func NewService(cfg *config.Config) (*OpenAIService, error) {
	const op = "NewService"

	if cfg.OpenAIAPIKey == "" {
		return nil, NewOCRError(op, ErrAPIKeyMissing, "")
	}

	var client *openai.Client
	if cfg.OpenAIBaseURL != "" {
		clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
		clientConfig.BaseURL = cfg.OpenAIBaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(cfg.OpenAIAPIKey)
	}

	return NewServiceWithClient(client, cfg), nil
}

// NewServiceWithClient creates a service with a provided OpenAI client.
// This is primarily useful for testing with stub transports.
func NewServiceWithClient(client *openai.Client, cfg *config.Config) *OpenAIService {
	rpm := cfg.RequestsPerMin
	if rpm < 1 {
		rpm = 15
	}

	return &OpenAIService{
		client: client,
		cfg:    cfg,
		// Burst of rpm then steady refill matches a sliding-window cap of
		// rpm calls per minute closely enough for this API.
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		log:     logger.WithComponent("ocr-openai"),
	}
}

// ExtractPDF prepares page images from a PDF file and extracts one table
// per page.
func (s *OpenAIService) ExtractPDF(ctx context.Context, pdfPath, prompt string, sc *models.OutputSchema, opts ExtractOptions) (*models.Extraction, error) {
	pages, err := imaging.Pages(pdfPath, s.imagingOptions(opts))
	if err != nil {
		return nil, err
	}

	extraction, err := s.ExtractPages(ctx, pages, prompt, sc, opts.samplesOrOne())
	if err != nil {
		return nil, err
	}

	extraction.File = filepath.Base(pdfPath)
	return extraction, nil
}

// ExtractImage extracts a table from a single image file.
func (s *OpenAIService) ExtractImage(ctx context.Context, imagePath, prompt string, sc *models.OutputSchema, opts ExtractOptions) (*models.Extraction, error) {
	page, err := imaging.FromFile(imagePath, s.imagingOptions(opts))
	if err != nil {
		return nil, err
	}

	extraction, err := s.ExtractPages(ctx, []imaging.PageImage{page}, prompt, sc, opts.samplesOrOne())
	if err != nil {
		return nil, err
	}

	extraction.File = filepath.Base(imagePath)
	return extraction, nil
}

// ExtractPages extracts tables from prepared page images, one model call
// per page per sample. Any failed call fails the whole operation; there
// are no partial results and no retries.
func (s *OpenAIService) ExtractPages(ctx context.Context, pages []imaging.PageImage, prompt string, sc *models.OutputSchema, samples int) (*models.Extraction, error) {
	const op = "ExtractPages"

	if len(pages) == 0 {
		return nil, NewOCRError(op, errors.New("no pages to extract"), "")
	}
	if samples < 1 {
		samples = 1
	}

	format, err := responseFormat(sc)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int("pages", len(pages)).
		Int("samples", samples).
		Str("model", s.cfg.Model).
		Str("schema", sc.Name).
		Msg("Starting direct extraction")

	samplesByPage := make(map[int][][]models.TableRow, len(pages))
	var usage models.TokenUsage

	for _, page := range pages {
		for i := 1; i <= samples; i++ {
			rows, u, err := s.extractOne(ctx, page, prompt, format, sc)
			usage.Add(u)
			if err != nil {
				return nil, WrapOCRError(op, err, fmt.Sprintf("page %d sample %d", page.Page, i))
			}
			samplesByPage[page.Page] = append(samplesByPage[page.Page], rows)
		}
	}

	pageResults, err := BuildPages(samplesByPage, sc)
	if err != nil {
		return nil, err
	}

	extraction := &models.Extraction{
		Schema:      sc.Name,
		Model:       s.cfg.Model,
		Mode:        models.ModeDirect,
		Pages:       pageResults,
		Usage:       usage,
		ExtractedAt: time.Now(),
	}

	s.log.Info().
		Int("pages", len(pageResults)).
		Int("rows", extraction.RowCount()).
		Int("total_tokens", usage.TotalTokens).
		Msg("Direct extraction completed")

	return extraction, nil
}

// extractOne performs a single throttled model call for one page image
// and parses the response into validated rows.
func (s *OpenAIService) extractOne(ctx context.Context, page imaging.PageImage, prompt string, format *openai.ChatCompletionResponseFormat, sc *models.OutputSchema) ([]models.TableRow, models.TokenUsage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, models.TokenUsage{}, err
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, s.chatRequest(page, prompt, format))
	if err != nil {
		return nil, models.TokenUsage{}, mapAPIError(err)
	}

	usage := models.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	if len(resp.Choices) == 0 {
		return nil, usage, ErrEmptyResponse
	}

	content := schema.CleanModelOutput(resp.Choices[0].Message.Content)
	rows, err := schema.ParseTable([]byte(content), sc)
	if err != nil {
		return nil, usage, err
	}

	s.log.Debug().
		Int("page", page.Page).
		Int("rows", len(rows)).
		Int("total_tokens", usage.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("Page extracted")

	return rows, usage, nil
}

// chatRequest builds the chat completion body shared by the direct and
// batch paths: the page image and the prompt as user message parts, and
// the compiled schema as a strict response format.
func (s *OpenAIService) chatRequest(page imaging.PageImage, prompt string, format *openai.ChatCompletionResponseFormat) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: page.DataURI(),
						},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
				},
			},
		},
		Temperature:    s.cfg.Temperature,
		MaxTokens:      s.cfg.MaxOutputTokens,
		ResponseFormat: format,
	}
}

// responseFormat compiles the output schema into a strict json_schema
// response format, constraining the model to the table envelope.
func responseFormat(sc *models.OutputSchema) (*openai.ChatCompletionResponseFormat, error) {
	compiled, err := schema.Compile(sc)
	if err != nil {
		return nil, err
	}

	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schema.ResponseFormatName(sc),
			Schema: compiled,
			Strict: true,
		},
	}, nil
}

// BuildPages assembles per-page results from raw sample row sets, applying
// majority voting where at least vote.MinSamples samples are present.
// Both the direct path and batch collection go through here.
func BuildPages(samplesByPage map[int][][]models.TableRow, sc *models.OutputSchema) ([]models.PageResult, error) {
	const op = "BuildPages"

	pages := make([]int, 0, len(samplesByPage))
	for p := range samplesByPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	columns := sc.Columns()
	results := make([]models.PageResult, 0, len(pages))

	for _, p := range pages {
		samples := samplesByPage[p]
		result := models.PageResult{Page: p, Samples: len(samples)}

		if len(samples) >= vote.MinSamples {
			consensus, err := vote.Consensus(samples, columns)
			if err != nil {
				return nil, WrapOCRError(op, err, fmt.Sprintf("page %d", p))
			}
			result.Rows = consensus.Rows
			result.Agreement = consensus.Agreement
		} else if len(samples) > 0 {
			result.Rows = samples[0]
		}

		results = append(results, result)
	}

	return results, nil
}

// imagingOptions merges per-call options with the configured defaults.
// Zero values in the options fall back to the config.
func (s *OpenAIService) imagingOptions(opts ExtractOptions) imaging.Options {
	imgOpts := imaging.Options{
		DPI:         opts.DPI,
		CropSides:   opts.CropSides,
		Grayscale:   opts.Grayscale,
		StartPage:   opts.StartPage,
		MaxPages:    opts.MaxPages,
		JPEGQuality: s.cfg.JPEGQuality,
	}

	if imgOpts.DPI <= 0 {
		imgOpts.DPI = s.cfg.DPI
	}
	if imgOpts.CropSides <= 0 {
		imgOpts.CropSides = s.cfg.CropSides
	}
	if !imgOpts.Grayscale {
		imgOpts.Grayscale = s.cfg.Grayscale
	}

	return imgOpts
}

// mapAPIError folds transport and API errors into the package sentinels.
// Context cancellation passes through untouched.
func mapAPIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAPIKeyMissing, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %s", ErrAPIUnavailable, apiErr.Message)
		}
		return err
	}

	return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
}
