package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/compositor/internal/config"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/imaging"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

const removeBackgroundPrompt = "Remove the background from this image completely, " +
	"keeping only the main subject. Make the background transparent. " +
	"Preserve all details of the main subject with clean edges."

// contentGenerator is the subset of the genai client used by ImageService.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// ImageService implements imaging.Service using Gemini image generation.
type ImageService struct {
	logger         *slog.Logger
	generator      contentGenerator
	model          string
	maxRetries     int
	baseDelay      time.Duration
	requestTimeout time.Duration
}

var _ imaging.Service = (*ImageService)(nil)

// NewImageService creates a Gemini client and wraps it in an ImageService.
func NewImageService(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*ImageService, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newImageService(logger, cfg, client.Models)
}

func newImageService(logger *slog.Logger, cfg config.LLMConfig, generator contentGenerator) (*ImageService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: generator cannot be nil", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &ImageService{
		logger:         logger.With("component", "gemini_image_service"),
		generator:      generator,
		model:          cfg.ModelName,
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		requestTimeout: timeout,
	}, nil
}

// RemoveBackground asks the model to cut the subject out of image.
func (s *ImageService) RemoveBackground(
	ctx context.Context,
	image []byte,
	progress domain.ProgressFunc,
) ([]byte, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: remove background: %w", imaging.ErrService, ErrEmptyImage)
	}

	report(progress, 0, "Sending image for background removal")
	parts := []*genai.Part{
		inlineImage(image),
		{Text: removeBackgroundPrompt},
	}

	result, err := s.generate(ctx, "remove_background", parts)
	if err != nil {
		return nil, fmt.Errorf("%w: remove background: %w", imaging.ErrService, err)
	}
	report(progress, 100, "Background removed")
	return result, nil
}

// Composite asks the model to place product into background following cfg.
func (s *ImageService) Composite(
	ctx context.Context,
	background, product []byte,
	cfg *domain.ProcessConfig,
	progress domain.ProgressFunc,
) ([]byte, error) {
	if len(background) == 0 || len(product) == 0 {
		return nil, fmt.Errorf("%w: composite: %w", imaging.ErrService, ErrEmptyImage)
	}
	if cfg == nil {
		cfg = domain.DefaultProcessConfig()
	}

	report(progress, 0, "Sending images for compositing")
	parts := []*genai.Part{
		inlineImage(background),
		inlineImage(product),
		{Text: cfg.EffectivePrompt()},
	}

	result, err := s.generate(ctx, "composite", parts)
	if err != nil {
		return nil, fmt.Errorf("%w: composite: %w", imaging.ErrService, err)
	}
	report(progress, 100, "Composite generated")
	return result, nil
}

// generate sends parts to the model, retrying transient failures with
// exponential backoff, and returns the first inline image of the response.
func (s *ImageService) generate(ctx context.Context, operation string, parts []*genai.Part) ([]byte, error) {
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	genConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	backoff := retry.NewExponential(s.baseDelay)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(s.maxRetries), backoff)

	attempt := 0
	var result []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s.logger.InfoContext(ctx, "Making Gemini API call",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", s.maxRetries+1)

		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		start := time.Now()
		resp, err := s.generator.GenerateContent(reqCtx, s.model, contents, genConfig)
		if err != nil {
			if ctx.Err() == nil && isTransient(err) {
				s.logger.WarnContext(ctx, "Transient Gemini failure, will retry",
					"operation", operation,
					"attempt", attempt,
					"error", err)
				return retry.RetryableError(fmt.Errorf("%w: %w", ErrTransientFailure, err))
			}
			return err
		}

		data, err := extractImage(resp)
		if err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "Gemini API call succeeded",
			"operation", operation,
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
			"output_bytes", len(data))
		result = data
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Gemini API call failed",
			"operation", operation,
			"attempts", attempt,
			"error", err)
		return nil, err
	}

	return result, nil
}

func inlineImage(data []byte) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{
		Data:     data,
		MIMEType: domain.DetectImageType(data),
	}}
}

// extractImage returns the first inline image of resp.
func extractImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, ErrInvalidResponse
	}

	if fb := resp.PromptFeedback; fb != nil &&
		fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return nil, fmt.Errorf("%w: prompt blocked: %s", ErrContentBlocked, fb.BlockReason)
	}

	for _, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		switch candidate.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonImageSafety,
			genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			return nil, fmt.Errorf("%w: finish reason %s", ErrContentBlocked, candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}

	return nil, ErrInvalidResponse
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests ||
			apiErr.Code == http.StatusRequestTimeout ||
			apiErr.Code >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func report(progress domain.ProgressFunc, percent int, message string) {
	if progress != nil {
		progress(percent, message)
	}
}
