package imaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/phrazzld/compositor/internal/domain"
)

// Progress milestones reported by Pipeline.Execute
const (
	progressValidated    = 10
	progressLoaded       = 20
	progressRemovingBG   = 30
	progressBGRemoved    = 40
	progressCompositing  = 60
	progressComposited   = 80
	progressSaving       = 90
	progressDone         = 100
	defaultOutputSuffix  = "_composite"
	defaultOutputExt     = ".png"
	outputFilePermission = 0o644
)

// Pipeline executes one task against a Service.
type Pipeline struct {
	service Service
	logger  *slog.Logger
}

// NewPipeline creates a Pipeline that delegates AI work to service.
func NewPipeline(service Service, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		service: service,
		logger:  logger.With("component", "imaging_pipeline"),
	}
}

// Execute processes task and returns the path of the written output image.
func (p *Pipeline) Execute(
	ctx context.Context,
	task domain.Task,
	cfg *domain.ProcessConfig,
	progress domain.ProgressFunc,
) (string, error) {
	if cfg == nil {
		cfg = domain.DefaultProcessConfig()
	}
	if progress == nil {
		progress = func(int, string) {}
	}
	logger := p.logger.With("task_id", task.ID, "product", task.ProductName())

	progress(0, "Validating input images...")
	if err := domain.ValidateInputs(task.Inputs); err != nil {
		return "", err
	}
	progress(progressValidated, "Input images validated")

	background, err := os.ReadFile(task.Inputs.BackgroundPath)
	if err != nil {
		return "", fmt.Errorf("%w: read background: %v", domain.ErrImageCorrupted, err)
	}
	product, err := os.ReadFile(task.Inputs.ProductPath)
	if err != nil {
		return "", fmt.Errorf("%w: read product: %v", domain.ErrImageCorrupted, err)
	}
	progress(progressLoaded, "Images loaded")

	if cfg.RemoveBackground {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		progress(progressRemovingBG, "Removing product background...")
		product, err = p.service.RemoveBackground(ctx, product,
			scaled(progress, progressRemovingBG, progressBGRemoved))
		if err != nil {
			return "", fmt.Errorf("remove background: %w", err)
		}
		if len(product) == 0 {
			return "", fmt.Errorf("%w: background removal returned no image", ErrService)
		}
		logger.Debug("product background removed", "bytes", len(product))
		progress(progressBGRemoved, "Background removed")
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	progress(progressCompositing, "Compositing images...")
	result, err := p.service.Composite(ctx, background, product, cfg,
		scaled(progress, progressCompositing, progressComposited))
	if err != nil {
		return "", fmt.Errorf("composite: %w", err)
	}
	if len(result) == 0 {
		return "", fmt.Errorf("%w: composite returned no image", ErrService)
	}
	progress(progressComposited, "Composite generated")

	progress(progressSaving, "Saving result...")
	outputPath := OutputPath(task, cfg, result)
	if err := writeFileAtomic(outputPath, result); err != nil {
		return "", fmt.Errorf("save output: %w", err)
	}
	progress(progressDone, "Done")

	logger.Info("composite written", "output_path", outputPath, "bytes", len(result))
	return outputPath, nil
}

// OutputPath returns the explicit output path of task, or derives one from
// the product file name, the configured suffix and the type of data.
func OutputPath(task domain.Task, cfg *domain.ProcessConfig, data []byte) string {
	if task.OutputPath != "" {
		return task.OutputPath
	}

	dir := cfg.Output.Directory
	if dir == "" {
		dir = filepath.Dir(task.Inputs.BackgroundPath)
	}
	suffix := cfg.Output.Suffix
	if suffix == "" {
		suffix = defaultOutputSuffix
	}

	ext := defaultOutputExt
	if len(data) > 0 {
		if detected := mimetype.Detect(data); strings.HasPrefix(detected.String(), "image/") {
			ext = detected.Extension()
		}
	}

	base := filepath.Base(task.Inputs.ProductPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+suffix+ext)
}

// scaled maps 0..100 progress from a service call into [lo, hi].
func scaled(progress domain.ProgressFunc, lo, hi int) domain.ProgressFunc {
	return func(percent int, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		progress(lo+(hi-lo)*percent/100, message)
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".compositor-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, outputFilePermission); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
