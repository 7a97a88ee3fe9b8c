package imaging

import (
	"context"
	"errors"

	"github.com/phrazzld/compositor/internal/domain"
)

// ErrService is wrapped by every failure reported by a Service.
var ErrService = errors.New("image service error")

// Service is the external AI collaborator. Implementations report failures
// wrapping ErrService and may call progress with 0..100.
type Service interface {
	// RemoveBackground returns the image with its background made transparent.
	RemoveBackground(ctx context.Context, image []byte, progress domain.ProgressFunc) ([]byte, error)

	// Composite places product into background following cfg.
	Composite(
		ctx context.Context,
		background, product []byte,
		cfg *domain.ProcessConfig,
		progress domain.ProgressFunc,
	) ([]byte, error)
}
