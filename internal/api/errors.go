package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/compositor/internal/api/shared"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/store"
	"github.com/phrazzld/compositor/internal/task"
	"github.com/phrazzld/compositor/internal/worker"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, store.ErrTaskRecordNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, worker.ErrRunning),
		errors.Is(err, worker.ErrNotRunning),
		errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueEmpty),
		errors.Is(err, task.ErrNotPending),
		errors.Is(err, worker.ErrClosed):
		return http.StatusConflict

	// Invalid input
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrEmptyBackgroundPath),
		errors.Is(err, domain.ErrEmptyProductPath),
		errors.Is(err, task.ErrInvalidPriority):
		return http.StatusUnprocessableEntity

	case errors.Is(err, worker.ErrCommandQueueFull):
		return http.StatusTooManyRequests

	case errors.Is(err, worker.ErrStopTimeout):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err that does not
// expose internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrTaskRecordNotFound), errors.Is(err, store.ErrNotFound):
		return "Task history not found"
	case errors.Is(err, worker.ErrRunning):
		return "Queue is being processed"
	case errors.Is(err, worker.ErrNotRunning):
		return "Queue is not being processed"
	case errors.Is(err, worker.ErrClosed):
		return "Queue controller is shut down"
	case errors.Is(err, task.ErrQueueFull):
		return "Queue is full"
	case errors.Is(err, task.ErrQueueEmpty):
		return "Queue is empty"
	case errors.Is(err, task.ErrNotPending):
		return "Task is not pending"
	case errors.Is(err, task.ErrInvalidPriority):
		return "Invalid priority"
	case errors.Is(err, domain.ErrImageNotFound):
		return "Image file not found"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return "Unsupported image format"
	case errors.Is(err, domain.ErrImageTooLarge):
		return "Image file too large"
	case errors.Is(err, domain.ErrImageCorrupted):
		return "Image file corrupted or unreadable"
	case errors.Is(err, domain.ErrEmptyBackgroundPath):
		return "Background image path is required"
	case errors.Is(err, domain.ErrEmptyProductPath):
		return "Product image path is required"
	case errors.Is(err, domain.ErrInvalidConfig):
		return "Invalid processing configuration"
	case errors.Is(err, domain.ErrInvalidInput):
		return "Invalid task input"
	case errors.Is(err, worker.ErrCommandQueueFull):
		return "Too many pending commands, try again"
	case errors.Is(err, worker.ErrStopTimeout):
		return "Processing did not stop in time"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a short message naming
// the first offending field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// message overrides the default safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
