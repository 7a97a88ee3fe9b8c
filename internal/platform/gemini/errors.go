package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the adapter is constructed with unusable settings.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the model answers without an image.
	ErrInvalidResponse = errors.New("gemini response contained no image")

	// ErrContentBlocked is returned when the request or response was blocked by safety filters.
	ErrContentBlocked = errors.New("content blocked by gemini safety filters")

	// ErrTransientFailure marks failures that are worth retrying.
	ErrTransientFailure = errors.New("transient gemini failure")

	// ErrEmptyImage is returned when an operation is called without image data.
	ErrEmptyImage = errors.New("image data cannot be empty")
)
