package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrInvalidInput is returned when a task's inputs are missing or unreadable.
	// The image-specific errors below wrap it, so errors.Is(err, ErrInvalidInput)
	// matches all of them.
	ErrInvalidInput = errors.New("invalid task input")

	// ErrImageNotFound is returned when an input image does not exist.
	ErrImageNotFound = fmt.Errorf("%w: image not found", ErrInvalidInput)

	// ErrUnsupportedFormat is returned when an input image has an unsupported format.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported image format", ErrInvalidInput)

	// ErrImageTooLarge is returned when an input image exceeds MaxImageFileSize.
	ErrImageTooLarge = fmt.Errorf("%w: image too large", ErrInvalidInput)

	// ErrImageCorrupted is returned when an input image cannot be read.
	ErrImageCorrupted = fmt.Errorf("%w: image corrupted or unreadable", ErrInvalidInput)

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status change would leave a terminal state.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrInvalidConfig is returned when a process configuration is not valid.
	ErrInvalidConfig = errors.New("invalid process configuration")
)
