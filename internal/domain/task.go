package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of an image task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status ends a task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Common validation errors for Task
var (
	ErrEmptyTaskID         = errors.New("task ID cannot be empty")
	ErrEmptyBackgroundPath = errors.New("background image path cannot be empty")
	ErrEmptyProductPath    = errors.New("product image path cannot be empty")
	ErrProgressOutOfRange  = errors.New("task progress must be between 0 and 100")
)

// ImageInputs references the two source images of a task.
type ImageInputs struct {
	BackgroundPath string `json:"background_path"`
	ProductPath    string `json:"product_path"`
}

// Validate checks that both paths are present.
func (in ImageInputs) Validate() error {
	if strings.TrimSpace(in.BackgroundPath) == "" {
		return ErrEmptyBackgroundPath
	}
	if strings.TrimSpace(in.ProductPath) == "" {
		return ErrEmptyProductPath
	}
	return nil
}

// Task is a single unit of work: one image pair producing one output image.
// A task ends in exactly one terminal status; the only way out of a terminal
// status is ResetForRetry on a failed task.
type Task struct {
	ID          uuid.UUID      `json:"id"`
	Inputs      ImageInputs    `json:"inputs"`
	OutputPath  string         `json:"output_path,omitempty"`
	Config      *ProcessConfig `json:"config,omitempty"`
	Status      TaskStatus     `json:"status"`
	Progress    int            `json:"progress"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewTask creates a pending Task for the given inputs.
// outputPath and cfg are optional; an empty outputPath is derived at processing time.
func NewTask(inputs ImageInputs, outputPath string, cfg *ProcessConfig) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID: uuid.New(),
		Inputs: ImageInputs{
			BackgroundPath: strings.TrimSpace(inputs.BackgroundPath),
			ProductPath:    strings.TrimSpace(inputs.ProductPath),
		},
		OutputPath: strings.TrimSpace(outputPath),
		Config:     cfg,
		Status:     TaskStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if err := t.Inputs.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrProgressOutOfRange
	}

	if t.Config != nil {
		if err := t.Config.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// IsTerminal reports whether the task has finished.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// ProductName returns the file name of the product image, used in logs.
func (t *Task) ProductName() string {
	return filepath.Base(t.Inputs.ProductPath)
}

// EffectiveConfig returns the task's own configuration, falling back to def.
func (t *Task) EffectiveConfig(def *ProcessConfig) *ProcessConfig {
	if t.Config != nil {
		return t.Config
	}
	if def != nil {
		return def
	}
	return DefaultProcessConfig()
}

// MarkProcessing moves a pending task into processing with zero progress.
func (t *Task) MarkProcessing() error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusProcessing)
	}
	t.Status = TaskStatusProcessing
	t.Progress = 0
	t.touch()
	return nil
}

// UpdateProgress records incremental progress for a processing task.
// Values are clamped to 0..100. Progress of a task that is not processing is
// never changed; the return value reports whether the update was applied.
func (t *Task) UpdateProgress(progress int) bool {
	if t.Status != TaskStatusProcessing {
		return false
	}
	t.Progress = clampProgress(progress)
	t.touch()
	return true
}

// MarkCompleted finishes the task successfully and records its output.
func (t *Task) MarkCompleted(outputPath string) error {
	if t.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusCompleted)
	}
	if outputPath != "" {
		t.OutputPath = outputPath
	}
	t.Status = TaskStatusCompleted
	t.Progress = 100
	t.Error = ""
	t.finish()
	return nil
}

// MarkFailed finishes the task with an error message. Progress is left as is.
func (t *Task) MarkFailed(message string) error {
	if t.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusFailed)
	}
	t.Status = TaskStatusFailed
	t.Error = message
	t.finish()
	return nil
}

// MarkCancelled finishes a task that has not reached a terminal status.
func (t *Task) MarkCancelled() error {
	if t.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusCancelled)
	}
	t.Status = TaskStatusCancelled
	t.finish()
	return nil
}

// ResetForRetry returns a failed task to pending with zero progress.
// CompletedAt keeps the time of the first terminal transition.
func (t *Task) ResetForRetry() error {
	if t.Status != TaskStatusFailed {
		return fmt.Errorf("%w: %s -> %s (retry)", ErrInvalidTransition, t.Status, TaskStatusPending)
	}
	t.Status = TaskStatusPending
	t.Progress = 0
	t.Error = ""
	t.touch()
	return nil
}

// Snapshot returns a copy that shares no mutable state with t.
func (t *Task) Snapshot() Task {
	cp := *t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return cp
}

func (t *Task) touch() {
	t.UpdatedAt = time.Now().UTC()
}

func (t *Task) finish() {
	t.touch()
	if t.CompletedAt == nil {
		completed := t.UpdatedAt
		t.CompletedAt = &completed
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// isValidTaskStatus checks if the given status is a valid TaskStatus
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ProgressFunc receives incremental progress from a long-running operation.
type ProgressFunc func(percent int, message string)
