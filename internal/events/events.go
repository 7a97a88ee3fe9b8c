package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
)

// Type identifies the kind of an Event
type Type string

// Event types
const (
	TypeTaskStarted    Type = "task_started"
	TypeTaskProgress   Type = "task_progress"
	TypeTaskCompleted  Type = "task_completed"
	TypeTaskFailed     Type = "task_failed"
	TypeTaskCancelled  Type = "task_cancelled"
	TypeQueueProgress  Type = "queue_progress"
	TypeQueueCompleted Type = "queue_completed"
	TypeError          Type = "error"
)

// Event is a single notification about a task or the queue.
type Event struct {
	// ID is a unique identifier for this event
	ID   uuid.UUID `json:"id"`
	Type Type      `json:"type"`

	TaskID     *uuid.UUID         `json:"task_id,omitempty"`
	Percent    int                `json:"percent,omitempty"`
	Message    string             `json:"message,omitempty"`
	OutputPath string             `json:"output_path,omitempty"`
	Error      string             `json:"error,omitempty"`
	Task       *domain.Task       `json:"task,omitempty"`
	Stats      *domain.QueueStats `json:"stats,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

func newEvent(t Type) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      t,
		CreatedAt: time.Now().UTC(),
	}
}

// NewTaskStarted reports that a task moved to processing.
func NewTaskStarted(taskID uuid.UUID) *Event {
	e := newEvent(TypeTaskStarted)
	e.TaskID = &taskID
	return e
}

// NewTaskProgress reports incremental progress of a task.
func NewTaskProgress(taskID uuid.UUID, percent int, message string) *Event {
	e := newEvent(TypeTaskProgress)
	e.TaskID = &taskID
	e.Percent = percent
	e.Message = message
	return e
}

// NewTaskFinished reports a task that reached a terminal status. The event
// type follows the status: completed, failed or cancelled.
func NewTaskFinished(task domain.Task) *Event {
	var e *Event
	switch task.Status {
	case domain.TaskStatusCompleted:
		e = newEvent(TypeTaskCompleted)
		e.OutputPath = task.OutputPath
	case domain.TaskStatusFailed:
		e = newEvent(TypeTaskFailed)
		e.Error = task.Error
	default:
		e = newEvent(TypeTaskCancelled)
	}
	id := task.ID
	e.TaskID = &id
	e.Percent = task.Progress
	e.Task = &task
	return e
}

// NewQueueProgress reports updated queue statistics.
func NewQueueProgress(stats domain.QueueStats) *Event {
	e := newEvent(TypeQueueProgress)
	e.Stats = &stats
	e.Percent = stats.Progress
	return e
}

// NewQueueCompleted reports the final statistics of a run.
func NewQueueCompleted(stats domain.QueueStats) *Event {
	e := newEvent(TypeQueueCompleted)
	e.Stats = &stats
	e.Percent = stats.Progress
	return e
}

// NewError reports a fault in the processing loop.
func NewError(err error) *Event {
	e := newEvent(TypeError)
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsTaskEvent reports whether the event concerns a single task.
func (e *Event) IsTaskEvent() bool {
	return e.TaskID != nil
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the host to publish events without knowledge of the handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
