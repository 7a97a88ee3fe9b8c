package task

import (
	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
)

// Observer receives notifications while a Processor runs. Methods are called
// from the processor's goroutines and must not block for long.
type Observer interface {
	// OnTaskStarted is called after an entry moves to processing.
	OnTaskStarted(id uuid.UUID)

	// OnTaskProgress forwards collaborator progress together with queue stats.
	OnTaskProgress(id uuid.UUID, percent int, message string, stats domain.QueueStats)

	// OnTaskComplete is called once per attempt that ends in a terminal status.
	OnTaskComplete(task domain.Task, stats domain.QueueStats)

	// OnQueueComplete is called once at the end of every run.
	OnQueueComplete(stats domain.QueueStats)

	// OnError reports a fault in the orchestration itself.
	OnError(err error)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

// OnTaskStarted implements Observer.
func (NopObserver) OnTaskStarted(uuid.UUID) {}

// OnTaskProgress implements Observer.
func (NopObserver) OnTaskProgress(uuid.UUID, int, string, domain.QueueStats) {}

// OnTaskComplete implements Observer.
func (NopObserver) OnTaskComplete(domain.Task, domain.QueueStats) {}

// OnQueueComplete implements Observer.
func (NopObserver) OnQueueComplete(domain.QueueStats) {}

// OnError implements Observer.
func (NopObserver) OnError(error) {}
