package worker

import (
	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/events"
	"github.com/phrazzld/compositor/internal/task"
)

// eventObserver translates processor notifications into controller events.
type eventObserver struct {
	c *Controller
}

var _ task.Observer = (*eventObserver)(nil)

func (o *eventObserver) OnTaskStarted(id uuid.UUID) {
	o.c.emit(events.NewTaskStarted(id), true)
}

func (o *eventObserver) OnTaskProgress(id uuid.UUID, percent int, message string, stats domain.QueueStats) {
	o.c.emit(events.NewTaskProgress(id, percent, message), false)
	o.c.emit(events.NewQueueProgress(stats), false)
}

func (o *eventObserver) OnTaskComplete(t domain.Task, stats domain.QueueStats) {
	o.c.emit(events.NewTaskFinished(t), true)
	o.c.emit(events.NewQueueProgress(stats), false)
}

func (o *eventObserver) OnQueueComplete(stats domain.QueueStats) {
	o.c.emit(events.NewQueueCompleted(stats), true)
}

func (o *eventObserver) OnError(err error) {
	o.c.logger.Error("processing error", "error", err)
	o.c.emit(events.NewError(err), true)
}
