package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/api/shared"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/platform/logger"
	"github.com/phrazzld/compositor/internal/task"
	"github.com/phrazzld/compositor/internal/worker"
)

// QueueController is the part of worker.Controller the handlers drive.
type QueueController interface {
	AddTask(inputs domain.ImageInputs, outputPath string, cfg *domain.ProcessConfig, priority task.Priority) (uuid.UUID, error)
	SetTasks(specs []worker.TaskSpec) ([]uuid.UUID, error)
	RemoveTask(id uuid.UUID) (bool, error)
	SetPriority(id uuid.UUID, p task.Priority) error
	SetConcurrencyLimit(n int) (int, error)
	SetConfig(cfg *domain.ProcessConfig) error

	Entries() []task.Entry
	Entry(id uuid.UUID) (task.Entry, bool)
	Stats() domain.QueueStats
	LastRunStats() domain.QueueStats
	Status() domain.QueueStatus
	IsRunning() bool
	IsPaused() bool
	EstimatedRemaining() time.Duration

	Start() error
	Pause() error
	Resume() error
	Cancel() error
	Stop() error
}

var _ QueueController = (*worker.Controller)(nil)

// TaskHandler handles requests that edit the task queue.
type TaskHandler struct {
	controller QueueController
	logger     *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(controller QueueController, logger *slog.Logger) *TaskHandler {
	if controller == nil {
		panic("controller cannot be nil for TaskHandler")
	}
	if logger == nil {
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		controller: controller,
		logger:     logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /api/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	spec, err := req.toSpec()
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	id, err := h.controller.AddTask(spec.Inputs, spec.OutputPath, spec.Config, spec.Priority)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("task queued via api", "task_id", id)
	shared.RespondWithJSON(w, r, http.StatusCreated, TaskCreatedResponse{ID: id.String()})
}

// ReplaceTasks handles PUT /api/tasks. The queue is replaced as a whole or
// left empty.
func (h *TaskHandler) ReplaceTasks(w http.ResponseWriter, r *http.Request) {
	var req ReplaceTasksRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	specs := make([]worker.TaskSpec, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		spec, err := t.toSpec()
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		specs = append(specs, spec)
	}

	ids, err := h.controller.SetTasks(specs)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := TasksReplacedResponse{IDs: make([]string, len(ids))}
	for i, id := range ids {
		resp.IDs[i] = id.String()
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	entries := h.controller.Entries()
	resp := make([]TaskResponse, len(entries))
	for i, e := range entries {
		resp[i] = entryToResponse(e)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	entry, found := h.controller.Entry(id)
	if !found {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, entryToResponse(entry))
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	removed, err := h.controller.RemoveTask(id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if !removed {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPriority handles PUT /api/tasks/{id}/priority.
func (h *TaskHandler) SetPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	var req SetPriorityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := task.ParsePriority(req.Priority)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := h.controller.SetPriority(id, p); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	entry, found := h.controller.Entry(id)
	if !found {
		HandleAPIError(w, r, task.ErrTaskNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, entryToResponse(entry))
}
