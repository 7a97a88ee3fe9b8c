package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/store"
	"github.com/phrazzld/compositor/internal/task"
	"github.com/phrazzld/compositor/internal/worker"
)

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	BackgroundPath string                `json:"background_path" validate:"required"`
	ProductPath    string                `json:"product_path" validate:"required"`
	OutputPath     string                `json:"output_path,omitempty"`
	Config         *domain.ProcessConfig `json:"config,omitempty"`
	Priority       string                `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
}

// ReplaceTasksRequest is the body of PUT /api/tasks.
type ReplaceTasksRequest struct {
	Tasks []CreateTaskRequest `json:"tasks" validate:"required,dive"`
}

// SetPriorityRequest is the body of PUT /api/tasks/{id}/priority.
type SetPriorityRequest struct {
	Priority string `json:"priority" validate:"required,oneof=low normal high urgent"`
}

// UpdateSettingsRequest is the body of PUT /api/queue/settings.
type UpdateSettingsRequest struct {
	ConcurrencyLimit *int                 `json:"concurrency_limit,omitempty"`
	Config           *domain.ProcessConfig `json:"config,omitempty"`
}

// TaskCreatedResponse reports the ID of a queued task.
type TaskCreatedResponse struct {
	ID string `json:"id"`
}

// TasksReplacedResponse reports the IDs of a replaced queue, in order.
type TasksReplacedResponse struct {
	IDs []string `json:"ids"`
}

// TaskResponse is a queue entry as seen by API clients.
type TaskResponse struct {
	ID             string                `json:"id"`
	Position       int                   `json:"position"`
	Priority       string                `json:"priority"`
	BackgroundPath string                `json:"background_path"`
	ProductPath    string                `json:"product_path"`
	OutputPath     string                `json:"output_path,omitempty"`
	Status         string                `json:"status"`
	Progress       int                   `json:"progress"`
	Error          string                `json:"error,omitempty"`
	Config         *domain.ProcessConfig `json:"config,omitempty"`
	RetryCount     int                   `json:"retry_count"`
	MaxRetries     int                   `json:"max_retries"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	FinishedAt     *time.Time            `json:"finished_at,omitempty"`
}

// QueueStatsResponse is the body of GET /api/queue/stats.
type QueueStatsResponse struct {
	Status     domain.QueueStatus `json:"status"`
	Running    bool               `json:"running"`
	Paused     bool               `json:"paused"`
	Stats      domain.QueueStats  `json:"stats"`
	LastRun    domain.QueueStats  `json:"last_run"`
	ETASeconds int64              `json:"eta_seconds"`
}

// SettingsResponse reports the settings in effect after an update.
type SettingsResponse struct {
	ConcurrencyLimit int `json:"concurrency_limit,omitempty"`
}

// CommandResponse acknowledges a queue command.
type CommandResponse struct {
	Command string `json:"command"`
	Status  string `json:"status"`
}

// HistoryRecordResponse is a persisted task outcome.
type HistoryRecordResponse struct {
	ID             string          `json:"id"`
	BackgroundPath string          `json:"background_path"`
	ProductPath    string          `json:"product_path"`
	OutputPath     string          `json:"output_path,omitempty"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// DailyStatsResponse is one day of aggregated outcomes.
type DailyStatsResponse struct {
	Date          string `json:"date"`
	TotalTasks    int    `json:"total_tasks"`
	SuccessCount  int    `json:"success_count"`
	FailedCount   int    `json:"failed_count"`
	AverageTimeMS int64  `json:"average_time_ms"`
}

func (req CreateTaskRequest) toSpec() (worker.TaskSpec, error) {
	spec := worker.TaskSpec{
		Inputs: domain.ImageInputs{
			BackgroundPath: req.BackgroundPath,
			ProductPath:    req.ProductPath,
		},
		OutputPath: req.OutputPath,
		Config:     req.Config,
		Priority:   task.PriorityNormal,
	}
	if req.Priority != "" {
		p, err := task.ParsePriority(req.Priority)
		if err != nil {
			return spec, err
		}
		spec.Priority = p
	}
	if spec.Config != nil {
		if err := spec.Config.Validate(); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

func entryToResponse(e task.Entry) TaskResponse {
	t := e.Task
	return TaskResponse{
		ID:             t.ID.String(),
		Position:       e.Position,
		Priority:       e.Priority.String(),
		BackgroundPath: t.Inputs.BackgroundPath,
		ProductPath:    t.Inputs.ProductPath,
		OutputPath:     t.OutputPath,
		Status:         string(t.Status),
		Progress:       t.Progress,
		Error:          t.Error,
		Config:         t.Config,
		RetryCount:     e.RetryCount,
		MaxRetries:     e.MaxRetries,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		StartedAt:      e.StartedAt,
		FinishedAt:     e.FinishedAt,
	}
}

func recordToResponse(rec store.TaskRecord) HistoryRecordResponse {
	resp := HistoryRecordResponse{
		ID:             rec.ID.String(),
		BackgroundPath: rec.BackgroundPath,
		ProductPath:    rec.ProductPath,
		OutputPath:     rec.OutputPath,
		Status:         string(rec.Status),
		Progress:       rec.Progress,
		ErrorMessage:   rec.ErrorMessage,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		CompletedAt:    rec.CompletedAt,
	}
	if json.Valid(rec.ConfigJSON) {
		resp.Config = json.RawMessage(rec.ConfigJSON)
	}
	return resp
}

func dailyStatsToResponse(s store.DailyStats) DailyStatsResponse {
	return DailyStatsResponse{
		Date:          s.Date.Format(time.DateOnly),
		TotalTasks:    s.TotalTasks,
		SuccessCount:  s.SuccessCount,
		FailedCount:   s.FailedCount,
		AverageTimeMS: s.AverageTimeMS(),
	}
}
