package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
)

// TaskRecord is the persisted outcome of one task.
type TaskRecord struct {
	ID             uuid.UUID         `json:"id"`
	BackgroundPath string            `json:"background_path"`
	ProductPath    string            `json:"product_path"`
	OutputPath     string            `json:"output_path,omitempty"`
	Status         domain.TaskStatus `json:"status"`
	Progress       int               `json:"progress"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ConfigJSON     []byte            `json:"config,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// DailyStats aggregates task outcomes per UTC day.
type DailyStats struct {
	Date         time.Time `json:"date"`
	TotalTasks   int       `json:"total_tasks"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	TotalTimeMS  int64     `json:"total_time_ms"`
}

// AverageTimeMS is the mean processing time of successful tasks.
func (s DailyStats) AverageTimeMS() int64 {
	if s.SuccessCount == 0 {
		return 0
	}
	return s.TotalTimeMS / int64(s.SuccessCount)
}

// HistoryStore persists task outcomes and daily statistics.
type HistoryStore interface {
	// RecordTask upserts the record of a task that reached a terminal status
	// and updates the statistics of the day the task was created. A task
	// recorded more than once (for example failed, then completed after a
	// retry) is counted once.
	RecordTask(ctx context.Context, task domain.Task) error

	// GetTask returns the record of one task or ErrTaskRecordNotFound.
	GetTask(ctx context.Context, id uuid.UUID) (*TaskRecord, error)

	// ListRecent returns up to limit records, most recently updated first.
	ListRecent(ctx context.Context, limit int) ([]TaskRecord, error)

	// ListDailyStats returns statistics for the most recent days, newest first.
	ListDailyStats(ctx context.Context, days int) ([]DailyStats, error)
}
