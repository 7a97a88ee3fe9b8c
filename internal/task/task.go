package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/compositor/internal/domain"
)

// Priority orders pending entries when choosing the next one to run.
type Priority int

// Priority levels, lowest first
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a name such as "high" into a Priority.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidPriority, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Entry wraps a Task with queue bookkeeping.
type Entry struct {
	Task *domain.Task `json:"task"`

	// Position is 1-based; positions across a queue are always 1..size.
	Position   int      `json:"position"`
	Priority   Priority `json:"priority"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`

	EstimatedDuration time.Duration `json:"estimated_duration"`
	AddedAt           time.Time     `json:"added_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	FinishedAt        *time.Time    `json:"finished_at,omitempty"`
}

// CanRetry reports whether a failed entry still has retry budget.
func (e *Entry) CanRetry() bool {
	return e.Task.Status == domain.TaskStatusFailed && e.RetryCount < e.MaxRetries
}

// ActualDuration is the time between the latest start and finish, or zero.
func (e *Entry) ActualDuration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// snapshot returns a deep copy safe to hand outside the queue lock.
func (e *Entry) snapshot() Entry {
	cp := *e
	task := e.Task.Snapshot()
	cp.Task = &task
	if e.StartedAt != nil {
		started := *e.StartedAt
		cp.StartedAt = &started
	}
	if e.FinishedAt != nil {
		finished := *e.FinishedAt
		cp.FinishedAt = &finished
	}
	return cp
}

// Executor runs a single task against the external image collaborator and
// returns the path of the produced output.
type Executor interface {
	Execute(ctx context.Context, task domain.Task, cfg *domain.ProcessConfig, progress domain.ProgressFunc) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task domain.Task, cfg *domain.ProcessConfig, progress domain.ProgressFunc) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(
	ctx context.Context,
	task domain.Task,
	cfg *domain.ProcessConfig,
	progress domain.ProgressFunc,
) (string, error) {
	return f(ctx, task, cfg, progress)
}
