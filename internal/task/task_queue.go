package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
)

// Queue limits
const (
	MaxQueueSize             = 10
	MinConcurrencyLimit      = 1
	MaxConcurrencyLimit      = 5
	DefaultConcurrencyLimit  = 3
	DefaultMaxRetries        = 3
	DefaultEstimatedDuration = 30 * time.Second
)

// Common errors returned by the Queue
var (
	ErrQueueFull       = errors.New("task queue is full")
	ErrQueueEmpty      = errors.New("task queue is empty")
	ErrTaskNotFound    = errors.New("task not found in queue")
	ErrNotPending      = errors.New("task is not pending")
	ErrInvalidPriority = errors.New("invalid priority")
)

// QueueConfig holds configuration for a Queue
type QueueConfig struct {
	// Capacity is the maximum number of entries, at most MaxQueueSize.
	Capacity int

	// ConcurrencyLimit is the number of tasks that may run at once (1..5).
	ConcurrencyLimit int

	// MaxRetries is the retry budget given to every new entry.
	MaxRetries int

	// EstimatedDuration is the per-task estimate used for ETA calculation.
	EstimatedDuration time.Duration
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:          MaxQueueSize,
		ConcurrencyLimit:  DefaultConcurrencyLimit,
		MaxRetries:        DefaultMaxRetries,
		EstimatedDuration: DefaultEstimatedDuration,
	}
}

// Queue is an ordered, capacity-bounded list of entries with an aggregate
// status. All methods are safe for concurrent use.
type Queue struct {
	mu sync.RWMutex

	entries       []*Entry
	status        domain.QueueStatus
	capacity      int
	concurrency   int
	maxRetries    int
	estimate      time.Duration
	defaultConfig *domain.ProcessConfig
	startedAt     *time.Time
	completedAt   *time.Time

	logger *slog.Logger
}

// NewQueue creates an empty, idle queue
func NewQueue(config QueueConfig, logger *slog.Logger) *Queue {
	if config.Capacity <= 0 || config.Capacity > MaxQueueSize {
		config.Capacity = MaxQueueSize
	}
	if config.ConcurrencyLimit == 0 {
		config.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.EstimatedDuration <= 0 {
		config.EstimatedDuration = DefaultEstimatedDuration
	}

	return &Queue{
		entries:       make([]*Entry, 0, config.Capacity),
		status:        domain.QueueStatusIdle,
		capacity:      config.Capacity,
		concurrency:   clampConcurrency(config.ConcurrencyLimit),
		maxRetries:    config.MaxRetries,
		estimate:      config.EstimatedDuration,
		defaultConfig: domain.DefaultProcessConfig(),
		logger:        logger.With("component", "task_queue"),
	}
}

// Add appends a new pending task at position size+1.
// Returns ErrQueueFull when the queue is at capacity.
func (q *Queue) Add(inputs domain.ImageInputs, outputPath string, cfg *domain.ProcessConfig) (uuid.UUID, error) {
	task, err := domain.NewTask(inputs, outputPath, cfg)
	if err != nil {
		return uuid.Nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		return uuid.Nil, fmt.Errorf("%w: capacity %d reached", ErrQueueFull, q.capacity)
	}

	q.entries = append(q.entries, &Entry{
		Task:              task,
		Position:          len(q.entries) + 1,
		Priority:          PriorityNormal,
		MaxRetries:        q.maxRetries,
		EstimatedDuration: q.estimate,
		AddedAt:           task.CreatedAt,
	})

	q.logger.Debug("task added",
		"task_id", task.ID,
		"position", len(q.entries),
		"queue_len", len(q.entries),
		"queue_cap", q.capacity)

	return task.ID, nil
}

// Remove deletes the entry and renumbers the following positions.
// Returns false if no entry has the given id.
func (q *Queue) Remove(id uuid.UUID) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return nil, false
	}

	removed := q.entries[idx].snapshot()
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	q.renumber()

	q.logger.Debug("task removed", "task_id", id, "queue_len", len(q.entries))
	return &removed, true
}

// Clear removes every entry and returns the queue to idle.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = q.entries[:0]
	q.status = domain.QueueStatusIdle
	q.startedAt = nil
	q.completedAt = nil
}

// Get returns a snapshot of the entry with the given id.
func (q *Queue) Get(id uuid.UUID) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return Entry{}, false
	}
	return q.entries[idx].snapshot(), true
}

// Entries returns snapshots of all entries in position order.
func (q *Queue) Entries() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.snapshot()
	}
	return out
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Stats computes statistics from the current entries. It has no side effects.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.statsLocked()
}

// Status returns the queue status.
func (q *Queue) Status() domain.QueueStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.status
}

// StartedAt returns when the queue last started processing, or nil.
func (q *Queue) StartedAt() *time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return copyTime(q.startedAt)
}

// CompletedAt returns when the queue last finished, or nil.
func (q *Queue) CompletedAt() *time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return copyTime(q.completedAt)
}

// Start moves the queue to processing. Returns ErrQueueEmpty for an empty queue.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return ErrQueueEmpty
	}
	now := time.Now().UTC()
	q.status = domain.QueueStatusProcessing
	q.startedAt = &now
	q.completedAt = nil
	return nil
}

// Pause moves a processing queue to paused. It reports whether anything changed.
func (q *Queue) Pause() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.status != domain.QueueStatusProcessing {
		return false
	}
	q.status = domain.QueueStatusPaused
	return true
}

// Resume moves a paused queue back to processing. It reports whether anything changed.
func (q *Queue) Resume() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.status != domain.QueueStatusPaused {
		return false
	}
	q.status = domain.QueueStatusProcessing
	return true
}

// Cancel marks the queue cancelled and cancels every pending or processing
// entry. Terminal entries are left untouched.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	for _, e := range q.entries {
		if e.Task.IsTerminal() {
			continue
		}
		if err := e.Task.MarkCancelled(); err != nil {
			q.logger.Error("failed to cancel task", "task_id", e.Task.ID, "error", err)
			continue
		}
		e.FinishedAt = &now
	}
	q.status = domain.QueueStatusCancelled
	q.completedAt = &now
}

// MarkCompleted marks the queue completed and records the end time.
func (q *Queue) MarkCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	q.status = domain.QueueStatusCompleted
	q.completedAt = &now
}

// RetryableEntries returns snapshots of failed entries with retry budget left.
func (q *Queue) RetryableEntries() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []Entry
	for _, e := range q.entries {
		if e.CanRetry() {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// NextPending returns the pending entry that would run next: highest
// priority first, then lowest position.
func (q *Queue) NextPending() (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending := q.pendingLocked()
	if len(pending) == 0 {
		return Entry{}, false
	}
	return pending[0].snapshot(), true
}

// SetPriority changes the priority of a pending entry.
func (q *Queue) SetPriority(id uuid.UUID, p Priority) error {
	if _, ok := priorityNames[p]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return ErrTaskNotFound
	}
	e := q.entries[idx]
	if e.Task.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: status is %s", ErrNotPending, e.Task.Status)
	}
	e.Priority = p
	return nil
}

// EstimatedRemaining estimates the time left for all unfinished entries,
// assuming ConcurrencyLimit of them run side by side.
func (q *Queue) EstimatedRemaining() time.Duration {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now().UTC()
	var total time.Duration
	for _, e := range q.entries {
		switch e.Task.Status {
		case domain.TaskStatusPending:
			total += e.EstimatedDuration
		case domain.TaskStatusProcessing:
			remaining := e.EstimatedDuration
			if e.StartedAt != nil {
				remaining -= now.Sub(*e.StartedAt)
			}
			if remaining > 0 {
				total += remaining
			}
		}
	}
	return total / time.Duration(q.concurrency)
}

// ConcurrencyLimit returns the maximum number of simultaneously running tasks.
func (q *Queue) ConcurrencyLimit() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.concurrency
}

// SetConcurrencyLimit sets the limit, clamped to 1..5, and returns the value applied.
func (q *Queue) SetConcurrencyLimit(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.concurrency = clampConcurrency(n)
	return q.concurrency
}

// DefaultConfig returns the configuration used by entries without their own.
func (q *Queue) DefaultConfig() *domain.ProcessConfig {
	q.mu.RLock()
	defer q.mu.RUnlock()
	cfg := *q.defaultConfig
	return &cfg
}

// SetDefaultConfig replaces the queue-level default configuration.
func (q *Queue) SetDefaultConfig(cfg *domain.ProcessConfig) error {
	if cfg == nil {
		cfg = domain.DefaultProcessConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *cfg
	q.defaultConfig = &cp
	return nil
}

// The methods below are used by the Processor while it runs the queue.

// ids returns entry ids in position order.
func (q *Queue) ids() []uuid.UUID {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]uuid.UUID, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.Task.ID
	}
	return out
}

// pendingIDs returns pending entry ids in launch order.
func (q *Queue) pendingIDs() []uuid.UUID {
	q.mu.RLock()
	defer q.mu.RUnlock()

	pending := q.pendingLocked()
	out := make([]uuid.UUID, len(pending))
	for i, e := range pending {
		out[i] = e.Task.ID
	}
	return out
}

// startEntry moves a pending entry to processing.
func (q *Queue) startEntry(id uuid.UUID) (domain.Task, *domain.ProcessConfig, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.lookup(id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if err := e.Task.MarkProcessing(); err != nil {
		return domain.Task{}, nil, err
	}
	now := time.Now().UTC()
	e.StartedAt = &now
	e.FinishedAt = nil

	cfg := *e.Task.EffectiveConfig(q.defaultConfig)
	return e.Task.Snapshot(), &cfg, nil
}

// updateProgress records progress for a processing entry. The returned bool
// is false when the entry is gone or no longer processing.
func (q *Queue) updateProgress(id uuid.UUID, percent int) (int, domain.QueueStats, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.lookup(id)
	if err != nil || !e.Task.UpdateProgress(percent) {
		return 0, domain.QueueStats{}, false
	}
	return e.Task.Progress, q.statsLocked(), true
}

// finishEntry applies a terminal transition and returns the resulting snapshot.
func (q *Queue) finishEntry(id uuid.UUID, transition func(*domain.Task) error) (domain.Task, domain.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.lookup(id)
	if err != nil {
		return domain.Task{}, domain.QueueStats{}, err
	}
	if err := transition(e.Task); err != nil {
		return e.Task.Snapshot(), q.statsLocked(), err
	}
	now := time.Now().UTC()
	e.FinishedAt = &now
	return e.Task.Snapshot(), q.statsLocked(), nil
}

// cancelPending cancels the entry if it is still pending.
func (q *Queue) cancelPending(id uuid.UUID) (domain.Task, domain.QueueStats, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.lookup(id)
	if err != nil || e.Task.Status != domain.TaskStatusPending {
		return domain.Task{}, domain.QueueStats{}, false
	}
	if err := e.Task.MarkCancelled(); err != nil {
		return domain.Task{}, domain.QueueStats{}, false
	}
	now := time.Now().UTC()
	e.FinishedAt = &now
	return e.Task.Snapshot(), q.statsLocked(), true
}

// prepareRetry spends one unit of retry budget and resets a failed entry to pending.
func (q *Queue) prepareRetry(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.lookup(id)
	if err != nil || !e.CanRetry() {
		return false
	}
	if err := e.Task.ResetForRetry(); err != nil {
		return false
	}
	e.RetryCount++
	return true
}

// failUnfinished fails every entry that has not reached a terminal status.
func (q *Queue) failUnfinished(message string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, e := range q.entries {
		if e.Task.IsTerminal() {
			continue
		}
		if err := e.Task.MarkFailed(message); err == nil {
			e.FinishedAt = &now
			n++
		}
	}
	return n
}

func (q *Queue) pendingLocked() []*Entry {
	var pending []*Entry
	for _, e := range q.entries {
		if e.Task.Status == domain.TaskStatusPending {
			pending = append(pending, e)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].Position < pending[j].Position
	})
	return pending
}

func (q *Queue) statsLocked() domain.QueueStats {
	tasks := make([]*domain.Task, len(q.entries))
	for i, e := range q.entries {
		tasks[i] = e.Task
	}
	return domain.ComputeStats(tasks)
}

func (q *Queue) lookup(id uuid.UUID) (*Entry, error) {
	idx := q.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return q.entries[idx], nil
}

func (q *Queue) indexOf(id uuid.UUID) int {
	for i, e := range q.entries {
		if e.Task.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) renumber() {
	for i, e := range q.entries {
		e.Position = i + 1
	}
}

func clampConcurrency(n int) int {
	if n < MinConcurrencyLimit {
		return MinConcurrencyLimit
	}
	if n > MaxConcurrencyLimit {
		return MaxConcurrencyLimit
	}
	return n
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
