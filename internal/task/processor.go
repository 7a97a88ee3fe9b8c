package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/redact"
	"golang.org/x/sync/semaphore"
)

// Common errors returned by the Processor
var (
	ErrAlreadyRunning = errors.New("processor is already running")

	errCancelRequested = errors.New("cancel requested")
)

// Processor executes the pending entries of a Queue against an Executor.
//
// At most ConcurrencyLimit entries are processing at any time. Pause stops
// new entries from starting; entries already processing run to completion.
// Cancel prevents any further starts; the collaborator call of an entry that
// is already processing is not interrupted. Failed entries are retried one at
// a time, in queue order, after every initial attempt has finished.
type Processor struct {
	queue    *Queue
	executor Executor
	observer Observer
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	stopSoft  context.CancelFunc
	gate      *pauseGate
	cancelled atomic.Bool
}

// runState is shared by all units of work of one run.
type runState struct {
	// soft is cancelled by Cancel and stops units that have not started.
	soft context.Context
	// hard is passed to the collaborator; only the caller of Run cancels it.
	hard context.Context
	sem  *semaphore.Weighted
}

// NewProcessor creates a Processor for queue. A nil observer is replaced by NopObserver.
func NewProcessor(queue *Queue, executor Executor, observer Observer, logger *slog.Logger) *Processor {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Processor{
		queue:    queue,
		executor: executor,
		observer: observer,
		logger:   logger.With("component", "processor"),
		gate:     newPauseGate(),
	}
}

// Queue returns the queue this processor runs.
func (p *Processor) Queue() *Queue {
	return p.queue
}

// Run processes every pending entry and then retries failures. It blocks
// until the run is over and always returns the final statistics. The only
// errors are ErrQueueEmpty and ErrAlreadyRunning, returned before anything
// runs. Cancelling ctx aborts in-flight collaborator calls; use Cancel for a
// cooperative stop.
func (p *Processor) Run(ctx context.Context) (domain.QueueStats, error) {
	return p.RunNotify(ctx, nil)
}

// RunNotify is Run with a callback invoked once the run has begun, after
// which Pause, Resume and Cancel take effect. started is not called when Run
// returns an error.
func (p *Processor) RunNotify(ctx context.Context, started func()) (stats domain.QueueStats, err error) {
	if p.queue.Len() == 0 {
		return domain.QueueStats{}, ErrQueueEmpty
	}

	rs, cancel, err := p.begin(ctx, p.queue.Start)
	if err != nil {
		return p.queue.Stats(), err
	}
	defer cancel()
	defer p.end()

	if started != nil {
		started()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovered from panic in processing loop",
				"panic", r,
				"stack", string(debug.Stack()))
			if n := p.queue.failUnfinished("processing aborted by internal error"); n > 0 {
				p.logger.Warn("unfinished tasks marked failed", "count", n)
			}
			p.observer.OnError(fmt.Errorf("processing loop: %v", r))
		}
		stats = p.finalize(rs)
	}()

	limit := p.queue.ConcurrencyLimit()
	pending := p.queue.pendingIDs()
	p.logger.Info("processing started",
		"task_count", len(pending),
		"concurrency_limit", limit)

	// Admission is serial so entries launch in queue order; only the
	// collaborator call runs on its own goroutine.
	var wg sync.WaitGroup
	for _, id := range pending {
		logger := p.logger.With("task_id", id)
		task, cfg, ok := p.admit(rs, logger, id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(rs, logger, id, task, cfg)
		}()
	}
	wg.Wait()

	p.retryFailed(rs)

	return stats, nil
}

// RunSingle processes one entry outside a full run. A failed entry with
// retry budget left is retried. The queue status is not changed.
func (p *Processor) RunSingle(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	if _, ok := p.queue.Get(id); !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	rs, cancel, err := p.begin(ctx, func() error {
		entry, ok := p.queue.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		if entry.CanRetry() {
			p.queue.prepareRetry(id)
			return nil
		}
		if entry.Task.Status != domain.TaskStatusPending {
			return fmt.Errorf("%w: status is %s", ErrNotPending, entry.Task.Status)
		}
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	defer cancel()
	defer p.end()

	rs.sem = semaphore.NewWeighted(1)
	p.runUnit(rs, id)

	entry, ok := p.queue.Get(id)
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *entry.Task, nil
}

// Pause stops new entries from starting until Resume. It reports whether the
// processor was paused by this call.
func (p *Processor) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warn("pause ignored, processor is not running")
		return false
	}
	if !p.gate.Close() {
		p.logger.Warn("pause ignored, processor is already paused")
		return false
	}
	p.queue.Pause()
	p.logger.Info("processing paused")
	return true
}

// Resume lets paused entries continue.
func (p *Processor) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warn("resume ignored, processor is not running")
		return false
	}
	if !p.gate.Open() {
		p.logger.Warn("resume ignored, processor is not paused")
		return false
	}
	p.queue.Resume()
	p.logger.Info("processing resumed")
	return true
}

// Cancel requests a cooperative stop. Entries that have not started are
// cancelled; entries already processing finish normally.
func (p *Processor) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warn("cancel ignored, processor is not running")
		return false
	}
	if p.cancelled.Swap(true) {
		return false
	}
	p.stopSoft()
	p.logger.Info("processing cancel requested")
	return true
}

// IsRunning reports whether Run or RunSingle is in progress.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// IsPaused reports whether a running processor is paused.
func (p *Processor) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.gate.IsClosed()
}

func (p *Processor) begin(ctx context.Context, prepare func() error) (runState, context.CancelFunc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn("run ignored, processor is already running")
		return runState{}, nil, ErrAlreadyRunning
	}
	if err := prepare(); err != nil {
		return runState{}, nil, err
	}

	soft, cancel := context.WithCancel(ctx)
	p.running = true
	p.stopSoft = cancel
	p.cancelled.Store(false)
	p.gate.Open()

	return runState{
		soft: soft,
		hard: ctx,
		sem:  semaphore.NewWeighted(int64(p.queue.ConcurrencyLimit())),
	}, cancel, nil
}

func (p *Processor) end() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
	p.stopSoft = nil
	p.gate.Open()
}

// runUnit performs one attempt for an entry on the calling goroutine.
func (p *Processor) runUnit(rs runState, id uuid.UUID) {
	logger := p.logger.With("task_id", id)
	task, cfg, ok := p.admit(rs, logger, id)
	if !ok {
		return
	}
	p.work(rs, logger, id, task, cfg)
}

// admit runs the cancel check, the pause gate and the permit wait for an
// entry. When it returns true the entry is processing and the caller holds a
// permit that work releases.
func (p *Processor) admit(rs runState, logger *slog.Logger, id uuid.UUID) (task domain.Task, cfg *domain.ProcessConfig, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.recoverUnit(logger, id, r)
			ok = false
		}
	}()

	if p.cancelled.Load() {
		p.cancelEntry(id)
		return domain.Task{}, nil, false
	}
	return p.acquire(rs, logger, id)
}

// work makes the collaborator call for an admitted entry and records the
// terminal transition.
func (p *Processor) work(rs runState, logger *slog.Logger, id uuid.UUID, task domain.Task, cfg *domain.ProcessConfig) {
	defer rs.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			p.recoverUnit(logger, id, r)
		}
	}()

	p.observer.OnTaskStarted(id)
	logger.Info("task started", "product", task.ProductName())

	output, err := p.execute(rs.hard, task, cfg, func(percent int, message string) {
		if applied, stats, ok := p.queue.updateProgress(id, percent); ok {
			p.observer.OnTaskProgress(id, applied, message, stats)
		}
	})

	switch {
	case err == nil:
		logger.Info("task completed", "output_path", output)
		p.finish(logger, id, func(t *domain.Task) error { return t.MarkCompleted(output) })
	case rs.hard.Err() != nil:
		logger.Warn("task aborted", "error", redact.Error(err))
		p.finish(logger, id, (*domain.Task).MarkCancelled)
	default:
		msg := redact.Error(err)
		logger.Error("task failed", "error", msg)
		p.finish(logger, id, func(t *domain.Task) error { return t.MarkFailed(msg) })
	}
}

func (p *Processor) recoverUnit(logger *slog.Logger, id uuid.UUID, r any) {
	logger.Error("recovered from panic in task unit",
		"panic", r,
		"stack", string(debug.Stack()))
	p.finish(logger, id, func(t *domain.Task) error {
		return t.MarkFailed(fmt.Sprintf("internal error: %v", r))
	})
	p.observer.OnError(fmt.Errorf("task %s: %v", id, r))
}

// acquire waits at the pause gate, takes a permit and moves the entry to
// processing. When it returns true the caller holds a permit.
func (p *Processor) acquire(rs runState, logger *slog.Logger, id uuid.UUID) (domain.Task, *domain.ProcessConfig, bool) {
	for {
		if err := p.gate.Wait(rs.soft); err != nil {
			p.cancelEntry(id)
			return domain.Task{}, nil, false
		}
		if err := rs.sem.Acquire(rs.soft, 1); err != nil {
			p.cancelEntry(id)
			return domain.Task{}, nil, false
		}

		var (
			task     domain.Task
			cfg      *domain.ProcessConfig
			startErr error
		)
		opened := p.gate.runIfOpen(func() {
			if p.cancelled.Load() {
				startErr = errCancelRequested
				return
			}
			task, cfg, startErr = p.queue.startEntry(id)
		})
		if opened && startErr == nil {
			return task, cfg, true
		}

		rs.sem.Release(1)
		switch {
		case !opened:
			// paused while waiting for a permit
			continue
		case errors.Is(startErr, errCancelRequested):
			p.cancelEntry(id)
		default:
			logger.Debug("entry not started", "error", startErr)
		}
		return domain.Task{}, nil, false
	}
}

// execute calls the executor, turning a panic into an error.
func (p *Processor) execute(
	ctx context.Context,
	task domain.Task,
	cfg *domain.ProcessConfig,
	progress domain.ProgressFunc,
) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image processing panicked: %v", r)
		}
	}()
	return p.executor.Execute(ctx, task, cfg, progress)
}

// retryFailed replays retryable entries one at a time, in queue order.
func (p *Processor) retryFailed(rs runState) {
	for _, id := range p.queue.ids() {
		for !p.cancelled.Load() && rs.soft.Err() == nil && p.queue.prepareRetry(id) {
			if entry, ok := p.queue.Get(id); ok {
				p.logger.Info("retrying task",
					"task_id", id,
					"retry_count", entry.RetryCount,
					"max_retries", entry.MaxRetries)
			}
			p.runUnit(rs, id)
		}
	}
}

func (p *Processor) finalize(rs runState) domain.QueueStats {
	if p.cancelled.Load() || rs.soft.Err() != nil {
		p.queue.Cancel()
	} else {
		p.queue.MarkCompleted()
	}

	stats := p.queue.Stats()
	p.logger.Info("processing finished",
		"status", p.queue.Status(),
		"total", stats.Total,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled)

	p.observer.OnQueueComplete(stats)
	return stats
}

func (p *Processor) finish(logger *slog.Logger, id uuid.UUID, transition func(*domain.Task) error) {
	task, stats, err := p.queue.finishEntry(id, transition)
	if err != nil {
		logger.Warn("failed to record task result", "error", err)
		return
	}
	p.observer.OnTaskComplete(task, stats)
}

func (p *Processor) cancelEntry(id uuid.UUID) {
	if task, stats, ok := p.queue.cancelPending(id); ok {
		p.observer.OnTaskComplete(task, stats)
	}
}
