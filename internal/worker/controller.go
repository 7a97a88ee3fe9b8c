package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/events"
	"github.com/phrazzld/compositor/internal/task"
)

// Common errors returned by the Controller
var (
	ErrRunning          = errors.New("queue is being processed")
	ErrNotRunning       = errors.New("queue is not being processed")
	ErrCommandQueueFull = errors.New("command queue is full")
	ErrStopTimeout      = errors.New("processing did not stop in time")
	ErrClosed           = errors.New("controller is closed")
)

// Config holds configuration for a Controller
type Config struct {
	// StopTimeout bounds how long Stop waits for a cooperative cancel before
	// aborting in-flight calls.
	StopTimeout time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	// CommandBuffer is the capacity of the pause/resume/cancel command queue.
	CommandBuffer int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		StopTimeout:   5 * time.Second,
		EventBuffer:   256,
		CommandBuffer: 16,
	}
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdCancel
)

func (c command) String() string {
	switch c {
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	default:
		return "cancel"
	}
}

// Controller runs a task.Processor on its own goroutine, locked to a
// dedicated OS thread, and reports what happens as events. Hosts talk to it
// only through its methods and the Events channel; the processor is the sole
// mutator of the queue while a run is in progress.
type Controller struct {
	queue     *task.Queue
	processor *task.Processor
	logger    *slog.Logger
	config    Config

	events   chan *events.Event
	commands chan command
	closed   chan struct{}

	mu        sync.Mutex
	running   bool
	started   chan struct{}
	done      chan struct{}
	abort     context.CancelFunc
	lastStats domain.QueueStats
	isClosed  bool
}

// New creates a Controller that runs queue against executor.
func New(queue *task.Queue, executor task.Executor, config Config, logger *slog.Logger) *Controller {
	def := DefaultConfig()
	if config.StopTimeout <= 0 {
		config.StopTimeout = def.StopTimeout
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = def.EventBuffer
	}
	if config.CommandBuffer <= 0 {
		config.CommandBuffer = def.CommandBuffer
	}

	done := make(chan struct{})
	close(done)

	c := &Controller{
		queue:    queue,
		logger:   logger.With("component", "worker"),
		config:   config,
		events:   make(chan *events.Event, config.EventBuffer),
		commands: make(chan command, config.CommandBuffer),
		closed:   make(chan struct{}),
		done:     done,
	}
	c.processor = task.NewProcessor(queue, executor, &eventObserver{c: c}, logger)
	return c
}

// Events returns the stream of task and queue events. Progress events are
// dropped when the buffer is full; all other events wait for the consumer.
func (c *Controller) Events() <-chan *events.Event {
	return c.events
}

// Done returns a channel that is closed when the current run ends. When no
// run is in progress the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// IsRunning reports whether a run is in progress.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// IsPaused reports whether the running processor is paused.
func (c *Controller) IsPaused() bool {
	return c.processor.IsPaused()
}

// Stats returns the current queue statistics.
func (c *Controller) Stats() domain.QueueStats {
	return c.queue.Stats()
}

// LastRunStats returns the statistics reported at the end of the previous run.
func (c *Controller) LastRunStats() domain.QueueStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStats
}

// Status returns the queue status.
func (c *Controller) Status() domain.QueueStatus {
	return c.queue.Status()
}

// Entries returns snapshots of all queue entries in position order.
func (c *Controller) Entries() []task.Entry {
	return c.queue.Entries()
}

// Entry returns a snapshot of one entry.
func (c *Controller) Entry(id uuid.UUID) (task.Entry, bool) {
	return c.queue.Get(id)
}

// EstimatedRemaining returns the estimated time left for unfinished tasks.
func (c *Controller) EstimatedRemaining() time.Duration {
	return c.queue.EstimatedRemaining()
}

// AddTask validates the input images and appends a task to the queue.
func (c *Controller) AddTask(
	inputs domain.ImageInputs,
	outputPath string,
	cfg *domain.ProcessConfig,
	priority task.Priority,
) (uuid.UUID, error) {
	if err := c.checkIdle("add task"); err != nil {
		return uuid.Nil, err
	}
	if err := domain.ValidateInputs(inputs); err != nil {
		return uuid.Nil, err
	}

	id, err := c.queue.Add(inputs, outputPath, cfg)
	if err != nil {
		return uuid.Nil, err
	}
	if priority != task.PriorityNormal {
		if err := c.queue.SetPriority(id, priority); err != nil {
			c.queue.Remove(id)
			return uuid.Nil, err
		}
	}

	c.logger.Info("task added",
		"task_id", id,
		"product", inputs.ProductPath,
		"priority", priority.String())
	return id, nil
}

// TaskSpec describes one task for SetTasks.
type TaskSpec struct {
	Inputs     domain.ImageInputs
	OutputPath string
	Config     *domain.ProcessConfig
	Priority   task.Priority
}

// SetTasks replaces the queue contents. Either every spec is added or the
// queue is left empty.
func (c *Controller) SetTasks(specs []TaskSpec) ([]uuid.UUID, error) {
	if err := c.checkIdle("set tasks"); err != nil {
		return nil, err
	}
	if len(specs) > task.MaxQueueSize {
		return nil, fmt.Errorf("%w: %d tasks exceed capacity %d", task.ErrQueueFull, len(specs), task.MaxQueueSize)
	}

	c.queue.Clear()
	ids := make([]uuid.UUID, 0, len(specs))
	for i, spec := range specs {
		id, err := c.AddTask(spec.Inputs, spec.OutputPath, spec.Config, spec.Priority)
		if err != nil {
			c.queue.Clear()
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RemoveTask removes an entry. Entries cannot be removed during a run.
func (c *Controller) RemoveTask(id uuid.UUID) (bool, error) {
	if err := c.checkIdle("remove task"); err != nil {
		return false, err
	}
	_, ok := c.queue.Remove(id)
	return ok, nil
}

// SetPriority changes the priority of a pending entry.
func (c *Controller) SetPriority(id uuid.UUID, p task.Priority) error {
	if err := c.checkIdle("set priority"); err != nil {
		return err
	}
	return c.queue.SetPriority(id, p)
}

// SetConcurrencyLimit changes the concurrency limit for the next run and
// returns the clamped value.
func (c *Controller) SetConcurrencyLimit(n int) (int, error) {
	if err := c.checkIdle("set concurrency limit"); err != nil {
		return c.queue.ConcurrencyLimit(), err
	}
	return c.queue.SetConcurrencyLimit(n), nil
}

// SetConfig replaces the default processing configuration for the next run.
func (c *Controller) SetConfig(cfg *domain.ProcessConfig) error {
	if err := c.checkIdle("set config"); err != nil {
		return err
	}
	return c.queue.SetDefaultConfig(cfg)
}

// Start begins processing the queue on a dedicated goroutine. Calling Start
// while a run is in progress logs a warning and returns ErrRunning.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return ErrClosed
	}
	if c.running {
		c.logger.Warn("start ignored, queue is already being processed")
		return ErrRunning
	}
	if c.queue.Len() == 0 {
		c.logger.Warn("start ignored, queue is empty")
		return task.ErrQueueEmpty
	}

	c.drainCommands()

	ctx, abort := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan struct{})
	c.running = true
	c.started = started
	c.done = done
	c.abort = abort

	go c.run(ctx, abort, started, done)
	go c.dispatchCommands(started, done)

	c.logger.Info("processing requested",
		"task_count", c.queue.Len(),
		"concurrency_limit", c.queue.ConcurrencyLimit())
	return nil
}

// Pause queues a pause command for the running processor.
func (c *Controller) Pause() error {
	return c.send(cmdPause)
}

// Resume queues a resume command for the running processor.
func (c *Controller) Resume() error {
	return c.send(cmdResume)
}

// Cancel queues a cooperative cancel for the running processor.
func (c *Controller) Cancel() error {
	return c.send(cmdCancel)
}

// Stop cancels the run and waits up to StopTimeout for it to end. If the
// run is still going after that, in-flight calls are aborted and Stop
// returns ErrStopTimeout.
func (c *Controller) Stop() error {
	c.mu.Lock()
	running, started, done, abort := c.running, c.started, c.done, c.abort
	c.mu.Unlock()

	if !running {
		return nil
	}

	waitUntilStarted(started, done)
	c.processor.Cancel()

	timer := time.NewTimer(c.config.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	c.logger.Error("processing did not stop in time, aborting in-flight tasks",
		"timeout", c.config.StopTimeout)
	abort()

	timer.Reset(c.config.StopTimeout)
	select {
	case <-done:
	case <-timer.C:
		c.logger.Error("processing still running after abort")
	}
	return ErrStopTimeout
}

// Close stops any run and releases event senders blocked on a consumer
// that has gone away. The controller cannot be started again.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	c.mu.Unlock()

	err := c.Stop()
	close(c.closed)
	return err
}

func (c *Controller) run(ctx context.Context, abort context.CancelFunc, started, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)
	defer abort()

	stats, err := c.processor.RunNotify(ctx, func() { close(started) })

	c.mu.Lock()
	c.running = false
	c.abort = nil
	if err == nil {
		c.lastStats = stats
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("processing did not start", "error", err)
		c.emit(events.NewError(err), true)
		return
	}
	c.logger.Info("processing run ended",
		"completed", stats.Completed,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled)
}

// dispatchCommands forwards queued commands to the processor until the run ends.
func (c *Controller) dispatchCommands(started, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case cmd := <-c.commands:
			if !waitUntilStarted(started, done) {
				return
			}
			c.apply(cmd)
		}
	}
}

func (c *Controller) apply(cmd command) {
	var applied bool
	switch cmd {
	case cmdPause:
		applied = c.processor.Pause()
	case cmdResume:
		applied = c.processor.Resume()
	case cmdCancel:
		applied = c.processor.Cancel()
	}
	c.logger.Debug("command applied", "command", cmd.String(), "applied", applied)
}

// waitUntilStarted blocks until the processor has begun its run or the run
// is over. It reports whether the run began.
func waitUntilStarted(started, done <-chan struct{}) bool {
	select {
	case <-started:
		return true
	case <-done:
		return false
	}
}

func (c *Controller) send(cmd command) error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	if !running {
		c.logger.Warn("command ignored, queue is not being processed", "command", cmd.String())
		return ErrNotRunning
	}

	select {
	case c.commands <- cmd:
		return nil
	default:
		c.logger.Warn("command dropped, command queue is full", "command", cmd.String())
		return ErrCommandQueueFull
	}
}

func (c *Controller) drainCommands() {
	for {
		select {
		case <-c.commands:
		default:
			return
		}
	}
}

func (c *Controller) checkIdle(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return ErrClosed
	}
	if c.running {
		c.logger.Warn("request ignored while processing", "operation", op)
		return ErrRunning
	}
	return nil
}

// emit delivers an event to the host. Lossy events are dropped when the
// buffer is full; other events block until delivered or the controller closes.
func (c *Controller) emit(e *events.Event, lossless bool) {
	if !lossless {
		select {
		case c.events <- e:
		default:
			c.logger.Debug("event dropped, consumer is slow", "event_type", e.Type)
		}
		return
	}

	select {
	case c.events <- e:
	case <-c.closed:
	}
}
