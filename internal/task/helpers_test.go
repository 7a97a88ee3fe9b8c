package task

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, n int, cfg QueueConfig) (*Queue, []uuid.UUID) {
	t.Helper()

	q := NewQueue(cfg, testLogger())
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id, err := q.Add(domain.ImageInputs{
			BackgroundPath: "bg.png",
			ProductPath:    fmt.Sprintf("product-%d.png", i),
		}, "", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return q, ids
}

func queueConfig(limit, maxRetries int) QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.ConcurrencyLimit = limit
	cfg.MaxRetries = maxRetries
	return cfg
}

// recordingObserver captures notifications in arrival order.
type recordingObserver struct {
	mu        sync.Mutex
	events    []string
	progress  []int
	completed []domain.Task
	final     *domain.QueueStats
	errs      []error

	startedFn func(id uuid.UUID)
}

func (o *recordingObserver) OnTaskStarted(id uuid.UUID) {
	o.mu.Lock()
	o.events = append(o.events, "start:"+id.String())
	fn := o.startedFn
	o.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (o *recordingObserver) OnTaskProgress(id uuid.UUID, percent int, _ string, _ domain.QueueStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, percent)
}

func (o *recordingObserver) OnTaskComplete(task domain.Task, _ domain.QueueStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("done:%s:%s", task.ID, task.Status))
	o.completed = append(o.completed, task)
}

func (o *recordingObserver) OnQueueComplete(stats domain.QueueStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.final = &stats
}

func (o *recordingObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func indexOf(events []string, event string, nth int) int {
	seen := 0
	for i, e := range events {
		if e == event {
			seen++
			if seen == nth {
				return i
			}
		}
	}
	return -1
}
