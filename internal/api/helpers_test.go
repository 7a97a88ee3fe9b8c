package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/store"
	"github.com/phrazzld/compositor/internal/task"
	"github.com/phrazzld/compositor/internal/worker"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeController records calls and returns canned results.
type fakeController struct {
	mu sync.Mutex

	entries  []task.Entry
	running  bool
	paused   bool
	stats    domain.QueueStats
	lastRun  domain.QueueStats
	status   domain.QueueStatus
	eta      time.Duration
	limit    int
	config   *domain.ProcessConfig
	commands []string

	addErr      error
	setTasksErr error
	priorityErr error
	commandErr  error
	stopped     chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{
		status:  domain.QueueStatusIdle,
		limit:   3,
		stopped: make(chan struct{}, 1),
	}
}

func (f *fakeController) AddTask(inputs domain.ImageInputs, outputPath string, cfg *domain.ProcessConfig, p task.Priority) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return uuid.Nil, f.addErr
	}
	if f.running {
		return uuid.Nil, worker.ErrRunning
	}
	t, err := domain.NewTask(inputs, outputPath, cfg)
	if err != nil {
		return uuid.Nil, err
	}
	f.entries = append(f.entries, task.Entry{Task: t, Position: len(f.entries) + 1, Priority: p, MaxRetries: 3})
	return t.ID, nil
}

func (f *fakeController) SetTasks(specs []worker.TaskSpec) ([]uuid.UUID, error) {
	if f.setTasksErr != nil {
		return nil, f.setTasksErr
	}
	f.mu.Lock()
	f.entries = nil
	f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(specs))
	for _, s := range specs {
		id, err := f.AddTask(s.Inputs, s.OutputPath, s.Config, s.Priority)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeController) RemoveTask(id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false, worker.ErrRunning
	}
	for i, e := range f.entries {
		if e.Task.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeController) SetPriority(id uuid.UUID, p task.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priorityErr != nil {
		return f.priorityErr
	}
	for i := range f.entries {
		if f.entries[i].Task.ID == id {
			f.entries[i].Priority = p
			return nil
		}
	}
	return task.ErrTaskNotFound
}

func (f *fakeController) SetConcurrencyLimit(n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return f.limit, worker.ErrRunning
	}
	f.limit = min(max(n, 1), 5)
	return f.limit, nil
}

func (f *fakeController) SetConfig(cfg *domain.ProcessConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return worker.ErrRunning
	}
	f.config = cfg
	return nil
}

func (f *fakeController) Entries() []task.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]task.Entry(nil), f.entries...)
}

func (f *fakeController) Entry(id uuid.UUID) (task.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Task.ID == id {
			return e, true
		}
	}
	return task.Entry{}, false
}

func (f *fakeController) Stats() domain.QueueStats        { return f.stats }
func (f *fakeController) LastRunStats() domain.QueueStats { return f.lastRun }
func (f *fakeController) Status() domain.QueueStatus      { return f.status }
func (f *fakeController) IsPaused() bool                  { return f.paused }
func (f *fakeController) EstimatedRemaining() time.Duration {
	return f.eta
}

func (f *fakeController) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commandErr != nil {
		return f.commandErr
	}
	f.commands = append(f.commands, name)
	return nil
}

func (f *fakeController) Start() error  { return f.record("start") }
func (f *fakeController) Pause() error  { return f.record("pause") }
func (f *fakeController) Resume() error { return f.record("resume") }
func (f *fakeController) Cancel() error { return f.record("cancel") }

func (f *fakeController) Stop() error {
	err := f.record("stop")
	f.stopped <- struct{}{}
	return err
}

// fakeHistoryStore serves canned history.
type fakeHistoryStore struct {
	records   []store.TaskRecord
	stats     []store.DailyStats
	err       error
	lastLimit int
}

func (s *fakeHistoryStore) RecordTask(context.Context, domain.Task) error { return s.err }

func (s *fakeHistoryStore) GetTask(_ context.Context, id uuid.UUID) (*store.TaskRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, store.ErrTaskRecordNotFound
}

func (s *fakeHistoryStore) ListRecent(_ context.Context, limit int) ([]store.TaskRecord, error) {
	s.lastLimit = limit
	return s.records, s.err
}

func (s *fakeHistoryStore) ListDailyStats(_ context.Context, days int) ([]store.DailyStats, error) {
	s.lastLimit = days
	return s.stats, s.err
}

func newTestRouter(ctrl QueueController, history store.HistoryStore) http.Handler {
	logger := testLogger()
	tasks := NewTaskHandler(ctrl, logger)
	queue := NewQueueHandler(ctrl, logger)

	r := chi.NewRouter()
	r.Post("/tasks", tasks.CreateTask)
	r.Put("/tasks", tasks.ReplaceTasks)
	r.Get("/tasks", tasks.ListTasks)
	r.Get("/tasks/{id}", tasks.GetTask)
	r.Delete("/tasks/{id}", tasks.DeleteTask)
	r.Put("/tasks/{id}/priority", tasks.SetPriority)
	r.Get("/queue/stats", queue.Stats)
	r.Put("/queue/settings", queue.UpdateSettings)
	r.Post("/queue/start", queue.Start)
	r.Post("/queue/pause", queue.Pause)
	r.Post("/queue/resume", queue.Resume)
	r.Post("/queue/cancel", queue.Cancel)
	r.Post("/queue/stop", queue.Stop)
	if history != nil {
		h := NewHistoryHandler(history, logger)
		r.Get("/history/tasks", h.ListTasks)
		r.Get("/history/tasks/{id}", h.GetTask)
		r.Get("/history/stats", h.DailyStats)
	}
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		buf = bytes.NewBuffer(data)
	}
	req := httptest.NewRequest(method, path, buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
