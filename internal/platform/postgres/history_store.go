package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/events"
	"github.com/phrazzld/compositor/internal/store"
)

// Listing limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

const (
	selectStatusForUpdateSQL = `SELECT status FROM task_history WHERE id = $1 FOR UPDATE`

	upsertTaskSQL = `
		INSERT INTO task_history (
			id, background_path, product_path, output_path, status, progress,
			error_message, config_json, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			output_path   = EXCLUDED.output_path,
			status        = EXCLUDED.status,
			progress      = EXCLUDED.progress,
			error_message = EXCLUDED.error_message,
			config_json   = EXCLUDED.config_json,
			updated_at    = EXCLUDED.updated_at,
			completed_at  = COALESCE(task_history.completed_at, EXCLUDED.completed_at)
	`

	upsertStatsSQL = `
		INSERT INTO process_stats (stats_date, total_tasks, success_count, failed_count, total_time_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stats_date) DO UPDATE SET
			total_tasks   = process_stats.total_tasks + EXCLUDED.total_tasks,
			success_count = process_stats.success_count + EXCLUDED.success_count,
			failed_count  = process_stats.failed_count + EXCLUDED.failed_count,
			total_time_ms = process_stats.total_time_ms + EXCLUDED.total_time_ms
	`

	selectTaskColumns = `
		SELECT id, background_path, product_path, output_path, status, progress,
			error_message, config_json, created_at, updated_at, completed_at
		FROM task_history
	`

	selectStatsSQL = `
		SELECT stats_date, total_tasks, success_count, failed_count, total_time_ms
		FROM process_stats
		ORDER BY stats_date DESC
		LIMIT $1
	`
)

// HistoryStore implements store.HistoryStore using PostgreSQL. It also
// handles task events so the host can register it with an event emitter.
type HistoryStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ store.HistoryStore  = (*HistoryStore)(nil)
	_ events.EventHandler = (*HistoryStore)(nil)
)

// NewHistoryStore creates a HistoryStore on db.
func NewHistoryStore(db *sql.DB, logger *slog.Logger) *HistoryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryStore{
		db:     db,
		logger: logger.With(slog.String("component", "history_store")),
	}
}

// HandleEvent records the task carried by terminal task events and ignores
// everything else.
func (s *HistoryStore) HandleEvent(ctx context.Context, event *events.Event) error {
	if event == nil || !event.IsTaskEvent() || event.Task == nil || !event.Task.IsTerminal() {
		return nil
	}
	return s.RecordTask(ctx, *event.Task)
}

// RecordTask implements store.HistoryStore.
func (s *HistoryStore) RecordTask(ctx context.Context, task domain.Task) error {
	if !task.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", store.ErrInvalidEntity, task.ID, task.Status)
	}

	var configJSON sql.NullString
	if task.Config != nil {
		data, err := json.Marshal(task.Config)
		if err != nil {
			return fmt.Errorf("%w: encode config: %v", store.ErrInvalidEntity, err)
		}
		configJSON = sql.NullString{String: string(data), Valid: true}
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var prev string
		err := tx.QueryRowContext(ctx, selectStatusForUpdateSQL, task.ID).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.NewStoreError("task_history", "lock", "failed to read previous status", MapError(err))
		}
		existed := err == nil

		_, err = tx.ExecContext(ctx, upsertTaskSQL,
			task.ID,
			task.Inputs.BackgroundPath,
			task.Inputs.ProductPath,
			nullString(task.OutputPath),
			string(task.Status),
			task.Progress,
			nullString(task.Error),
			configJSON,
			task.CreatedAt,
			task.UpdatedAt,
			nullTime(task.CompletedAt),
		)
		if err != nil {
			return store.NewStoreError("task_history", "upsert", "failed to save task", MapError(err))
		}

		var prevStatus domain.TaskStatus
		if existed {
			prevStatus = domain.TaskStatus(prev)
		}
		d := computeDelta(existed, prevStatus, task)
		if d.isZero() {
			return nil
		}

		_, err = tx.ExecContext(ctx, upsertStatsSQL,
			statsDay(task.CreatedAt), d.total, d.success, d.failed, d.timeMS)
		if err != nil {
			return store.NewStoreError("process_stats", "upsert", "failed to update daily stats", MapError(err))
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record task",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
		return err
	}

	s.logger.DebugContext(ctx, "task recorded", "task_id", task.ID, "status", task.Status)
	return nil
}

// GetTask implements store.HistoryStore.
func (s *HistoryStore) GetTask(ctx context.Context, id uuid.UUID) (*store.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, selectTaskColumns+` WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskRecordNotFound, id)
		}
		return nil, MapError(err)
	}
	return rec, nil
}

// ListRecent implements store.HistoryStore. limit is clamped to
// 1..MaxListLimit; zero selects DefaultListLimit.
func (s *HistoryStore) ListRecent(ctx context.Context, limit int) ([]store.TaskRecord, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, selectTaskColumns+` ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]store.TaskRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, MapError(err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return records, nil
}

// ListDailyStats implements store.HistoryStore.
func (s *HistoryStore) ListDailyStats(ctx context.Context, days int) ([]store.DailyStats, error) {
	days = clampLimit(days)

	rows, err := s.db.QueryContext(ctx, selectStatsSQL, days)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	stats := make([]store.DailyStats, 0, days)
	for rows.Next() {
		var st store.DailyStats
		if err := rows.Scan(&st.Date, &st.TotalTasks, &st.SuccessCount, &st.FailedCount, &st.TotalTimeMS); err != nil {
			return nil, MapError(err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*store.TaskRecord, error) {
	var (
		rec         store.TaskRecord
		status      string
		outputPath  sql.NullString
		errorMsg    sql.NullString
		configJSON  sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID,
		&rec.BackgroundPath,
		&rec.ProductPath,
		&outputPath,
		&status,
		&rec.Progress,
		&errorMsg,
		&configJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.TaskStatus(status)
	rec.OutputPath = outputPath.String
	rec.ErrorMessage = errorMsg.String
	if configJSON.Valid {
		rec.ConfigJSON = []byte(configJSON.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// statsDelta is the change a task record makes to its day's statistics.
type statsDelta struct {
	total   int
	success int
	failed  int
	timeMS  int64
}

func (d statsDelta) isZero() bool {
	return d == statsDelta{}
}

// computeDelta counts a task once per day: a new record adds to the total,
// and a status change moves its contribution between the success and
// failure columns.
func computeDelta(existed bool, prev domain.TaskStatus, task domain.Task) statsDelta {
	var d statsDelta
	if !existed {
		d.total = 1
	} else if prev == task.Status {
		return d
	}

	switch prev {
	case domain.TaskStatusCompleted:
		d.success--
	case domain.TaskStatusFailed:
		d.failed--
	}
	switch task.Status {
	case domain.TaskStatusCompleted:
		d.success++
		if elapsed := task.UpdatedAt.Sub(task.CreatedAt); elapsed > 0 {
			d.timeMS = elapsed.Milliseconds()
		}
	case domain.TaskStatusFailed:
		d.failed++
	}
	return d
}

func statsDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	if n > MaxListLimit {
		return MaxListLimit
	}
	return n
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
