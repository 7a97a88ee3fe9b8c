package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/compositor/internal/api/shared"
	"github.com/phrazzld/compositor/internal/store"
)

// HistoryHandler serves persisted task outcomes.
type HistoryHandler struct {
	store  store.HistoryStore
	logger *slog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(historyStore store.HistoryStore, logger *slog.Logger) *HistoryHandler {
	if historyStore == nil {
		panic("history store cannot be nil for HistoryHandler")
	}
	if logger == nil {
		panic("logger cannot be nil for HistoryHandler")
	}
	return &HistoryHandler{
		store:  historyStore,
		logger: logger.With(slog.String("component", "history_handler")),
	}
}

// ListTasks handles GET /api/history/tasks?limit=N.
func (h *HistoryHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecent(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load task history")
		return
	}

	resp := make([]HistoryRecordResponse, len(records))
	for i, rec := range records {
		resp[i] = recordToResponse(rec)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTask handles GET /api/history/tasks/{id}.
func (h *HistoryHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, recordToResponse(*rec))
}

// DailyStats handles GET /api/history/stats?days=N.
func (h *HistoryHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ListDailyStats(r.Context(), queryInt(r, "days", 0))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load statistics")
		return
	}

	resp := make([]DailyStatsResponse, len(stats))
	for i, s := range stats {
		resp[i] = dailyStatsToResponse(s)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
