package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/compositor/internal/api/shared"
	"github.com/phrazzld/compositor/internal/worker"
)

// QueueHandler handles queue statistics, settings and run commands.
type QueueHandler struct {
	controller QueueController
	logger     *slog.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(controller QueueController, logger *slog.Logger) *QueueHandler {
	if controller == nil {
		panic("controller cannot be nil for QueueHandler")
	}
	if logger == nil {
		panic("logger cannot be nil for QueueHandler")
	}
	return &QueueHandler{
		controller: controller,
		logger:     logger.With(slog.String("component", "queue_handler")),
	}
}

// Stats handles GET /api/queue/stats.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, QueueStatsResponse{
		Status:     h.controller.Status(),
		Running:    h.controller.IsRunning(),
		Paused:     h.controller.IsPaused(),
		Stats:      h.controller.Stats(),
		LastRun:    h.controller.LastRunStats(),
		ETASeconds: int64(h.controller.EstimatedRemaining().Seconds()),
	})
}

// UpdateSettings handles PUT /api/queue/settings.
func (h *QueueHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.ConcurrencyLimit == nil && req.Config == nil {
		shared.RespondWithError(w, r, http.StatusUnprocessableEntity, "No settings given")
		return
	}

	if req.Config != nil {
		if err := req.Config.Validate(); err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
	}

	var resp SettingsResponse
	if req.ConcurrencyLimit != nil {
		limit, err := h.controller.SetConcurrencyLimit(*req.ConcurrencyLimit)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		resp.ConcurrencyLimit = limit
	}
	if req.Config != nil {
		if err := h.controller.SetConfig(req.Config); err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Start handles POST /api/queue/start.
func (h *QueueHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "start", h.controller.Start)
}

// Pause handles POST /api/queue/pause.
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "pause", h.controller.Pause)
}

// Resume handles POST /api/queue/resume.
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "resume", h.controller.Resume)
}

// Cancel handles POST /api/queue/cancel.
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "cancel", h.controller.Cancel)
}

// Stop handles POST /api/queue/stop. Stopping can take up to twice the stop
// timeout, so it runs in the background once the request is accepted.
func (h *QueueHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !h.controller.IsRunning() {
		HandleAPIError(w, r, worker.ErrNotRunning, "")
		return
	}

	log := h.logger
	if traceID := shared.GetTraceID(r.Context()); traceID != "" {
		log = log.With("trace_id", traceID)
	}
	go func() {
		if err := h.controller.Stop(); err != nil {
			log.Error("stop request did not finish cleanly", "error", err)
			return
		}
		log.Info("processing stopped via api")
	}()

	shared.RespondWithJSON(w, r, http.StatusAccepted, CommandResponse{Command: "stop", Status: "accepted"})
}

func (h *QueueHandler) command(w http.ResponseWriter, r *http.Request, name string, fn func() error) {
	if err := fn(); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	h.logger.Info("queue command accepted", "command", name, "trace_id", shared.GetTraceID(r.Context()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, CommandResponse{Command: name, Status: "accepted"})
}
