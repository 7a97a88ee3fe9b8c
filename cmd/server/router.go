package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/compositor/internal/api"
	apiMiddleware "github.com/phrazzld/compositor/internal/api/middleware"
	"github.com/phrazzld/compositor/internal/api/shared"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status string `json:"status"`
	Queue  string `json:"queue"`
}

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))
	r.Use(middleware.Recoverer)

	taskHandler := api.NewTaskHandler(app.controller, app.logger)
	queueHandler := api.NewQueueHandler(app.controller, app.logger)
	eventsHandler := api.NewEventsHandler(app.emitter, app.logger)

	r.Route("/api", func(r chi.Router) {
		if app.jwtService != nil {
			r.Use(apiMiddleware.NewAuthMiddleware(app.jwtService).Authenticate)
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreateTask)
			r.Put("/", taskHandler.ReplaceTasks)
			r.Get("/", taskHandler.ListTasks)
			r.Get("/{id}", taskHandler.GetTask)
			r.Delete("/{id}", taskHandler.DeleteTask)
			r.Put("/{id}/priority", taskHandler.SetPriority)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", queueHandler.Stats)
			r.Put("/settings", queueHandler.UpdateSettings)
			r.Post("/start", queueHandler.Start)
			r.Post("/pause", queueHandler.Pause)
			r.Post("/resume", queueHandler.Resume)
			r.Post("/cancel", queueHandler.Cancel)
			r.Post("/stop", queueHandler.Stop)
		})

		if app.history != nil {
			historyHandler := api.NewHistoryHandler(app.history, app.logger)
			r.Route("/history", func(r chi.Router) {
				r.Get("/tasks", historyHandler.ListTasks)
				r.Get("/tasks/{id}", historyHandler.GetTask)
				r.Get("/stats", historyHandler.DailyStats)
			})
		}

		r.Get("/events", eventsHandler.Stream)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, healthResponse{
			Status: "ok",
			Queue:  string(app.controller.Status()),
		})
	})

	return r
}
