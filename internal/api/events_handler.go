package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/compositor/internal/api/shared"
	"github.com/phrazzld/compositor/internal/events"
	"github.com/phrazzld/compositor/internal/platform/logger"
)

// Subscriber hands out event subscriptions. events.InMemoryEventEmitter
// implements it.
type Subscriber interface {
	Subscribe(buffer int) (<-chan *events.Event, func())
}

var _ Subscriber = (*events.InMemoryEventEmitter)(nil)

// Stream defaults
const (
	DefaultStreamBuffer    = 64
	DefaultKeepAlivePeriod = 15 * time.Second
)

// EventsHandler streams controller events as server-sent events.
type EventsHandler struct {
	subscriber Subscriber
	buffer     int
	keepAlive  time.Duration
	logger     *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(subscriber Subscriber, logger *slog.Logger) *EventsHandler {
	if subscriber == nil {
		panic("subscriber cannot be nil for EventsHandler")
	}
	if logger == nil {
		panic("logger cannot be nil for EventsHandler")
	}
	return &EventsHandler{
		subscriber: subscriber,
		buffer:     DefaultStreamBuffer,
		keepAlive:  DefaultKeepAlivePeriod,
		logger:     logger.With(slog.String("component", "events_handler")),
	}
}

// Stream handles GET /api/events. Each event is written as
//
//	id: <event id>
//	event: <event type>
//	data: <event json>
//
// until the client disconnects. Events are dropped for a client that falls
// behind by more than the stream buffer.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	log := logger.FromContext(r.Context())

	ch, unsubscribe := h.subscriber.Subscribe(h.buffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, e); err != nil {
				log.Debug("failed to write event", "error", err, "event_type", e.Type)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e *events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
	return err
}
