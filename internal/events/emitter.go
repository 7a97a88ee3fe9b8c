package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter stores registered handlers in memory and dispatches
// events to them synchronously, in registration order.
type InMemoryEventEmitter struct {
	handlers []registration
	nextID   uint64
	mu       sync.RWMutex
	logger   *slog.Logger
}

type registration struct {
	id      uint64
	handler EventHandler
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		handlers: make([]registration, 0),
		logger:   logger.With("component", "in_memory_event_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.register(handler)
}

func (e *InMemoryEventEmitter) register(handler EventHandler) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers = append(e.handlers, registration{id: e.nextID, handler: handler})
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
	return e.nextID
}

func (e *InMemoryEventEmitter) unregister(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.handlers {
		if r.id == id {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			e.logger.Debug("unregistered event handler", "handler_count", len(e.handlers))
			return
		}
	}
}

// HandlerCount returns the number of registered handlers.
func (e *InMemoryEventEmitter) HandlerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// EmitEvent publishes the given event to all registered handlers.
// If any handler returns an error, the event will still be sent to all other handlers,
// and the first error encountered will be returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *Event) error {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	for i, r := range e.handlers {
		handlers[i] = r.handler
	}
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Debug("no handlers registered for event",
			"event_id", event.ID,
			"event_type", event.Type)
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Subscribe registers a buffered channel that receives every emitted event.
// Events are dropped for a subscriber whose buffer is full. The returned
// function unregisters the subscription and closes the channel.
func (e *InMemoryEventEmitter) Subscribe(buffer int) (<-chan *Event, func()) {
	sub := &subscriber{ch: make(chan *Event, buffer), logger: e.logger}
	id := e.register(sub)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			e.unregister(id)
			sub.close()
		})
	}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan *Event
	closed bool
	logger *slog.Logger
}

func (s *subscriber) HandleEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	select {
	case s.ch <- event:
	default:
		s.logger.Debug("subscriber buffer full, event dropped",
			"event_id", event.ID,
			"event_type", event.Type)
	}
	return nil
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Ensure InMemoryEventEmitter implements EventEmitter
var _ EventEmitter = (*InMemoryEventEmitter)(nil)
