package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"hookline/internal/api/middleware"
	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/models"
	"hookline/internal/platform/queue"
)

type EventDispatcher interface {
	Dispatch(ctx context.Context, event *models.Event) (*models.DispatchResult, error)
}

// EventQueue is the async path. It is nil when Redis is not configured.
type EventQueue interface {
	Enqueue(ctx context.Context, event *models.Event) error
	GetResult(ctx context.Context, eventID string) (*models.DispatchResult, error)
}

type EventHandler struct {
	dispatcher EventDispatcher
	queue      EventQueue

	// stopping is cancelled by Shutdown; synchronous dispatches derive from it.
	stopping context.Context
	stop     context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

func NewEventHandler(dispatcher EventDispatcher, queue EventQueue) *EventHandler {
	stopping, stop := context.WithCancel(context.Background())
	return &EventHandler{
		dispatcher: dispatcher,
		queue:      queue,
		stopping:   stopping,
		stop:       stop,
	}
}

// Shutdown interrupts synchronous dispatches between attempts and waits for
// them to return, or for ctx to end. Interrupted events are handed to the
// queue when one is configured.
func (h *EventHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.stop()

	done := make(chan struct{})
	go func() {
		h.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *EventHandler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.inFlight.Add(1)
	return true
}

type eventRequest struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	User      models.Actor           `json:"user"`
	Timestamp *time.Time             `json:"timestamp"`
}

func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	event := &models.Event{
		ID:       req.ID,
		Type:     req.Type,
		TenantID: tenant.TenantID,
		Data:     req.Data,
		User:     req.User,
	}
	if event.ID == "" {
		event.ID = "evt_" + uuid.New().String()
	}
	if req.Timestamp != nil {
		event.Timestamp = req.Timestamp.UTC()
	} else {
		event.Timestamp = time.Now().UTC()
	}

	if err := webhooks.ValidateEvent(event); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, event)
		return
	}

	if !h.begin() {
		h.interrupted(w, r, event, nil)
		return
	}
	result, err := h.dispatch(w, r, event)
	h.inFlight.Done()

	switch {
	case stderrors.Is(err, webhooks.ErrInterrupted):
		h.interrupted(w, r, event, result)
		return
	case stderrors.Is(err, webhooks.ErrResolution):
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeUnavailable, "Subscriber lookup failed, retry the event", nil)
		return
	case stderrors.Is(err, webhooks.ErrInvalidEvent):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	case err != nil:
		log.Error().Err(err).Str("event_id", event.ID).Msg("Dispatch failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Dispatch failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// dispatch runs the full retry cycle inline. It survives the producer hanging
// up and outlasts the server write timeout, but stops between attempts once
// Shutdown is called.
func (h *EventHandler) dispatch(w http.ResponseWriter, r *http.Request, event *models.Event) (*models.DispatchResult, error) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !stderrors.Is(err, http.ErrNotSupported) {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to lift write deadline")
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	unregister := context.AfterFunc(h.stopping, cancel)
	defer unregister()

	return h.dispatcher.Dispatch(ctx, event)
}

// interrupted answers for an event whose synchronous dispatch was cut short
// by shutdown. The event is queued for the worker when possible.
func (h *EventHandler) interrupted(w http.ResponseWriter, r *http.Request, event *models.Event, partial *models.DispatchResult) {
	logger := log.With().Str("event_id", event.ID).Logger()

	if h.queue != nil {
		err := h.queue.Enqueue(context.WithoutCancel(r.Context()), event)
		if err == nil {
			logger.Warn().Msg("Dispatch interrupted by shutdown, event queued")
			writeJSON(w, http.StatusAccepted, map[string]string{
				"event_id": event.ID,
				"status":   "queued",
			})
			return
		}
		logger.Error().Err(err).Msg("Failed to queue interrupted event")
	}

	var details interface{}
	if partial != nil {
		details = partial
	}
	logger.Warn().Msg("Dispatch interrupted by shutdown")
	errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeUnavailable, "Server is shutting down, retry the event", details)
}

func (h *EventHandler) enqueue(w http.ResponseWriter, r *http.Request, event *models.Event) {
	if h.queue == nil {
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeUnavailable, "Async ingestion is not configured", nil)
		return
	}

	if err := h.queue.Enqueue(r.Context(), event); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to enqueue event")
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeUnavailable, "Failed to enqueue event", nil)
		return
	}

	log.Info().Str("event_id", event.ID).Str("event_type", event.Type).Msg("Event queued")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"event_id": event.ID,
		"status":   "queued",
	})
}

func (h *EventHandler) Result(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeUnavailable, "Async ingestion is not configured", nil)
		return
	}

	eventID := param(r, "event_id")
	result, err := h.queue.GetResult(r.Context(), eventID)
	if stderrors.Is(err, queue.ErrResultNotFound) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "No result for event", nil)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to load dispatch result")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load result", nil)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
