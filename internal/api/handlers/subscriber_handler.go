package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"hookline/internal/api/middleware"
	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/audit"
	"hookline/internal/platform/models"
	"hookline/internal/platform/repositories"
)

type SubscriberStore interface {
	Create(ctx context.Context, s *models.Subscriber) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Subscriber, error)
	List(ctx context.Context, tenantID string) ([]*models.Subscriber, error)
	Update(ctx context.Context, s *models.Subscriber) error
	Delete(ctx context.Context, tenantID, id string) error
}

// Auditor records administrative changes.
type Auditor interface {
	Log(ctx context.Context, actor audit.Actor, action, resourceType, resourceID string, metadata map[string]interface{})
}

type SubscriberHandler struct {
	store   SubscriberStore
	auditor Auditor
}

func NewSubscriberHandler(store SubscriberStore, auditor Auditor) *SubscriberHandler {
	return &SubscriberHandler{store: store, auditor: auditor}
}

func (h *SubscriberHandler) recordChange(r *http.Request, action string, sub *models.Subscriber) {
	if h.auditor == nil {
		return
	}
	tenant := middleware.TenantFrom(r.Context())
	h.auditor.Log(r.Context(), audit.ActorFromRequest(r, tenant.TenantID, tenant.UserID), action, "subscriber", sub.ID,
		map[string]interface{}{
			"name":         sub.Name,
			"url":          sub.URL,
			"event_filter": sub.EventFilter,
			"enabled":      sub.Enabled,
		})
}

// subscriberRequest uses pointers so updates can tell absent from zero.
type subscriberRequest struct {
	Name          *string           `json:"name"`
	URL           *string           `json:"url"`
	Secret        *string           `json:"secret"`
	EventFilter   *string           `json:"event_filter"`
	Enabled       *bool             `json:"enabled"`
	Headers       map[string]string `json:"headers"`
	MaxAttempts   *int              `json:"max_attempts"`
	BaseBackoffMs *int64            `json:"base_backoff_ms"`
}

func (req *subscriberRequest) apply(s *models.Subscriber) {
	if req.Name != nil {
		s.Name = *req.Name
	}
	if req.URL != nil {
		s.URL = *req.URL
	}
	if req.Secret != nil {
		s.Secret = *req.Secret
	}
	if req.EventFilter != nil {
		s.EventFilter = *req.EventFilter
	}
	if req.Enabled != nil {
		s.Enabled = *req.Enabled
	}
	if req.Headers != nil {
		s.Headers = req.Headers
	}
	if req.MaxAttempts != nil {
		s.MaxAttempts = *req.MaxAttempts
	}
	if req.BaseBackoffMs != nil {
		s.BaseBackoff = time.Duration(*req.BaseBackoffMs) * time.Millisecond
	}
}

func (h *SubscriberHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	var req subscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	sub := &models.Subscriber{TenantID: tenant.TenantID, Enabled: true}
	req.apply(sub)

	if err := webhooks.ValidateSubscriber(sub); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if err := h.store.Create(r.Context(), sub); err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.TenantID).Msg("Failed to create subscriber")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create subscriber", nil)
		return
	}

	log.Info().
		Str("tenant_id", sub.TenantID).
		Str("subscriber_id", sub.ID).
		Str("event_filter", sub.EventFilter).
		Str("secret", models.MaskSecret(sub.Secret)).
		Msg("Subscriber created")
	h.recordChange(r, audit.ActionCreate, sub)

	writeJSON(w, http.StatusCreated, sub)
}

func (h *SubscriberHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	subs, err := h.store.List(r.Context(), tenant.TenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.TenantID).Msg("Failed to list subscribers")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list subscribers", nil)
		return
	}
	if subs == nil {
		subs = []*models.Subscriber{}
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *SubscriberHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriberHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req subscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	req.apply(sub)
	if err := webhooks.ValidateSubscriber(sub); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if err := h.store.Update(r.Context(), sub); err != nil {
		if stderrors.Is(err, repositories.ErrNotFound) {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Subscriber not found", nil)
			return
		}
		log.Error().Err(err).Str("subscriber_id", sub.ID).Msg("Failed to update subscriber")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update subscriber", nil)
		return
	}

	h.recordChange(r, audit.ActionUpdate, sub)
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	id := param(r, "subscriber_id")

	if err := h.store.Delete(r.Context(), tenant.TenantID, id); err != nil {
		if stderrors.Is(err, repositories.ErrNotFound) {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Subscriber not found", nil)
			return
		}
		log.Error().Err(err).Str("subscriber_id", id).Msg("Failed to delete subscriber")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to delete subscriber", nil)
		return
	}

	h.recordChange(r, audit.ActionDelete, &models.Subscriber{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriberHandler) load(w http.ResponseWriter, r *http.Request) (*models.Subscriber, bool) {
	tenant := middleware.TenantFrom(r.Context())
	id := param(r, "subscriber_id")

	sub, err := h.store.GetByID(r.Context(), tenant.TenantID, id)
	if stderrors.Is(err, repositories.ErrNotFound) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Subscriber not found", nil)
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("subscriber_id", id).Msg("Failed to load subscriber")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load subscriber", nil)
		return nil, false
	}
	return sub, true
}
