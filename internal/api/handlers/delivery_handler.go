package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"hookline/internal/api/middleware"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/models"
	"hookline/internal/platform/repositories"
)

type DeliveryQuerier interface {
	Query(ctx context.Context, filter models.DeliveryFilter, limit int) ([]*models.DeliveryAttempt, error)
}

type DeliveryHandler struct {
	ledger DeliveryQuerier
}

func NewDeliveryHandler(ledger DeliveryQuerier) *DeliveryHandler {
	return &DeliveryHandler{ledger: ledger}
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	q := r.URL.Query()

	filter := models.DeliveryFilter{
		TenantID:     tenant.TenantID,
		SubscriberID: q.Get("subscriber_id"),
		EventID:      q.Get("event_id"),
		Status:       models.DeliveryStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown status", nil)
		return
	}

	limit := repositories.DefaultDeliveryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	if limit > repositories.MaxDeliveryLimit {
		limit = repositories.MaxDeliveryLimit
	}

	attempts, err := h.ledger.Query(r.Context(), filter, limit)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.TenantID).Msg("Failed to query deliveries")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to query deliveries", nil)
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}
