package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"hookline/internal/api/middleware"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/audit"
)

type AuditLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]*audit.AuditLog, error)
}

type AuditHandler struct {
	logs AuditLister
}

func NewAuditHandler(logs AuditLister) *AuditHandler {
	return &AuditHandler{logs: logs}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.logs.List(r.Context(), tenant.TenantID, limit)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.TenantID).Msg("Failed to list audit logs")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list audit logs", nil)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
