package middleware

import (
	"context"
	"net/http"

	apiContext "hookline/internal/api/context"
	"hookline/internal/pkg/errors"
	"hookline/internal/platform/auth"
	"hookline/internal/platform/models"
)

type TenantContext struct {
	TenantID string
	UserID   string
}

type TenantMiddleware struct{}

func NewTenantMiddleware() *TenantMiddleware {
	return &TenantMiddleware{}
}

// Handle scopes the request to the tenant named in the token, falling back
// to the default tenant.
func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		tenantID := claims.TenantID
		if tenantID == "" {
			tenantID = models.DefaultTenantID
		}

		ctx := context.WithValue(r.Context(), apiContext.Tenant, &TenantContext{
			TenantID: tenantID,
			UserID:   claims.UserID,
		})

		next(w, r.WithContext(ctx))
	}
}

// TenantFrom returns the tenant attached by TenantMiddleware.
func TenantFrom(ctx context.Context) *TenantContext {
	if t, ok := ctx.Value(apiContext.Tenant).(*TenantContext); ok {
		return t
	}
	return &TenantContext{TenantID: models.DefaultTenantID}
}
