package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "hookline/internal/api/context"
	"hookline/internal/api/handlers"
	"hookline/internal/api/middleware"
	"hookline/internal/pkg/errors"
)

const (
	ScopeSubscribersRead  = "subscribers:read"
	ScopeSubscribersWrite = "subscribers:write"
	ScopeEventsWrite      = "events:write"
	ScopeDeliveriesRead   = "deliveries:read"
)

type Dependencies struct {
	SubscriberHandler *handlers.SubscriberHandler
	EventHandler      *handlers.EventHandler
	DeliveryHandler   *handlers.DeliveryHandler
	AuditHandler      *handlers.AuditHandler
	HealthHandler     *handlers.HealthHandler
	MetricsHandler    *handlers.MetricsHandler
	AuthMiddleware    *middleware.AuthMiddleware
	TenantMiddleware  *middleware.TenantMiddleware
	RateLimiter       *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})

	// Public
	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Middleware references
	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware
	rl := deps.RateLimiter

	// Subscriber administration
	router.POST("/api/v1/subscribers",
		chain(deps.SubscriberHandler.Create, middleware.Instrument("/api/v1/subscribers"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeSubscribersWrite), rl.Limit(middleware.LimitAPIWrite)))
	router.GET("/api/v1/subscribers",
		chain(deps.SubscriberHandler.List, middleware.Instrument("/api/v1/subscribers"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeSubscribersRead), rl.Limit(middleware.LimitAPIRead)))
	router.GET("/api/v1/subscribers/:subscriber_id",
		chain(deps.SubscriberHandler.Get, middleware.Instrument("/api/v1/subscribers/:subscriber_id"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeSubscribersRead), rl.Limit(middleware.LimitAPIRead)))
	router.PATCH("/api/v1/subscribers/:subscriber_id",
		chain(deps.SubscriberHandler.Update, middleware.Instrument("/api/v1/subscribers/:subscriber_id"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeSubscribersWrite), rl.Limit(middleware.LimitAPIWrite)))
	router.DELETE("/api/v1/subscribers/:subscriber_id",
		chain(deps.SubscriberHandler.Delete, middleware.Instrument("/api/v1/subscribers/:subscriber_id"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeSubscribersWrite), rl.Limit(middleware.LimitAPIWrite)))

	// Event ingestion
	router.POST("/api/v1/events",
		chain(deps.EventHandler.Publish, middleware.Instrument("/api/v1/events"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeEventsWrite), rl.Limit(middleware.LimitEvents)))
	router.GET("/api/v1/events/:event_id/result",
		chain(deps.EventHandler.Result, middleware.Instrument("/api/v1/events/:event_id/result"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeEventsWrite), rl.Limit(middleware.LimitAPIRead)))

	// Delivery ledger
	router.GET("/api/v1/deliveries",
		chain(deps.DeliveryHandler.List, middleware.Instrument("/api/v1/deliveries"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeDeliveriesRead), rl.Limit(middleware.LimitAPIRead)))

	// Audit trail
	router.GET("/api/v1/audit-logs",
		chain(deps.AuditHandler.List, middleware.Instrument("/api/v1/audit-logs"), authMid.Handle, tenantMid.Handle,
			middleware.RequireScope(ScopeSubscribersRead), rl.Limit(middleware.LimitAPIRead)))

	return middleware.Logging(router)
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
