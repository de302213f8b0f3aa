// Package router registers the HTTP routes.  Public booking routes,
// staff auth routes and the admin group live in separate files.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterRoutes registers the probes and, when metrics is non-nil, the
// Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler, metrics http.Handler) {
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth registers staff login under /v1/auth and the
// authenticated /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	e.POST("/v1/auth/login", a.Login)
	e.GET("/v1/me", a.Me,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStaff, model.RoleAdmin))
}
