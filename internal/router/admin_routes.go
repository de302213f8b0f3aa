package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterAdmin registers staff endpoints under /v1/admin.  Every route
// requires a valid JWT with role STAFF or ADMIN; creating staff accounts
// requires ADMIN.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, catalog *handler.CatalogHandler, auth *handler.AuthHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStaff, model.RoleAdmin),
	)

	// ---- Reservations ----
	r := g.Group("/reservations/:reference")
	r.GET("", a.Get)
	r.POST("/confirm", a.Confirm)
	r.POST("/check-in", a.CheckIn)
	r.POST("/check-out", a.CheckOut)
	r.POST("/no-show", a.NoShow)
	r.POST("/cancel", a.Cancel)
	r.DELETE("", a.Purge)

	g.POST("/sweep", a.RunSweep)

	// ---- Catalog ----
	g.POST("/room-categories", catalog.Create)
	g.PUT("/room-categories/:id", catalog.Update)

	// ---- Staff ----
	if auth != nil {
		g.POST("/staff", auth.CreateStaff, middleware.RequireRole(model.RoleAdmin))
	}
}
