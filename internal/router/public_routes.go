package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
)

// PublicMiddleware holds the optional middleware of the guest routes.  A
// nil entry leaves the routes unguarded.
type PublicMiddleware struct {
	// Catalog caches GET /v1/room-categories.
	Catalog echo.MiddlewareFunc
	// Limit rate-limits the booking writes.
	Limit echo.MiddlewareFunc
}

func optional(mw ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterPublic registers the guest booking API.  Guests authenticate a
// reservation by reference and contact, never with a token.
// Availability is deliberately left out of the response cache.
func RegisterPublic(e *echo.Echo, catalog *handler.CatalogHandler, b *handler.BookingHandler, mw PublicMiddleware) {
	e.GET("/v1/room-categories", catalog.List, optional(mw.Catalog)...)
	e.GET("/v1/room-categories/:id/availability", b.Availability)

	g := e.Group("/v1/bookings", optional(mw.Limit)...)
	g.POST("", b.Book)
	g.POST("/lookup", b.Lookup)
	g.POST("/cancel", b.Cancel)
}
