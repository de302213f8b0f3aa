package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/model"
)

// AdminHandler exposes staff lifecycle operations on reservations.
type AdminHandler struct {
	Svc *booking.Service
	// Sweep runs an on-demand expiry sweep.  It defaults to the service's
	// own sweep; the server wires the lock-guarded scheduler instead.
	Sweep func(ctx context.Context) (int, error)
}

func NewAdminHandler(svc *booking.Service, sweep func(ctx context.Context) (int, error)) *AdminHandler {
	if svc == nil {
		panic("nil service passed to NewAdminHandler")
	}
	if sweep == nil {
		sweep = func(ctx context.Context) (int, error) {
			return svc.SweepExpiredHolds(ctx, time.Now())
		}
	}
	return &AdminHandler{Svc: svc, Sweep: sweep}
}

type reasonReq struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Get answers GET /v1/admin/reservations/:reference.
func (h *AdminHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	r, err := h.Svc.Get(ctx, c.Param("reference"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

func (h *AdminHandler) Confirm(c echo.Context) error {
	return h.apply(c, func(ctx context.Context, ref string, who booking.Requester, _ string) (*model.Reservation, error) {
		return h.Svc.Confirm(ctx, ref, who)
	})
}

func (h *AdminHandler) CheckIn(c echo.Context) error {
	return h.apply(c, func(ctx context.Context, ref string, who booking.Requester, _ string) (*model.Reservation, error) {
		return h.Svc.CheckIn(ctx, ref, who)
	})
}

func (h *AdminHandler) CheckOut(c echo.Context) error {
	return h.apply(c, func(ctx context.Context, ref string, who booking.Requester, _ string) (*model.Reservation, error) {
		return h.Svc.CheckOut(ctx, ref, who)
	})
}

func (h *AdminHandler) NoShow(c echo.Context) error {
	return h.apply(c, h.Svc.MarkNoShow)
}

func (h *AdminHandler) Cancel(c echo.Context) error {
	return h.apply(c, h.Svc.Cancel)
}

// apply reads an optional {"reason"} body and runs op for the path's
// reference.
func (h *AdminHandler) apply(c echo.Context, op func(ctx context.Context, ref string, who booking.Requester, reason string) (*model.Reservation, error)) error {
	var req reasonReq
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	r, err := op(ctx, c.Param("reference"), staff(c), req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

// Purge answers DELETE /v1/admin/reservations/:reference.
func (h *AdminHandler) Purge(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	if err := h.Svc.Purge(ctx, c.Param("reference"), staff(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RunSweep answers POST /v1/admin/sweep.  Row failures are logged by the
// service; the response still reports what was released.
func (h *AdminHandler) RunSweep(c echo.Context) error {
	released, err := h.Sweep(c.Request().Context())
	body := echo.Map{"released": released}
	if err != nil {
		c.Logger().Error(err)
		body["error"] = string(booking.CodeStoreUnavailable)
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}
