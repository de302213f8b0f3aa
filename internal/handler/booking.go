package handler

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/booking"
)

// BookingHandler serves the guest-facing booking API.  Guests never log in;
// a reference plus the contact they booked with identifies a reservation.
type BookingHandler struct {
	Svc *booking.Service
}

func NewBookingHandler(svc *booking.Service) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Svc: svc}
}

type bookReq struct {
	RoomCategoryID int64  `json:"room_category_id" validate:"required,gt=0"`
	CheckIn        string `json:"check_in" validate:"required"`
	CheckOut       string `json:"check_out" validate:"required"`
	GuestContact   string `json:"guest_contact" validate:"required,max=255"`
	Mode           string `json:"mode" validate:"omitempty,oneof=confirm hold"`
	HoldTTLSeconds *int64 `json:"hold_ttl_seconds" validate:"omitempty,gte=0"`
}

type lookupReq struct {
	Reference    string `json:"reference" validate:"required,max=32"`
	GuestContact string `json:"guest_contact" validate:"required,max=255"`
}

type guestCancelReq struct {
	Reference    string `json:"reference" validate:"required,max=32"`
	GuestContact string `json:"guest_contact" validate:"required,max=255"`
	Reason       string `json:"reason" validate:"max=255"`
}

// Availability answers GET /v1/room-categories/:id/availability.
func (h *BookingHandler) Availability(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid room category id")
	}
	stay, err := parseStay(c.QueryParam("check_in"), c.QueryParam("check_out"))
	if err != nil {
		return writeError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.Svc.CheckAvailability(ctx, id, stay)
	if err != nil {
		return writeError(c, err)
	}
	// counts go stale the moment another booking lands
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, a)
}

// Book answers POST /v1/bookings.  mode defaults to confirm.
func (h *BookingHandler) Book(c echo.Context) error {
	var req bookReq
	if err := bind(c, &req); err != nil {
		return err
	}
	stay, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return writeError(c, err)
	}
	in := booking.BookingRequest{
		RoomCategoryID: req.RoomCategoryID,
		Stay:           stay,
		GuestContact:   req.GuestContact,
		Mode:           booking.ModeConfirm,
	}
	if req.Mode == string(booking.ModeHold) {
		in.Mode = booking.ModeHold
		// nil leaves the service default in place
		if req.HoldTTLSeconds != nil {
			ttl, err := holdTTL(*req.HoldTTLSeconds, h.Svc.Policy().MaxHoldTTL)
			if err != nil {
				return writeError(c, err)
			}
			in.HoldTTL = &ttl
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	r, err := h.Svc.Book(ctx, in)
	if err != nil {
		// rejections carry their own code and status; see writeError
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(r))
}

// Lookup answers POST /v1/bookings/lookup.  A wrong contact is a 404,
// exactly like an unknown reference.
func (h *BookingHandler) Lookup(c echo.Context) error {
	var req lookupReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	r, err := h.Svc.Lookup(ctx, req.Reference, req.GuestContact)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

// Cancel answers POST /v1/bookings/cancel.
func (h *BookingHandler) Cancel(c echo.Context) error {
	var req guestCancelReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	r, err := h.Svc.CancelAsGuest(ctx, req.Reference, req.GuestContact, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

// holdTTL converts hold_ttl_seconds to a Duration.  Values above the
// policy maximum are rejected here, before the multiplication could wrap
// around into a small positive duration.
func holdTTL(secs int64, ceiling time.Duration) (time.Duration, error) {
	limit := int64(math.MaxInt64 / int64(time.Second))
	if ceiling > 0 {
		limit = int64(ceiling / time.Second)
	}
	if secs > limit {
		return 0, &booking.Rejection{
			Code:    booking.CodeInvalidRange,
			Message: fmt.Sprintf("hold ttl may be at most %d seconds", limit),
		}
	}
	return time.Duration(secs) * time.Second, nil
}
