// Package handler holds the HTTP handlers.  Handlers decode and validate
// requests, call the booking service or a repository, and translate
// rejections into status codes; they carry no booking rules themselves.
package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// requestTimeout bounds every store call made on behalf of a request.
const requestTimeout = 5 * time.Second

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct{ v *validator.Validate }

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

func (v *Validator) Validate(i interface{}) error { return v.v.Struct(i) }

// bind decodes the body into req and validates it.  The returned error is
// already a 400 response.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return badRequest(c, fe.Field()+" failed "+fe.Tag()+" validation")
		}
		return badRequest(c, err.Error())
	}
	return nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": string(booking.CodeInvalidRequest), "message": msg})
}

var statusByCode = map[booking.Code]int{
	booking.CodeInvalidRange:                 http.StatusBadRequest,
	booking.CodeInvalidRequest:               http.StatusBadRequest,
	booking.CodeCapacityExceeded:             http.StatusConflict,
	booking.CodeInvalidTransition:            http.StatusUnprocessableEntity,
	booking.CodeNotFound:                     http.StatusNotFound,
	booking.CodeReferenceAllocationExhausted: http.StatusServiceUnavailable,
	booking.CodeStoreUnavailable:             http.StatusServiceUnavailable,
}

// writeError renders a service error.  Anything that is not a rejection is
// reported as store_unavailable without leaking its text.
func writeError(c echo.Context, err error) error {
	r, ok := booking.AsRejection(err)
	if !ok {
		c.Logger().Error(err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"error":   string(booking.CodeStoreUnavailable),
			"message": "please try again later",
		})
	}
	status, ok := statusByCode[r.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := echo.Map{"error": string(r.Code), "message": r.Message}
	if len(r.Conflicts) > 0 {
		body["conflicts"] = r.Conflicts
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, body)
}

// parseStay reads YYYY-MM-DD dates; bad input is an invalid_range rejection.
func parseStay(checkIn, checkOut string) (model.Stay, error) {
	s, err := model.ParseStay(strings.TrimSpace(checkIn), strings.TrimSpace(checkOut))
	if err != nil {
		return model.Stay{}, &booking.Rejection{Code: booking.CodeInvalidRange, Message: "dates must be YYYY-MM-DD", Err: err}
	}
	return s, nil
}

func pathID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// getUserID returns the authenticated staff id set by JWTAuth.
func getUserID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(middleware.UserID(c), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user_id in context")
	}
	return id, nil
}

// staff returns the requester recorded on staff-initiated changes.
func staff(c echo.Context) booking.Requester {
	return booking.Staff(middleware.UserID(c))
}

// reservationView is the wire form of a reservation, with plain dates.
type reservationView struct {
	Reference       string     `json:"reference"`
	RoomCategoryID  int64      `json:"room_category_id"`
	CheckIn         string     `json:"check_in"`
	CheckOut        string     `json:"check_out"`
	Nights          int        `json:"nights"`
	GuestContact    string     `json:"guest_contact"`
	Status          string     `json:"status"`
	IsTentative     bool       `json:"is_tentative"`
	ExpiresAt       *time.Time `json:"tentative_expires_at,omitempty"`
	StatusReason    string     `json:"status_reason,omitempty"`
	StatusChangedBy string     `json:"status_changed_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func viewOf(r *model.Reservation) reservationView {
	v := reservationView{
		Reference:      r.Reference,
		RoomCategoryID: r.RoomCategoryID,
		CheckIn:        r.CheckIn.Format(model.DateLayout),
		CheckOut:       r.CheckOut.Format(model.DateLayout),
		Nights:         r.Stay().Nights(),
		GuestContact:   r.GuestContact,
		Status:         string(r.Status),
		IsTentative:    r.IsTentative,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.StatusReason != nil {
		v.StatusReason = *r.StatusReason
	}
	if r.StatusChangedBy != nil {
		v.StatusChangedBy = *r.StatusChangedBy
	}
	return v
}
