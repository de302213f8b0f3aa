package booking

import (
	"errors"
	"fmt"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Code identifies a rejection reason.  Codes are stable and travel to
// clients verbatim so front-ends can tell "sold out" from "bad dates" from
// "try again later".
type Code string

const (
	CodeInvalidRange                 Code = "invalid_range"
	CodeCapacityExceeded             Code = "capacity_exceeded"
	CodeReferenceAllocationExhausted Code = "reference_allocation_exhausted"
	CodeInvalidTransition            Code = "invalid_transition"
	CodeNotFound                     Code = "not_found"
	CodeStoreUnavailable             Code = "store_unavailable"
	CodeInvalidRequest               Code = "invalid_request"
)

// Sentinels matched by errors.Is against any *Rejection of the same code.
var (
	ErrInvalidRange                 = errors.New("invalid date range")
	ErrCapacityExceeded             = errors.New("no units available for the requested dates")
	ErrReferenceAllocationExhausted = errors.New("could not allocate a unique booking reference")
	ErrInvalidTransition            = errors.New("status change not allowed")
	ErrNotFound                     = errors.New("reservation not found")
	ErrStoreUnavailable             = errors.New("reservation store unavailable")
	ErrInvalidRequest               = errors.New("invalid request")
)

var sentinels = map[Code]error{
	CodeInvalidRange:                 ErrInvalidRange,
	CodeCapacityExceeded:             ErrCapacityExceeded,
	CodeReferenceAllocationExhausted: ErrReferenceAllocationExhausted,
	CodeInvalidTransition:            ErrInvalidTransition,
	CodeNotFound:                     ErrNotFound,
	CodeStoreUnavailable:             ErrStoreUnavailable,
	CodeInvalidRequest:               ErrInvalidRequest,
}

// Conflict summarizes a reservation that blocked an admission.  Only the
// date range and status are exposed, never who holds it.
type Conflict struct {
	CheckIn  string       `json:"check_in"`
	CheckOut string       `json:"check_out"`
	Status   model.Status `json:"status"`
}

// Rejection is the structured error returned by every Service operation.
type Rejection struct {
	Code      Code
	Message   string
	Conflicts []Conflict
	Err       error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Code, r.Message, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Is lets errors.Is(err, ErrCapacityExceeded) and friends work.
func (r *Rejection) Is(target error) bool {
	return sentinels[r.Code] == target
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// CodeOf returns the rejection code of err, or CodeStoreUnavailable for
// anything that is not a rejection.
func CodeOf(err error) Code {
	if r, ok := AsRejection(err); ok {
		return r.Code
	}
	return CodeStoreUnavailable
}

func reject(code Code, msg string) *Rejection {
	return &Rejection{Code: code, Message: msg}
}

func invalidRange(format string, args ...interface{}) *Rejection {
	return reject(CodeInvalidRange, fmt.Sprintf(format, args...))
}

func notFound() *Rejection {
	return reject(CodeNotFound, "reservation not found")
}

func invalidTransition(from, to model.Status) *Rejection {
	return reject(CodeInvalidTransition, fmt.Sprintf("cannot move reservation from %s to %s", from, to))
}

func storeUnavailable(err error) *Rejection {
	return &Rejection{Code: CodeStoreUnavailable, Message: "please try again later", Err: err}
}

func capacityExceeded(conflicts []model.Reservation) *Rejection {
	r := reject(CodeCapacityExceeded, "sold out for these dates")
	for _, c := range conflicts {
		r.Conflicts = append(r.Conflicts, Conflict{
			CheckIn:  c.CheckIn.Format(model.DateLayout),
			CheckOut: c.CheckOut.Format(model.DateLayout),
			Status:   c.Status,
		})
	}
	return r
}
