// Package apperr is the error taxonomy shared by the booking and
// notification services. Every error that crosses a service boundary is an
// *Error carrying a Kind (how the caller should react) and a stable Code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
	KindUnavailable
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFoundError"
	case KindUpstream:
		return "UpstreamError"
	case KindUnavailable:
		return "UnavailableError"
	case KindConflict:
		return "ConflictError"
	default:
		return "InternalError"
	}
}

const (
	CodeMissingField                = "MissingField"
	CodeBadEmail                    = "BadEmail"
	CodeInvalidTicketCount          = "InvalidTicketCount"
	CodeInvalidBody                 = "InvalidBody"
	CodeInsufficientInventory       = "InsufficientInventory"
	CodeEventMissing                = "EventMissing"
	CodeAvailabilityCheckFailed     = "AvailabilityCheckFailed"
	CodeInventoryOracleDown         = "InventoryOracleDown"
	CodeLedgerWriteFailed           = "LedgerWriteFailed"
	CodeBookingsMissing             = "BookingsMissing"
	CodeNotificationsMissing        = "NotificationsMissing"
	CodeUnsupportedNotificationType = "UnsupportedNotificationType"
	CodeInvalidAvailability         = "InvalidAvailability"
	CodeEventExists                 = "EventExists"
	CodeInternal                    = "Internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and Code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(code, msg string) *Error { return New(KindValidation, code, msg) }

func NotFound(code, msg string) *Error { return New(KindNotFound, code, msg) }

func Upstream(code, msg string, err error) *Error { return Wrap(KindUpstream, code, msg, err) }

func Unavailable(code, msg string, err error) *Error { return Wrap(KindUnavailable, code, msg, err) }

func Conflict(code, msg string) *Error { return New(KindConflict, code, msg) }

func Internal(msg string, err error) *Error { return Wrap(KindInternal, CodeInternal, msg, err) }

// As extracts the *Error in err's chain. Anything else is reported as internal.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal("internal error", err)
}

func KindOf(err error) Kind { return As(err).Kind }

// HTTPStatus maps err to the default status for its kind.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
