// Package apperr defines the error taxonomy surfaced to ingestion and query callers.
//
// Every error carries a Kind, used for classification and HTTP status mapping, and a
// stable machine-readable Code. Kinds can be matched with errors.Is against the
// sentinel values (ErrValidation, ErrNotFound, ...) even after wrapping.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindExternalService
	KindUnauthorized
	KindRateLimited
	KindForbidden
)

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrForbidden       = errors.New("forbidden")
)

var sentinels = map[Kind]error{
	KindValidation:      ErrValidation,
	KindNotFound:        ErrNotFound,
	KindConflict:        ErrConflict,
	KindExternalService: ErrExternalService,
	KindUnauthorized:    ErrUnauthorized,
	KindRateLimited:     ErrRateLimited,
	KindForbidden:       ErrForbidden,
}

var defaultCodes = map[Kind]string{
	KindValidation:      "validation_error",
	KindNotFound:        "not_found",
	KindConflict:        "conflict",
	KindExternalService: "external_service_error",
	KindUnauthorized:    "unauthorized",
	KindRateLimited:     "rate_limited",
	KindForbidden:       "forbidden",
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (cause: %v)", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches the Kind sentinel, so errors.Is(err, ErrNotFound) works for any NotFound error.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalService:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, code, msg string, cause error) *Error {
	if code == "" {
		code = defaultCodes[kind]
	}
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func Validation(msg string) *Error {
	return newErr(KindValidation, "", msg, nil)
}

// MissingField is the normalizer's error for absent carrier, tracking number or status.
func MissingField(field string) *Error {
	return newErr(KindValidation, "missing_required_field", "missing required field: "+field, nil)
}

func NotFound(resource, id string) *Error {
	return newErr(KindNotFound, "", fmt.Sprintf("%s not found: %s", resource, id), nil)
}

func Conflict(code, msg string) *Error {
	return newErr(KindConflict, code, msg, nil)
}

func ExternalService(msg string, cause error) *Error {
	return newErr(KindExternalService, "", msg, cause)
}

func Unauthorized(msg string) *Error {
	return newErr(KindUnauthorized, "", msg, nil)
}

func RateLimited(msg string) *Error {
	return newErr(KindRateLimited, "", msg, nil)
}

func Forbidden(msg string) *Error {
	return newErr(KindForbidden, "", msg, nil)
}

// From extracts the typed error from a chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
