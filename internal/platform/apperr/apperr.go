// Package apperr defines tagged domain errors and the single table that maps
// them onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a domain failure.
type Kind int

const (
	KindInternal Kind = iota
	KindBusinessRule
	KindValidation
	KindUnauthenticated
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindBusinessRule:
		return "business_rule"
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// statusByKind is the only place where domain failures meet HTTP.
var statusByKind = map[Kind]int{
	KindInternal:        http.StatusInternalServerError,
	KindBusinessRule:    http.StatusBadRequest,
	KindValidation:      http.StatusUnprocessableEntity,
	KindUnauthenticated: http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
}

// FieldError describes one rejected field of a request payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a domain error carrying a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// BusinessRule returns an error for a violated domain rule. The message is
// returned to the client unchanged.
func BusinessRule(msg string) *Error {
	return &Error{Kind: KindBusinessRule, Message: msg}
}

// Validation returns an error listing every rejected field.
func Validation(fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "Validation failed", Fields: fields}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Internal wraps an unexpected failure. The cause is never shown to clients.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf reports the kind of err; errors not created by this package are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Status returns the HTTP status for a kind.
func Status(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ValidationBody is the response shape for rejected payloads.
type ValidationBody struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

// HTTP converts err into an *echo.HTTPError using the kind table. An
// *echo.HTTPError passes through untouched.
func HTTP(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var ae *Error
	if !errors.As(err, &ae) {
		ae = Internal(err)
	}

	status := Status(ae.Kind)
	var resp *echo.HTTPError
	switch ae.Kind {
	case KindValidation:
		fields := ae.Fields
		if fields == nil {
			fields = []FieldError{}
		}
		resp = echo.NewHTTPError(status, ValidationBody{Message: ae.Message, Errors: fields})
	default:
		resp = echo.NewHTTPError(status, ae.Message)
	}
	return resp.SetInternal(err)
}
