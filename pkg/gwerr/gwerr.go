// Package gwerr defines the error model shared by every gateway surface.
//
// Each failure a caller can observe is classified by a Kind. Kinds map
// deterministically to HTTP status codes for both the JSON API and the
// WebDAV surface. Upstream (S3) error text is never reflected to clients:
// wrapped causes stay server-side and internal and upstream failures
// carry only a short generated error ID that is also written to the log.
package gwerr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	KindInvalidPath         Kind = "invalidPath"
	KindNotFound            Kind = "notFound"
	KindConflict            Kind = "conflict"
	KindPathForbidden       Kind = "pathForbidden"
	KindPermissionDenied    Kind = "permissionDenied"
	KindUnauthorized        Kind = "unauthorized"
	KindUnsupported         Kind = "unsupported"
	KindLocked              Kind = "locked"
	KindCapacityExhausted   Kind = "capacityExhausted"
	KindUpstreamUnavailable Kind = "upstreamUnavailable"
	KindSizeMismatch        Kind = "sizeMismatch"
	KindPayloadTooLarge     Kind = "payloadTooLarge"
	KindCrossMountRename    Kind = "crossMountRename"
	KindMountNotFound       Kind = "mountNotFound"
	KindInternal            Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindInvalidPath:         http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindPathForbidden:       http.StatusForbidden,
	KindPermissionDenied:    http.StatusForbidden,
	KindUnauthorized:        http.StatusUnauthorized,
	KindUnsupported:         http.StatusUnsupportedMediaType,
	KindLocked:              http.StatusLocked,
	KindCapacityExhausted:   http.StatusInsufficientStorage,
	KindUpstreamUnavailable: http.StatusBadGateway,
	KindSizeMismatch:        http.StatusBadRequest,
	KindPayloadTooLarge:     http.StatusRequestEntityTooLarge,
	KindCrossMountRename:    http.StatusBadRequest,
	KindMountNotFound:       http.StatusNotFound,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the unified gateway error.
type Error struct {
	Kind    Kind
	Message string
	// ErrorID is set on internal and upstream errors so operators can
	// correlate a client report with the full server-side log line.
	ErrorID string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the HTTP status code for this error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an error of the given kind.
func New(kind Kind, format string, v ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, v...)}
}

// Wrap creates an error of the given kind with an underlying cause. The
// cause is kept for logging; it is never serialized toward clients.
func Wrap(kind Kind, cause error, format string, v ...any) *Error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, v...), Cause: cause}
	if kind == KindInternal || kind == KindUpstreamUnavailable {
		e.ErrorID = newErrorID()
	}
	return e
}

// Internal wraps an unexpected error with a generated error ID.
func Internal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: "internal error",
		ErrorID: newErrorID(),
		Cause:   cause,
	}
}

// Upstream wraps an S3-side failure that survived the driver's retries.
func Upstream(cause error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: "upstream storage unavailable",
		ErrorID: newErrorID(),
		Cause:   cause,
	}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// AsError normalizes err into a *Error, wrapping foreign errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// newErrorID returns a short opaque correlation ID.
func newErrorID() string {
	return uuid.NewString()[:8]
}
