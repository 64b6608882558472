// Package apierror defines the typed error envelope that crosses every
// component boundary in this operator: a stable name, a human message, an
// HTTP status, and an optional backtrace (spec §7). Components wrap
// upstream errors with Wrap/New instead of returning bare errors so the
// gateway and the reconciler can render name+message+status without
// re-inspecting the underlying cause.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Name is a stable identifier, e.g. "E_NOT_FOUND".
type Name string

const (
	NameNotFound             Name = "E_NOT_FOUND"
	NameValidation           Name = "E_VALIDATION"
	NameTransient            Name = "E_TRANSIENT"
	NameTimeout              Name = "E_TIMEOUT"
	NameFatal                Name = "E_FATAL"
	NameUnsupportedTransport Name = "E_UNSUPPORTED_TRANSPORT"
	NameInternal             Name = "E_INTERNAL"
)

// Error is the envelope. It is never constructed with a nil cause for
// wrapped errors; New() errors have cause == nil.
type Error struct {
	name    Name
	message string
	status  int
	cause   error
	stack   string
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.name, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.name, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Name() Name { return e.name }

func (e *Error) Message() string { return e.message }

func (e *Error) Status() int { return e.status }

func (e *Error) Stack() string { return e.stack }

// New builds a fresh typed error with a captured stack trace.
func New(name Name, status int, message string) *Error {
	return &Error{name: name, message: message, status: status, stack: string(debug.Stack())}
}

// Wrap attaches the given name/message/status to err without inspecting
// it, preserving err as the cause for Unwrap. FromKubernetes is the
// classifying constructor.
func Wrap(err error, name Name, status int, message string) *Error {
	return &Error{name: name, message: message, status: status, cause: err, stack: string(debug.Stack())}
}

// FromKubernetes classifies a client-go error into the envelope, mapping
// API status codes the way spec §7 requires (404 -> not found, others
// propagate with the API code attached).
func FromKubernetes(err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	if apierrors.IsNotFound(err) {
		return Wrap(err, NameNotFound, http.StatusNotFound, "resource not found")
	}
	if status, ok := err.(apierrors.APIStatus); ok {
		code := int(status.Status().Code)
		if code == 0 {
			code = http.StatusInternalServerError
		}
		return Wrap(err, NameTransient, code, status.Status().Message)
	}
	return Wrap(err, NameTransient, http.StatusInternalServerError, "kubernetes API error")
}

// IsNotFound reports whether err (or any error it wraps) is a Not found
// envelope, mirroring delete-path idempotence (spec §4.1).
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.name == NameNotFound
	}
	return false
}

// Timeout constructs the typed timeout error used by wait_until_ready and
// send_request (spec §4.7, §5).
func Timeout(message string) *Error {
	return New(NameTimeout, http.StatusRequestTimeout, message)
}

// UnsupportedTransport is returned by the gateway's transport factory for
// any TransportKind other than stdio (spec §9 open question #3).
func UnsupportedTransport(kind string) *Error {
	return New(NameUnsupportedTransport, http.StatusNotImplemented, fmt.Sprintf("transport %q is not implemented", kind))
}

// Validation builds a 422 envelope for spec invariant violations.
func Validation(message string) *Error {
	return New(NameValidation, http.StatusUnprocessableEntity, message)
}
