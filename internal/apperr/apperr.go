// Package apperr defines the error taxonomy shared by the core packages.
// Every failure that crosses a component boundary carries one Kind so the
// HTTP layer and CLI can map it to a status code without string matching.
//
// Errors are compared with [errors.Is] against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrForbidden) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindInternal is any failure that does not fit another kind.
	KindInternal Kind = iota
	// KindUnauthorized means no identity was presented or it could not be resolved.
	KindUnauthorized
	// KindForbidden means the identity is known but lacks the role or relation.
	KindForbidden
	// KindNotFound means a referenced course, material or chunk does not exist.
	KindNotFound
	// KindValidation means a required field is missing or malformed.
	KindValidation
	// KindConfiguration means an embedding or language-model credential is missing.
	KindConfiguration
	// KindProviderUnavailable is a transient external failure; the caller may retry.
	KindProviderUnavailable
	// KindPartialIngestion means some chunks failed embedding or persistence.
	KindPartialIngestion
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration_error"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindPartialIngestion:
		return "partial_ingestion"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is comparisons. They match any *Error of the same kind.
var (
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrPartialIngestion    = &Error{Kind: KindPartialIngestion}
)

// Error is a classified error. Op names the operation that failed
// (e.g. "ingestion.IngestMaterial"); Err is the optional underlying cause.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Op is the operation that produced the error.
	Op string
	// Msg is a human-readable message safe to return to callers.
	Msg string
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Unauthorized is shorthand for New(KindUnauthorized, op, msg).
func Unauthorized(op, msg string) *Error { return New(KindUnauthorized, op, msg) }

// Forbidden is shorthand for New(KindForbidden, op, msg).
func Forbidden(op, msg string) *Error { return New(KindForbidden, op, msg) }

// NotFound is shorthand for New(KindNotFound, op, msg).
func NotFound(op, msg string) *Error { return New(KindNotFound, op, msg) }

// Validation is shorthand for New(KindValidation, op, msg).
func Validation(op, msg string) *Error { return New(KindValidation, op, msg) }

// Configuration is shorthand for New(KindConfiguration, op, msg).
func Configuration(op, msg string) *Error { return New(KindConfiguration, op, msg) }

// ProviderUnavailable wraps a transient provider failure.
func ProviderUnavailable(op string, err error) *Error {
	return &Error{Kind: KindProviderUnavailable, Op: op, Msg: "provider unavailable", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
