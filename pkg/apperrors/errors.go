// Package apperrors defines the error taxonomy shared by every service in
// dealflow. Services return *Error values; the HTTP boundary maps the Kind to a
// status code and renders Code, Message and Fields.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindConflict           Kind = "conflict"
	KindInvalidReference   Kind = "invalid_reference"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindPreconditionFailed Kind = "precondition_failed"
	KindSignatureInvalid   Kind = "signature_invalid"
	KindRateLimited        Kind = "rate_limited"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrInvalidReference   = &Error{Kind: KindInvalidReference}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrSignatureInvalid   = &Error{Kind: KindSignatureInvalid}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields holds per-field messages for validation failures
	Fields map[string]string
	// Details is extra machine-readable context returned to the caller
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Fields[k])
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithCode returns a copy of e with the machine-readable code set
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// WithDetail returns a copy of e with an extra detail attached
func (e *Error) WithDetail(key string, value any) *Error {
	c := *e
	c.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

// Validation reports malformed or missing input, keyed by field name.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: "the given data was invalid", Fields: fields}
}

// InvalidField is shorthand for a single-field validation failure
func InvalidField(field, message string) *Error {
	return Validation(map[string]string{field: message})
}

func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidReference(code, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidReference, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(code, message string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: code, Message: message}
}

func Forbidden(code, format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an absent resource. It is also returned for resources that
// exist in another tenant.
func NotFound(resource string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    strings.ToUpper(strings.ReplaceAll(resource, " ", "_")) + "_NOT_FOUND",
		Message: resource + " not found",
	}
}

func PreconditionFailed(code, format string, args ...any) *Error {
	return &Error{Kind: KindPreconditionFailed, Code: code, Message: fmt.Sprintf(format, args...)}
}

func SignatureInvalid(err error) *Error {
	return &Error{Kind: KindSignatureInvalid, Code: "INVALID_SIGNATURE", Message: "webhook signature verification failed", Err: err}
}

func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Code: "TOO_MANY_ATTEMPTS", Message: message}
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}
