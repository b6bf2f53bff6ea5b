package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures for callers. Business kinds pass through to the
// HTTP layer unchanged; everything from the infrastructure is Unavailable.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInvalidReference
	KindVersionConflict
	KindUnsupportedOperator
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidReference:
		return "invalid_reference"
	case KindVersionConflict:
		return "version_conflict"
	case KindUnsupportedOperator:
		return "unsupported_operator"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInvalidReference    = &Error{Kind: KindInvalidReference}
	ErrVersionConflict     = &Error{Kind: KindVersionConflict}
	ErrUnsupportedOperator = &Error{Kind: KindUnsupportedOperator}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
)

// Field error codes.
const (
	CodeRequired            = "required"
	CodeTypeMismatch        = "type_mismatch"
	CodeEnumInvalid         = "enum_invalid"
	CodePattern             = "pattern"
	CodeUniqueViolation     = "unique_violation"
	CodeRefNotFound         = "ref_not_found"
	CodeNotFound            = "not_found"
	CodeVersionConflict     = "version_conflict"
	CodeUnsupportedOperator = "unsupported_operator"
	CodeInvalid             = "invalid"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

func NewFieldError(code, field, msg string) FieldError { return ferr(code, field, msg) }

type Error struct {
	Kind   Kind
	Msg    string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(" (")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", f.Field, f.Message)
		if i == len(e.Fields)-1 {
			b.WriteString(")")
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrNotFound) works for any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause; the cause's text is kept out of client responses.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Msg: "invalid request", Fields: fields}
}

// KindOf returns the Kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// FieldsOf returns field-level detail when err carries any.
func FieldsOf(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
