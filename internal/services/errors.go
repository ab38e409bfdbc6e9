package services

import (
	"context"
	"errors"
	"strings"
)

// Failure classes. Every error from Wrap matches exactly one with errors.Is.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrCanceled      = errors.New("canceled")
)

// Error is a classified failure with the stage and operation it came from.
type Error struct {
	Kind   error
	Stage  string
	Op     string
	Detail string
	Err    error
}

// Wrap tags err (which may be nil) with kind and a "stage: op: detail" prefix.
// A nil kind is treated as ErrExternalTool.
func Wrap(kind error, stage, op, detail string, err error) error {
	if kind == nil {
		kind = ErrExternalTool
	}
	return &Error{
		Kind:   kind,
		Stage:  strings.TrimSpace(stage),
		Op:     strings.TrimSpace(op),
		Detail: strings.TrimSpace(detail),
		Err:    err,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	wrote := false
	for _, part := range []string{e.Stage, e.Op, e.Detail} {
		if part != "" {
			b.WriteString(": ")
			b.WriteString(part)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString(": service failure")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the class and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsCanceled reports whether err comes from cancellation rather than failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
