// Package errors defines the coded errors returned by trellis operations.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindStore      Kind = "store"
)

// ErrorCode identifies the specific failure within a kind.
type ErrorCode string

const (
	// Validation errors
	CodeNoFeature      ErrorCode = "VALIDATION-001"
	CodeBlocked        ErrorCode = "VALIDATION-002"
	CodeInvalidCommand ErrorCode = "VALIDATION-003"
	CodeInvalidState   ErrorCode = "VALIDATION-004"

	// Conflict errors
	CodeTimerRunning ErrorCode = "CONFLICT-001"

	// Lookup errors
	CodeTaskNotFound    ErrorCode = "NOTFOUND-001"
	CodeFeatureNotFound ErrorCode = "NOTFOUND-002"

	// Store errors
	CodeStoreFailed ErrorCode = "STORE-001"
)

// Reason is the short machine-readable cause of a validation error.
type Reason string

const (
	ReasonNoFeature      Reason = "no_feature"
	ReasonBlocked        Reason = "blocked"
	ReasonInvalidCommand Reason = "invalid_command"
	ReasonInvalidState   Reason = "invalid_state"
)

var reasonCodes = map[Reason]ErrorCode{
	ReasonNoFeature:      CodeNoFeature,
	ReasonBlocked:        CodeBlocked,
	ReasonInvalidCommand: CodeInvalidCommand,
	ReasonInvalidState:   CodeInvalidState,
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrValidation = stderrors.New("validation error")
	ErrConflict   = stderrors.New("conflict")
	ErrNotFound   = stderrors.New("not found")
	ErrStore      = stderrors.New("store error")
)

var kindSentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindConflict:   ErrConflict,
	KindNotFound:   ErrNotFound,
	KindStore:      ErrStore,
}

// Error is an application error with a kind, a code and an optional cause.
type Error struct {
	Kind    Kind
	Code    ErrorCode
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for e's kind, and any *Error with the same code.
func (e *Error) Is(target error) bool {
	if target == kindSentinels[e.Kind] {
		return true
	}
	var other *Error
	if stderrors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// Validation builds a validation error for reason.
func Validation(reason Reason, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    reasonCodes[reason],
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func Conflict(code ErrorCode, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code ErrorCode, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Store wraps a persistence failure. Nothing was written when one is returned.
func Store(cause error) *Error {
	return &Error{
		Kind:    KindStore,
		Code:    CodeStoreFailed,
		Message: "store operation failed",
		Cause:   cause,
	}
}

// As is errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ReasonOf returns the validation reason carried by err, or "".
func ReasonOf(err error) Reason {
	if e, ok := As(err); ok {
		return e.Reason
	}
	return ""
}

// UserMessage renders err for display to an end user.
func UserMessage(err error) string {
	e, ok := As(err)
	if !ok {
		return err.Error()
	}
	switch {
	case e.Reason == ReasonNoFeature:
		return "This task is not associated with a feature, so it cannot enter QA."
	case e.Reason == ReasonBlocked:
		return "This task is blocked by a dependency that is not done yet."
	case e.Kind == KindStore:
		return "Could not save the change. Nothing was modified; please try again later."
	}
	return e.Message
}
