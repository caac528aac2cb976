// Package errors carries coded errors across the pipeline. A code decides
// the HTTP status at the API edge and the terminal status a worker records,
// so every layer wraps with a code instead of returning bare strings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code classifies an error independently of its message text.
type Code string

const (
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeTimeout         Code = "TIMEOUT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeFailedPrecond   Code = "FAILED_PRECONDITION"
	CodeResourceExhaust Code = "RESOURCE_EXHAUSTED"
)

// Codes specific to composite rendering.
const (
	// CodeInvalidOverlay rejects a submission whose overlay list fails
	// composition validation. No job is created.
	CodeInvalidOverlay Code = "INVALID_OVERLAY"
	// CodeNotReady means the requested artifact exists as a job but the
	// render has not completed. Callers should keep polling.
	CodeNotReady Code = "NOT_READY"
	// CodeAlreadyRendering rejects a second render start on a job that is
	// already past queued.
	CodeAlreadyRendering Code = "ALREADY_RENDERING"
	// CodeRenderFailure marks an engine exit with non-zero status or a
	// missing artifact. Recorded on the job, never retried automatically.
	CodeRenderFailure Code = "RENDER_FAILURE"
)

// Error is the concrete error type the pipeline passes around. Op names the
// failing operation ("job.create"), Fields holds structured context that
// ends up in the API error envelope, and Stack is captured at construction.
type Error struct {
	Code    Code
	Message string
	Op      string
	Err     error
	Fields  map[string]any
	Stack   []Frame
}

// Frame is one application-level stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause to the errors.Is and errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two pipeline errors by code alone, so sentinel comparisons
// survive wrapping and reformatted messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithField attaches one structured context entry and returns the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = value
	return e
}

// WithFields merges structured context entries and returns the error.
func (e *Error) WithFields(fields map[string]any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// HTTPStatus maps the code to the status the API writes for it.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeBadRequest, CodeInvalidOverlay:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyExists, CodeNotReady, CodeAlreadyRendering:
		return http.StatusConflict
	case CodeFailedPrecond:
		return http.StatusPreconditionFailed
	case CodeResourceExhaust:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// StackTrace renders the captured frames one per line.
func (e *Error) StackTrace() string {
	if len(e.Stack) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: callers(2)}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: callers(2)}
}

// Wrap layers an operation name and message over err. A wrapped pipeline
// error keeps its code and fields; anything else becomes CodeInternal.
// Returns nil when err is nil.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{
		Code:    CodeInternal,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   callers(2),
	}
	var e *Error
	if errors.As(err, &e) {
		wrapped.Code = e.Code
		wrapped.Fields = e.Fields
	}
	return wrapped
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, op string, format string, args ...any) *Error {
	return Wrap(err, op, fmt.Sprintf(format, args...))
}

// WrapWithCode layers an operation over err and forces the code, overriding
// whatever code the cause carried. Returns nil when err is nil.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   callers(2),
	}
}

// Internal builds a CodeInternal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf builds a CodeInternal error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// NotFound builds a CodeNotFound error naming the resource and id.
func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

// Validation builds a CodeValidation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf builds a CodeValidation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// ValidationField builds a CodeValidation error tied to one input field.
func ValidationField(field string, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

// Conflict builds a CodeConflict error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// AlreadyExists builds a CodeAlreadyExists error naming the resource and id.
func AlreadyExists(resource string, id string) *Error {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

// Timeout builds a CodeTimeout error for the named operation.
func Timeout(operation string) *Error {
	return New(CodeTimeout, fmt.Sprintf("operation timed out: %s", operation)).
		WithField("operation", operation)
}

// Unavailable builds a CodeUnavailable error for the named dependency.
func Unavailable(service string) *Error {
	return New(CodeUnavailable, fmt.Sprintf("service unavailable: %s", service)).
		WithField("service", service)
}

// InvalidOverlay builds a CodeInvalidOverlay error for the overlay at index.
func InvalidOverlay(index int, message string) *Error {
	return New(CodeInvalidOverlay, message).WithField("overlay_index", index)
}

// NotReady builds a CodeNotReady error carrying the job's current state.
func NotReady(jobID string, status string, progress int) *Error {
	return New(CodeNotReady, fmt.Sprintf("job not completed: %s", jobID)).
		WithField("status", status).
		WithField("progress", progress)
}

// AlreadyRendering builds a CodeAlreadyRendering error for the job.
func AlreadyRendering(jobID string) *Error {
	return New(CodeAlreadyRendering, fmt.Sprintf("render already started: %s", jobID)).
		WithField("job_id", jobID)
}

// RenderFailure builds a CodeRenderFailure error.
func RenderFailure(message string) *Error {
	return New(CodeRenderFailure, message)
}

// GetCode returns err's code, or CodeInternal for foreign errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetHTTPStatus returns the HTTP status for err, 500 for foreign errors.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// GetFields returns err's structured context, nil if there is none.
func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) && e.Fields != nil {
		return e.Fields
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsNotFound reports whether err is a CodeNotFound error.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsValidation reports whether err is a CodeValidation error.
func IsValidation(err error) bool {
	return IsCode(err, CodeValidation)
}

// IsConflict reports whether err is a conflict in the wide sense, covering
// both CodeConflict and CodeAlreadyExists.
func IsConflict(err error) bool {
	return IsCode(err, CodeConflict) || IsCode(err, CodeAlreadyExists)
}

// IsInvalidOverlay reports whether err is a CodeInvalidOverlay error.
func IsInvalidOverlay(err error) bool {
	return IsCode(err, CodeInvalidOverlay)
}

// IsNotReady reports whether err is a CodeNotReady error.
func IsNotReady(err error) bool {
	return IsCode(err, CodeNotReady)
}

// IsAlreadyRendering reports whether err is a CodeAlreadyRendering error.
func IsAlreadyRendering(err error) bool {
	return IsCode(err, CodeAlreadyRendering)
}

// As wraps errors.As so callers need a single errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is wraps errors.Is so callers need a single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// callers records up to ten application frames, skipping the runtime's own.
func callers(skip int) []Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}

	var out []Frame
	it := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := it.Next()
		if !strings.Contains(fr.File, "runtime/") {
			out = append(out, Frame{File: fr.File, Line: fr.Line, Function: fr.Function})
		}
		if !more || len(out) == 10 {
			return out
		}
	}
}
