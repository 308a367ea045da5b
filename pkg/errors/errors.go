// Package errors provides the structured error system shared by every
// component: a small, fixed taxonomy of codes, each with default
// retryability, user-facing visibility, an errno for FUSE replies, and an
// HTTP status for decoding remote API failures.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Code is one of a small fixed set of error codes. Unlike a sprawling
// per-subsystem taxonomy, every component maps its failures onto these six;
// the mapping decision is made once, at the boundary where the failure
// originates.
type Code string

const (
	NotFound     Code = "NOT_FOUND"
	AccessDenied Code = "ACCESS_DENIED"
	Transient    Code = "TRANSIENT"
	CorruptIO    Code = "CORRUPT_IO"
	InvalidArg   Code = "INVALID_ARG"
	Internal     Code = "INTERNAL"
)

// FSError is the structured error type returned by every package in this
// module. It carries enough context to be logged, translated to an errno
// for a FUSE reply, or surfaced to a caller of the remote client.
type FSError struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Context map[string]string      `json:"context,omitempty"`
	Cause   error                  `json:"-"`

	Component string    `json:"component"`
	Operation string    `json:"operation,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Retryable  bool   `json:"retryable"`
	UserFacing bool   `json:"user_facing"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Stack      string `json:"stack,omitempty"`
}

func (e *FSError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FSError) Unwrap() error {
	return e.Cause
}

// Is compares by code, so errors.Is(err, errors.New(NotFound, "")) matches
// any NotFound error regardless of message.
func (e *FSError) Is(target error) bool {
	if other, ok := target.(*FSError); ok {
		return e.Code == other.Code
	}
	return false
}

// String is a detailed, single-line representation for log output.
func (e *FSError) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("FSError{%s}", strings.Join(parts, ", "))
}

// JSON renders the error for structured log sinks.
func (e *FSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New constructs an FSError with code-appropriate defaults and a fresh
// request ID, ready for With* chaining.
func New(code Code, message string) *FSError {
	return &FSError{
		Code:       code,
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		RequestID:  uuid.NewString(),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
		HTTPStatus: DefaultHTTPStatus(code),
	}
}

// IsRetryableByDefault reports whether a code is retryable absent more
// specific knowledge. Only Transient is retryable: NotFound, AccessDenied,
// InvalidArg, and CorruptIO are all terminal from the caller's point of
// view, and Internal indicates a programming error that retrying won't fix.
func IsRetryableByDefault(code Code) bool {
	return code == Transient
}

// IsUserFacingByDefault reports whether a code's message is safe and useful
// to surface to the person driving the mount, as opposed to only the log.
func IsUserFacingByDefault(code Code) bool {
	switch code {
	case NotFound, AccessDenied, InvalidArg:
		return true
	default:
		return false
	}
}

// DefaultHTTPStatus maps a code to the HTTP status used when decoding a
// remote API response into an FSError.
func DefaultHTTPStatus(code Code) int {
	switch code {
	case InvalidArg:
		return 400
	case AccessDenied:
		return 403
	case NotFound:
		return 404
	case Transient:
		return 503
	case CorruptIO:
		return 502
	default:
		return 500
	}
}

// Errno maps a code to the syscall error returned to the kernel in a FUSE
// reply. CorruptIO maps to EIO rather than a more specific errno because
// POSIX gives callers no better way to signal "the data we have doesn't
// match its checksum."
func (c Code) Errno() syscall.Errno {
	switch c {
	case NotFound:
		return syscall.ENOENT
	case AccessDenied:
		return syscall.EACCES
	case Transient:
		return syscall.EAGAIN
	case CorruptIO:
		return syscall.EIO
	case InvalidArg:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

// CaptureStack captures the current call stack for debugging, skipping
// frames inside this file.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

func (e *FSError) WithContext(key, value string) *FSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *FSError) WithDetail(key string, value interface{}) *FSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *FSError) WithComponent(component string) *FSError {
	e.Component = component
	return e
}

func (e *FSError) WithOperation(operation string) *FSError {
	e.Operation = operation
	return e
}

func (e *FSError) WithCause(cause error) *FSError {
	e.Cause = cause
	return e
}

func (e *FSError) WithRequestID(id string) *FSError {
	e.RequestID = id
	return e
}

func (e *FSError) WithStack() *FSError {
	e.Stack = CaptureStack(2)
	return e
}

// UserFacingMessage returns a message safe to show whoever is driving the
// mount, falling back to a generic message when the error isn't marked
// user-facing.
func (e *FSError) UserFacingMessage() string {
	if !e.UserFacing {
		return "an internal error occurred"
	}
	return e.Message
}

// FromErrno maps a syscall error back to a code, for wrapping failures
// surfaced by staging-file I/O against the local filesystem.
func FromErrno(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return NotFound
	case syscall.EACCES, syscall.EPERM:
		return AccessDenied
	case syscall.EINVAL:
		return InvalidArg
	case syscall.EAGAIN, syscall.ETIMEDOUT, syscall.ECONNREFUSED, syscall.ECONNRESET:
		return Transient
	default:
		return Internal
	}
}
