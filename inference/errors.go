package inference

import (
	"errors"
	"fmt"
	"strings"

	"github.com/accel-lab/go-accel/hardware"
)

// ErrorKind classifies every failure the orchestrator can surface. The API
// layer maps kinds onto HTTP statuses; callers branch on the kind, never on
// error text.
type ErrorKind string

const (
	// ErrKindNoHardware means no backend of any kind is healthy.
	ErrKindNoHardware ErrorKind = "no_hardware_available"
	// ErrKindBackendUnavailable means the explicitly requested backend has
	// no healthy device, regardless of the other backend's health.
	ErrKindBackendUnavailable ErrorKind = "backend_unavailable"
	// ErrKindDeviceBusy means a hardware-level concurrency limit was hit.
	ErrKindDeviceBusy ErrorKind = "device_busy"
	// ErrKindTimeout means the request deadline elapsed before dispatch
	// completed.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindInference means a backend SDK failed during an actual call.
	ErrKindInference ErrorKind = "inference_failure"
	// ErrKindInvalidRequest means the request was rejected before dispatch.
	ErrKindInvalidRequest ErrorKind = "invalid_request"
)

// Error is the structured failure returned by the orchestrator. It always
// names the originating backend kind(s) so partial failures across engines
// stay attributable.
type Error struct {
	Kind    ErrorKind
	Engines []hardware.Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if len(e.Engines) > 0 {
		names := make([]string, len(e.Engines))
		for i, k := range e.Engines {
			names[i] = string(k)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(names, ", "))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes the underlying backend error for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, message string, engines ...hardware.Kind) *Error {
	return &Error{Kind: kind, Message: message, Engines: engines}
}

func wrapError(kind ErrorKind, cause error, engines ...hardware.Kind) *Error {
	return &Error{Kind: kind, Cause: cause, Engines: engines}
}

// KindOf extracts the ErrorKind from err, defaulting to inference_failure
// for anything that is not an orchestrator *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindInference
}
