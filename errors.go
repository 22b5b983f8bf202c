package traybridge

import (
	"errors"
	"strings"
)

// ErrorCode classifies a failed call.
type ErrorCode string

const (
	CodeUnavailable     ErrorCode = "unavailable"      // transport cannot be reached
	CodeNotFound        ErrorCode = "not_found"        // no resource with the given id
	CodeStaleHandle     ErrorCode = "stale_handle"     // rid is no longer known to the host
	CodeInvalidArgument ErrorCode = "invalid_argument" // malformed or rejected argument
	CodeOS              ErrorCode = "os"               // the operating system rejected the operation
	CodeProtocol        ErrorCode = "protocol"         // wire contract mismatch
	CodeInternal        ErrorCode = "internal"         // anything else
)

var (
	// ErrTransportUnavailable is matched by calls that never reached the host.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrNotFound is matched by calls referencing an unknown logical id.
	ErrNotFound = errors.New("resource not found")

	// ErrStaleHandle is matched by calls made through a rid the host no longer
	// recognizes, and by closing a resource twice.
	ErrStaleHandle = errors.New("stale resource handle")

	// ErrInvalidArgument is matched by calls the host rejected because of
	// their arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProtocolMismatch reports a payload that does not follow the wire
	// contract, such as an unknown coordinate tag.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrClosed is returned when a closed tray icon is used. It is a usage
	// error and never wrapped in a CallError.
	ErrClosed = errors.New("tray icon is closed")

	// ErrChannelSubscribed is returned when a second subscriber is installed
	// on a channel.
	ErrChannelSubscribed = errors.New("channel already has a subscriber")
)

// CallError is returned by [Invoker.Invoke] when a call fails.
type CallError struct {
	Cause   error
	Command Command
	Code    ErrorCode
	Message string
}

func (e *CallError) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Command))
	b.WriteString(": ")
	b.WriteString(string(e.Code))

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel corresponding to the error code, or another
// CallError with the same code.
func (e *CallError) Is(target error) bool {
	if t, ok := target.(*CallError); ok {
		return e.Code == t.Code
	}

	switch target {
	case ErrTransportUnavailable:
		return e.Code == CodeUnavailable
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrStaleHandle:
		return e.Code == CodeStaleHandle
	case ErrInvalidArgument:
		return e.Code == CodeInvalidArgument
	case ErrProtocolMismatch:
		return e.Code == CodeProtocol
	}

	return false
}

// newCallError returns a CallError for cmd.
func newCallError(cmd Command, code ErrorCode, message string, cause error) *CallError {
	return &CallError{
		Cause:   cause,
		Command: cmd,
		Code:    code,
		Message: message,
	}
}

// unavailable wraps a transport-level failure of cmd.
func unavailable(cmd Command, cause error) *CallError {
	return newCallError(cmd, CodeUnavailable, "", cause)
}

// codeOf returns the error code to report for err on the host side.
func codeOf(err error) ErrorCode {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Code
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStaleHandle):
		return CodeStaleHandle
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrProtocolMismatch):
		return CodeProtocol
	}

	return CodeInternal
}

// isKnownCode reports whether code is part of the protocol.
func isKnownCode(code ErrorCode) bool {
	switch code {
	case CodeUnavailable, CodeNotFound, CodeStaleHandle, CodeInvalidArgument,
		CodeOS, CodeProtocol, CodeInternal:
		return true
	}

	return false
}
