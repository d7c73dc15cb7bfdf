package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes live conversation failures.
type ErrorKind string

const (
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	KindTransport         ErrorKind = "transport_error"
	KindDecode            ErrorKind = "decode_error"
	KindToolHandler       ErrorKind = "tool_handler_error"
	KindTimeout           ErrorKind = "timeout"
)

// Error is the error type returned by the live core.
//
// Use errors.Is(err, ErrTimeout) (or any other sentinel below) to test the
// kind without caring about the operation that failed.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrDecode            = &Error{Kind: KindDecode}
	ErrToolHandler       = &Error{Kind: KindToolHandler}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

var (
	errNoDevice       = errors.New("no audio device configured")
	errNoTransport    = errors.New("no transport configured")
	errUnknownProfile = errors.New("unknown conversation profile")
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// DeviceError wraps a microphone/speaker acquisition failure.
func DeviceError(op string, err error) *Error {
	return newError(KindDeviceUnavailable, op, err)
}

// TransportFailure wraps a session open/send/close failure.
func TransportFailure(op string, err error) *Error {
	return newError(KindTransport, op, err)
}

// DecodeFailure reports a malformed speech fragment.
func DecodeFailure(message string) *Error {
	return &Error{Kind: KindDecode, Op: "decode", Message: message}
}

// TimeoutError reports a bounded wait that expired.
func TimeoutError(op string, err error) *Error {
	return newError(KindTimeout, op, err)
}

// classifyWait converts a context error from a bounded wait into a Timeout,
// and anything else into fallback.
func classifyWait(op string, err error, fallback ErrorKind) *Error {
	var liveErr *Error
	if errors.As(err, &liveErr) {
		return liveErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError(op, err)
	}
	return newError(fallback, op, err)
}

// UserMessage renders err as the short string shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var liveErr *Error
	if !errors.As(err, &liveErr) {
		return fmt.Sprintf("Error: %v", err)
	}
	detail := liveErr.Message
	if detail == "" && liveErr.Err != nil {
		detail = liveErr.Err.Error()
	}
	switch liveErr.Kind {
	case KindDeviceUnavailable:
		return "Error starting recording: " + detail
	case KindTimeout:
		return "Error starting conversation: timed out waiting for " + liveErr.Op
	case KindTransport:
		if liveErr.Op == "close" {
			return "Error ending conversation."
		}
		if liveErr.Op == "open" {
			return "Error starting conversation: " + detail
		}
		return "Error communicating with the assistant."
	case KindDecode:
		return "Error playing audio: " + detail
	case KindToolHandler:
		return "Error running tool: " + detail
	default:
		return "Error: " + detail
	}
}
