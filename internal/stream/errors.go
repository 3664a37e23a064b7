package stream

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the streaming pipeline.
var (
	// ErrClosed is returned when the ring buffer or reader is closed.
	ErrClosed = errors.New("stream closed")
	// ErrTimeout is returned when a blocking read exceeds the stream timeout.
	ErrTimeout = errors.New("read timeout")
	// ErrCancelled is returned from Read after the consumer closes the
	// stream, distinguishing teardown from natural end of stream.
	ErrCancelled = errors.New("stream cancelled")
	// ErrFetchFatal marks a segment fetch failure that must not be retried,
	// such as an HTTP 4xx other than 408 or 429.
	ErrFetchFatal = errors.New("unrecoverable fetch error")
)

// Error is a runtime failure inside an opened stream, surfaced to the
// consumer through Reader.Read.
type Error struct {
	msg   string
	cause error
}

// NewError wraps a cause as a stream error.
func NewError(cause error) *Error {
	return &Error{msg: cause.Error(), cause: cause}
}

// Errorf creates a stream error from a format string.
func Errorf(format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{msg: err.Error(), cause: errors.Unwrap(err)}
}

func (e *Error) Error() string { return "stream error: " + e.msg }

func (e *Error) Unwrap() error { return e.cause }

// IsStreamError reports whether err is (or wraps) a stream error.
func IsStreamError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
