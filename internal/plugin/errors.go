package plugin

import (
	"errors"
	"fmt"
)

// NoPluginError indicates that no registered matcher accepted a URL,
// including after redirect resolution.
type NoPluginError struct {
	URL string
}

func (e *NoPluginError) Error() string {
	return fmt.Sprintf("no plugin can handle URL: %s", e.URL)
}

// PluginError indicates a handler failure: an unparseable upstream
// response, failed authentication, or (when Fatal) a determination
// that the URL is not playable at all.
type PluginError struct {
	Message string
	Fatal   bool
	cause   error
}

// NewPluginError wraps a handler failure.
func NewPluginError(message string) *PluginError {
	return &PluginError{Message: message}
}

// NewFatalPluginError marks a URL as permanently unplayable. The
// message is the entire user-visible payload.
func NewFatalPluginError(message string) *PluginError {
	return &PluginError{Message: message, Fatal: true}
}

// PluginErrorf formats a handler failure.
func PluginErrorf(format string, args ...any) *PluginError {
	err := fmt.Errorf(format, args...)
	return &PluginError{Message: err.Error(), cause: err}
}

func (e *PluginError) Error() string {
	if e.Fatal {
		return e.Message
	}
	return "plugin error: " + e.Message
}

func (e *PluginError) Unwrap() error { return e.cause }

// IsFatal reports whether err is a plugin error flagged fatal.
func IsFatal(err error) bool {
	var pe *PluginError
	return errors.As(err, &pe) && pe.Fatal
}
