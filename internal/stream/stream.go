// Package stream defines the stream abstraction and the concurrent
// segmented delivery engine shared by chunked protocols.
package stream

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/sluicedev/sluice/internal/httpclient"
)

// Session is the narrow view of the owning session a stream needs:
// HTTP access, option lookup, and logging. The concrete implementation
// lives in the session package.
type Session interface {
	HTTP() *httpclient.Client
	Logger() *slog.Logger

	OptionInt(key string) int
	OptionBool(key string) bool
	OptionFloat(key string) float64
	OptionString(key string) string
	OptionDuration(key string) time.Duration
}

// Stream produces a byte stream when opened. Implementations carry a
// non-owning reference to their session for HTTP and option lookup.
type Stream interface {
	// Open starts delivery and returns the consumer's reader.
	// A stream is opened at most once.
	Open(ctx context.Context) (io.ReadCloser, error)
	// URL returns a direct URL for the stream when one exists.
	URL() (string, error)
	// JSON returns a stable self-description.
	JSON() map[string]any
}

// ErrNoURL is returned by URL for streams with no direct representation.
var ErrNoURL = &Error{msg: "stream has no URL representation"}
