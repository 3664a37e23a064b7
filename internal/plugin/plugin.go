// Package plugin defines the handler contract: URL matchers, typed
// arguments, the registry, and stream-name weighting.
package plugin

import (
	"context"
	"regexp"

	"github.com/sluicedev/sluice/internal/stream"
)

// Matcher binds a URL pattern to a resolution priority. Higher
// priority wins; ties fall to registration order.
type Matcher struct {
	Priority int
	Pattern  *regexp.Regexp
}

// Common matcher priorities.
const (
	PriorityNoPlugin = 0
	PriorityLow      = 10
	PriorityNormal   = 20
	PriorityHigh     = 30
)

// Argument declares one handler-specific option.
type Argument struct {
	Name      string
	Default   any
	Help      string
	Sensitive bool
	Required  bool
	Requires  []string
	Excludes  []string
}

// StreamEntry is one named stream in a handler's result. Order is
// significant: it breaks weight ties for best/worst selection.
type StreamEntry struct {
	Name   string
	Stream stream.Stream
}

// Plugin is a URL handler. Implementations declare the URLs they
// accept and produce the streams available at one of them.
type Plugin interface {
	// Name is the registry-unique handler name.
	Name() string
	// Matchers returns the URL patterns this handler accepts.
	Matchers() []Matcher
	// Arguments returns the handler-specific options, if any.
	Arguments() []Argument
	// Streams resolves the named streams available at url. Options are
	// read from the session.
	Streams(ctx context.Context, session stream.Session, url string) ([]StreamEntry, error)
}
