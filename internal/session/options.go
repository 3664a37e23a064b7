// Package session provides the process-wide coordinator: options,
// HTTP client, plugin registry, URL resolution and stream lookup.
package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sluicedev/sluice/internal/config"
	"github.com/sluicedev/sluice/pkg/duration"
)

// OptionError reports an invalid option key or value.
type OptionError struct {
	Key     string
	Message string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("invalid option %q: %s", e.Key, e.Message)
}

// optionValidator checks and optionally adjusts a coerced value.
type optionValidator func(any) error

// deprecatedAliases maps old option names to their replacements.
// Setting an alias logs a warning and writes the canonical key.
var deprecatedAliases = map[string]string{
	"hls-segment-attempts": "stream-segment-attempts",
	"hls-segment-threads":  "stream-segment-threads",
	"hls-segment-timeout":  "stream-segment-timeout",
	"hls-timeout":          "stream-timeout",
}

// Options is the typed key/value store backing a session. Defaults are
// fixed at construction; Set validates against the default's type.
type Options struct {
	mu         sync.RWMutex
	values     map[string]any
	defaults   map[string]any
	validators map[string]optionValidator
	logger     *slog.Logger
}

// NewOptions builds the option store with defaults drawn from the
// loaded configuration.
func NewOptions(cfg *config.Config, logger *slog.Logger) *Options {
	startOffset, _ := duration.Parse(cfg.HLS.StartOffset)
	dur, _ := duration.Parse(cfg.HLS.Duration)

	defaults := map[string]any{
		"http-proxy":         cfg.HTTP.Proxy,
		"http-timeout":       cfg.HTTP.Timeout,
		"http-retries":       cfg.HTTP.Retries,
		"http-retry-backoff": cfg.HTTP.RetryBackoff,
		"http-ssl-verify":    cfg.HTTP.SSLVerify,
		"http-ssl-cert":      cfg.HTTP.SSLCert,
		"http-headers":       cfg.HTTP.Headers,
		"http-cookies":       cfg.HTTP.Cookies,
		"http-query-params":  cfg.HTTP.QueryParams,

		"stream-timeout":          cfg.Stream.Timeout,
		"stream-segment-attempts": cfg.Stream.SegmentAttempts,
		"stream-segment-threads":  cfg.Stream.SegmentThreads,
		"stream-segment-timeout":  cfg.Stream.SegmentTimeout,
		"stream-queue-size":       cfg.Stream.QueueSize,
		"ringbuffer-size":         int(cfg.Stream.RingbufferSize),

		"hls-live-edge":                cfg.HLS.LiveEdge,
		"hls-live-restart":             cfg.HLS.LiveRestart,
		"hls-start-offset":             startOffset,
		"hls-duration":                 dur,
		"hls-playlist-reload-attempts": cfg.HLS.PlaylistReloadAttempts,
		"hls-playlist-reload-time":     cfg.HLS.PlaylistReloadTime,
		"hls-segment-queue-threshold":  cfg.HLS.SegmentQueueThreshold,

		"locale": cfg.Locale,
	}

	return &Options{
		values:   make(map[string]any),
		defaults: defaults,
		validators: map[string]optionValidator{
			"stream-segment-threads":       intRange(1, 10),
			"stream-segment-attempts":      intRange(1, 100),
			"stream-queue-size":            intRange(1, 1024),
			"ringbuffer-size":              intRange(1, 1<<31-1),
			"hls-live-edge":                intRange(1, 1000),
			"hls-playlist-reload-attempts": intRange(1, 100),
		},
		logger: logger,
	}
}

func intRange(lo, hi int) optionValidator {
	return func(v any) error {
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("expected an integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

// Set stores an option value. Keys with a known default are coerced to
// the default's type and validated; unknown keys (handler-specific
// arguments) are stored as given.
func (o *Options) Set(key string, value any) error {
	if canonical, ok := deprecatedAliases[key]; ok {
		o.logger.Warn("option is deprecated",
			slog.String("option", key),
			slog.String("replacement", canonical),
		)
		key = canonical
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if def, known := o.defaults[key]; known {
		coerced, err := coerce(value, def)
		if err != nil {
			return &OptionError{Key: key, Message: err.Error()}
		}
		value = coerced
	}
	if validate, ok := o.validators[key]; ok {
		if err := validate(value); err != nil {
			return &OptionError{Key: key, Message: err.Error()}
		}
	}
	o.values[key] = value
	return nil
}

// Get returns the stored value, the default, or nil.
func (o *Options) Get(key string) any {
	if canonical, ok := deprecatedAliases[key]; ok {
		key = canonical
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.values[key]; ok {
		return v
	}
	return o.defaults[key]
}

// coerce converts value to the type of the default.
func coerce(value, def any) (any, error) {
	switch def.(type) {
	case int:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		}
	case bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case float64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
	case string:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case time.Duration:
		switch v := value.(type) {
		case time.Duration:
			return v, nil
		case int:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			d, err := duration.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("bad duration: %v", err)
			}
			return d, nil
		}
	case map[string]string:
		switch v := value.(type) {
		case map[string]string:
			return v, nil
		case map[string]any:
			out := make(map[string]string, len(v))
			for k, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("expected string values, got %T", item)
				}
				out[k] = s
			}
			return out, nil
		case string:
			return parsePairs(v)
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("expected a %T, got %T", def, value)
}

// parsePairs parses "k1=v1;k2=v2" option strings into a map.
func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value pairs, got %q", pair)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
