package session

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/sluicedev/sluice/internal/cache"
	"github.com/sluicedev/sluice/internal/config"
	"github.com/sluicedev/sluice/internal/httpclient"
	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/stream"
)

// Session is the process-wide coordinator. It owns the option store,
// the shared HTTP client, the plugin registry and the plugin cache,
// and is safe for concurrent use.
type Session struct {
	cfg      *config.Config
	logger   *slog.Logger
	http     *httpclient.Client
	options  *Options
	registry *plugin.Registry
	cache    *cache.Cache
	locale   language.Tag

	resolveCache *resolveCache
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithRegistry supplies a pre-populated plugin registry.
func WithRegistry(r *plugin.Registry) SessionOption {
	return func(s *Session) { s.registry = r }
}

// WithCache attaches a persistent plugin cache.
func WithCache(c *cache.Cache) SessionOption {
	return func(s *Session) { s.cache = c }
}

// New creates a session from the loaded configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...SessionOption) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:          cfg,
		logger:       logger,
		options:      NewOptions(cfg, logger),
		registry:     plugin.NewRegistry(),
		locale:       systemLocale(cfg.Locale),
		resolveCache: newResolveCache(resolveCacheSize),
	}
	for _, opt := range opts {
		opt(s)
	}

	client, err := httpclient.New(cfg.HTTP, logger)
	if err != nil {
		return nil, err
	}
	s.http = client

	if s.locale != language.Und {
		s.options.Set("locale", s.locale.String())
	}
	return s, nil
}

// systemLocale parses the configured locale, falling back to the
// environment ("LANG=en_US.UTF-8" style) when unset.
func systemLocale(configured string) language.Tag {
	candidate := configured
	if candidate == "" {
		env := os.Getenv("LANG")
		env, _, _ = strings.Cut(env, ".")
		candidate = strings.ReplaceAll(env, "_", "-")
	}
	if candidate == "" || candidate == "C" || candidate == "POSIX" {
		return language.Und
	}
	tag, err := language.Parse(candidate)
	if err != nil {
		return language.Und
	}
	return tag
}

// HTTP returns the shared HTTP client.
func (s *Session) HTTP() *httpclient.Client { return s.http }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Plugins returns the handler registry.
func (s *Session) Plugins() *plugin.Registry { return s.registry }

// Cache returns the plugin cache, or nil when none is attached.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Locale returns the session language tag.
func (s *Session) Locale() language.Tag { return s.locale }

// SetOption stores a session option. Changes to http-* keys are pushed
// into the shared HTTP client so that every subsequent request picks
// them up.
func (s *Session) SetOption(key string, value any) error {
	if err := s.options.Set(key, value); err != nil {
		return err
	}
	return s.applyHTTPOption(key)
}

func (s *Session) applyHTTPOption(key string) error {
	switch key {
	case "http-headers":
		headers, _ := s.options.Get(key).(map[string]string)
		s.http.SetHeaders(headers)
	case "http-cookies":
		cookies, _ := s.options.Get(key).(map[string]string)
		s.http.SetCookies(cookies)
	case "http-query-params":
		params, _ := s.options.Get(key).(map[string]string)
		s.http.SetQueryParams(params)
	case "http-timeout":
		s.http.SetTimeout(s.OptionDuration(key))
	case "http-proxy":
		if err := s.http.SetProxy(s.OptionString(key)); err != nil {
			return &OptionError{Key: key, Message: err.Error()}
		}
	}
	return nil
}

// GetOption returns a session option or its default.
func (s *Session) GetOption(key string) any {
	return s.options.Get(key)
}

func (s *Session) OptionInt(key string) int {
	v, _ := s.options.Get(key).(int)
	return v
}

func (s *Session) OptionBool(key string) bool {
	v, _ := s.options.Get(key).(bool)
	return v
}

func (s *Session) OptionFloat(key string) float64 {
	v, _ := s.options.Get(key).(float64)
	return v
}

func (s *Session) OptionString(key string) string {
	v, _ := s.options.Get(key).(string)
	return v
}

func (s *Session) OptionDuration(key string) time.Duration {
	v, _ := s.options.Get(key).(time.Duration)
	return v
}

// Streams resolves a URL and returns its available streams, with the
// conventional "best" and "worst" aliases added.
func (s *Session) Streams(ctx context.Context, url string) (map[string]stream.Stream, error) {
	res, err := s.ResolveURL(ctx, url)
	if err != nil {
		return nil, err
	}

	entries, err := res.Plugin.Streams(ctx, s, res.URL)
	if err != nil {
		s.logger.Error("plugin failed to produce streams",
			slog.String("plugin", res.Plugin.Name()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	out := make(map[string]stream.Stream, len(entries)+2)
	var best, worst *plugin.StreamEntry
	var bestW, worstW float64
	for i := range entries {
		e := &entries[i]
		out[e.Name] = e.Stream
		if e.Name == "best" || e.Name == "worst" {
			continue
		}
		w, _ := plugin.StreamWeight(e.Name)
		if best == nil || w > bestW {
			best, bestW = e, w
		}
		if worst == nil || w < worstW {
			worst, worstW = e, w
		}
	}
	if best != nil {
		if _, taken := out["best"]; !taken {
			out["best"] = best.Stream
		}
		if _, taken := out["worst"]; !taken {
			out["worst"] = worst.Stream
		}
	}
	return out, nil
}

var _ stream.Session = (*Session)(nil)
