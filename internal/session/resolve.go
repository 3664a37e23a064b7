package session

import (
	"container/list"
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/sluicedev/sluice/internal/httpclient"
	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/urlutil"
)

const resolveCacheSize = 128

// Resolution is the outcome of matching a URL to a handler.
type Resolution struct {
	Plugin plugin.Plugin
	// URL is the canonical URL the handler accepted: the normalized
	// input, or the redirect target when resolution followed one.
	URL string
}

// ResolveURL maps a URL to the handler that accepts it. The scheme is
// normalized first (missing schemes default to https). If no matcher
// accepts the URL directly, the redirect target is tried once.
// Results are cached per input URL.
func (s *Session) ResolveURL(ctx context.Context, rawURL string) (*Resolution, error) {
	normalized := urlutil.NormalizeScheme(rawURL)

	if res, ok := s.resolveCache.get(rawURL); ok {
		return res, nil
	}

	logger := s.logger.With(
		slog.String("resolve_id", ulid.Make().String()),
		slog.String("url", normalized),
	)

	res, err := s.resolve(ctx, normalized, logger, true)
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved URL", slog.String("plugin", res.Plugin.Name()))
	s.resolveCache.put(rawURL, res)
	return res, nil
}

func (s *Session) resolve(ctx context.Context, url string, logger *slog.Logger, followRedirects bool) (*Resolution, error) {
	if p, ok := s.registry.Match(url); ok {
		return &Resolution{Plugin: p, URL: url}, nil
	}
	if !followRedirects {
		return nil, &plugin.NoPluginError{URL: url}
	}

	final, err := s.finalURL(ctx, url)
	if err != nil {
		logger.Debug("redirect resolution failed", slog.String("error", err.Error()))
		return nil, &plugin.NoPluginError{URL: url}
	}
	if final == url {
		return nil, &plugin.NoPluginError{URL: url}
	}
	logger.Debug("retrying resolution at redirect target", slog.String("target", final))
	return s.resolve(ctx, final, logger, false)
}

// finalURL follows redirects with a HEAD request, falling back to GET
// when the server rejects HEAD.
func (s *Session) finalURL(ctx context.Context, url string) (string, error) {
	resp, err := s.http.Head(ctx, url)
	if err == nil && resp.StatusCode == http.StatusNotImplemented {
		resp.Body.Close()
		resp, err = s.http.Get(ctx, url, httpclient.WithTimeout(s.cfg.HTTP.Timeout))
	}
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Request.URL.String(), nil
}

// resolveCache is a small LRU keyed by the unresolved input URL.
type resolveCache struct {
	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
	size    int
}

type resolveCacheEntry struct {
	key string
	res *Resolution
}

func newResolveCache(size int) *resolveCache {
	return &resolveCache{
		order:   list.New(),
		entries: make(map[string]*list.Element),
		size:    size,
	}
}

func (c *resolveCache) get(key string) (*Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*resolveCacheEntry).res, true
}

func (c *resolveCache) put(key string, res *Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*resolveCacheEntry).res = res
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&resolveCacheEntry{key: key, res: res})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*resolveCacheEntry).key)
	}
}
