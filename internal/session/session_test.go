package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sluicedev/sluice/internal/config"
	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/stream"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Timeout:      5 * time.Second,
			Retries:      1,
			RetryBackoff: time.Second,
			SSLVerify:    true,
		},
		Stream: config.StreamConfig{
			Timeout:         5 * time.Second,
			SegmentAttempts: 3,
			SegmentThreads:  1,
			SegmentTimeout:  5 * time.Second,
			QueueSize:       8,
			RingbufferSize:  64 * 1024,
		},
		HLS: config.HLSConfig{
			LiveEdge:               3,
			StartOffset:            "0",
			Duration:               "0",
			PlaylistReloadAttempts: 3,
			PlaylistReloadTime:     "default",
			SegmentQueueThreshold:  3.0,
		},
	}
}

func newTestSession(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	s, err := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	return s
}

// namedStream is a stub stream carrying only its name.
type namedStream struct{ name string }

func (s *namedStream) Open(context.Context) (io.ReadCloser, error) { return nil, stream.ErrClosed }
func (s *namedStream) URL() (string, error)                        { return "", stream.ErrNoURL }
func (s *namedStream) JSON() map[string]any                        { return map[string]any{"type": s.name} }

type stubPlugin struct {
	name     string
	priority int
	pattern  string
	entries  []plugin.StreamEntry
}

func (p *stubPlugin) Name() string { return p.name }
func (p *stubPlugin) Matchers() []plugin.Matcher {
	return []plugin.Matcher{{Priority: p.priority, Pattern: regexp.MustCompile(p.pattern)}}
}
func (p *stubPlugin) Arguments() []plugin.Argument { return nil }
func (p *stubPlugin) Streams(ctx context.Context, session stream.Session, url string) ([]plugin.StreamEntry, error) {
	return p.entries, nil
}

func TestResolveURLDirectMatch(t *testing.T) {
	registry := plugin.NewRegistry()
	registry.Register(&stubPlugin{name: "site", priority: plugin.PriorityNormal, pattern: `^https://site\.example/watch/\d+$`})

	s := newTestSession(t, WithRegistry(registry))

	res, err := s.ResolveURL(context.Background(), "https://site.example/watch/123")
	if err != nil {
		t.Fatalf("ResolveURL failed: %v", err)
	}
	if res.Plugin.Name() != "site" || res.URL != "https://site.example/watch/123" {
		t.Errorf("resolution = (%s, %s)", res.Plugin.Name(), res.URL)
	}
}

func TestResolveURLNormalizesScheme(t *testing.T) {
	registry := plugin.NewRegistry()
	registry.Register(&stubPlugin{name: "site", priority: plugin.PriorityNormal, pattern: `^https://site\.example/`})

	s := newTestSession(t, WithRegistry(registry))

	res, err := s.ResolveURL(context.Background(), "site.example/watch/1")
	if err != nil {
		t.Fatalf("ResolveURL failed: %v", err)
	}
	if res.URL != "https://site.example/watch/1" {
		t.Errorf("canonical URL = %q", res.URL)
	}
}

func TestResolveURLViaRedirect(t *testing.T) {
	var target string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	}))
	defer srv.Close()

	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer targetSrv.Close()
	target = targetSrv.URL + "/watch/123"

	registry := plugin.NewRegistry()
	registry.Register(&stubPlugin{name: "site", priority: plugin.PriorityNormal, pattern: `^` + regexp.QuoteMeta(targetSrv.URL) + `/watch/\d+$`})

	s := newTestSession(t, WithRegistry(registry))

	res, err := s.ResolveURL(context.Background(), srv.URL+"/abc")
	if err != nil {
		t.Fatalf("ResolveURL failed: %v", err)
	}
	if res.Plugin.Name() != "site" || res.URL != target {
		t.Errorf("resolution = (%s, %s), want (site, %s)", res.Plugin.Name(), res.URL, target)
	}
}

func TestResolveURLNoPlugin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := newTestSession(t)
	_, err := s.ResolveURL(context.Background(), srv.URL+"/nothing")
	if err == nil {
		t.Fatal("expected NoPluginError")
	}
	var npe *plugin.NoPluginError
	if !errors.As(err, &npe) {
		t.Errorf("error %T is not a NoPluginError", err)
	}
}

func TestResolveURLCaches(t *testing.T) {
	targetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer targetSrv.Close()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Redirect(w, r, targetSrv.URL+"/watch/1", http.StatusFound)
	}))
	defer srv.Close()

	registry := plugin.NewRegistry()
	registry.Register(&stubPlugin{name: "site", priority: plugin.PriorityNormal, pattern: `^` + regexp.QuoteMeta(targetSrv.URL) + `/`})

	s := newTestSession(t, WithRegistry(registry))
	for i := 0; i < 3; i++ {
		if _, err := s.ResolveURL(context.Background(), srv.URL+"/abc"); err != nil {
			t.Fatalf("ResolveURL failed: %v", err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("redirect endpoint hit %d times, want 1 (cached)", n)
	}
}

func TestStreamsAddsBestAndWorst(t *testing.T) {
	registry := plugin.NewRegistry()
	registry.Register(&stubPlugin{
		name:     "site",
		priority: plugin.PriorityNormal,
		pattern:  `^https://site\.example/`,
		entries: []plugin.StreamEntry{
			{Name: "480p", Stream: &namedStream{name: "480p"}},
			{Name: "1080p", Stream: &namedStream{name: "1080p"}},
			{Name: "720p", Stream: &namedStream{name: "720p"}},
		},
	})

	s := newTestSession(t, WithRegistry(registry))
	streams, err := s.Streams(context.Background(), "https://site.example/watch/1")
	if err != nil {
		t.Fatalf("Streams failed: %v", err)
	}

	if len(streams) != 5 {
		t.Fatalf("got %d streams, want 5 (3 qualities + best/worst)", len(streams))
	}
	if streams["best"] != streams["1080p"] {
		t.Error("best does not point at the highest-weight stream")
	}
	if streams["worst"] != streams["480p"] {
		t.Error("worst does not point at the lowest-weight stream")
	}
}

func TestSetOptionAppliesHTTPState(t *testing.T) {
	var gotHeader, gotCookie, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Session")
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		gotQuery = r.URL.Query().Get("token")
	}))
	defer srv.Close()

	s := newTestSession(t)
	if err := s.SetOption("http-headers", map[string]string{"X-Session": "on"}); err != nil {
		t.Fatalf("setting http-headers: %v", err)
	}
	if err := s.SetOption("http-cookies", map[string]string{"sid": "abc123"}); err != nil {
		t.Fatalf("setting http-cookies: %v", err)
	}
	// String form, as the CLI --option flag delivers it.
	if err := s.SetOption("http-query-params", "token=tok"); err != nil {
		t.Fatalf("setting http-query-params: %v", err)
	}

	resp, err := s.HTTP().Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()

	if gotHeader != "on" {
		t.Errorf("X-Session header = %q, want %q", gotHeader, "on")
	}
	if gotCookie != "abc123" {
		t.Errorf("sid cookie = %q, want %q", gotCookie, "abc123")
	}
	if gotQuery != "tok" {
		t.Errorf("token query param = %q, want %q", gotQuery, "tok")
	}
}

func TestSetOptionRejectsBadProxy(t *testing.T) {
	s := newTestSession(t)
	err := s.SetOption("http-proxy", "://not-a-proxy")
	var optErr *OptionError
	if !errors.As(err, &optErr) {
		t.Fatalf("expected an option error for a bad proxy URL, got %v", err)
	}
}
