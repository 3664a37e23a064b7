package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluicedev/sluice/internal/config"
)

func testConfig() config.HTTPConfig {
	return config.HTTPConfig{
		Timeout:      5 * time.Second,
		Retries:      2,
		RetryBackoff: 50 * time.Millisecond,
		SSLVerify:    true,
	}
}

func newTestClient(t *testing.T, cfg config.HTTPConfig) *Client {
	t.Helper()
	c, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestSessionHeadersAndCookiesMerged(t *testing.T) {
	var gotHeader, gotCookie, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		gotQuery = r.URL.Query().Get("auth")
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Headers = map[string]string{"X-Custom": "abc"}
	cfg.Cookies = map[string]string{"session": "xyz"}
	cfg.QueryParams = map[string]string{"auth": "tok"}

	c := newTestClient(t, cfg)
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "xyz", gotCookie)
	assert.Equal(t, "tok", gotQuery)
}

func TestRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	data, err := c.GetBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMaxRetriesExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
}

func TestWithoutRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())
	resp, err := c.Get(context.Background(), srv.URL, WithoutRedirects())
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, isRetryableStatus(500))
	assert.True(t, isRetryableStatus(502))
	assert.True(t, isRetryableStatus(408))
	assert.True(t, isRetryableStatus(429))
	assert.False(t, isRetryableStatus(404))
	assert.False(t, isRetryableStatus(403))
	assert.False(t, isRetryableStatus(200))
}

func TestObfuscateURL(t *testing.T) {
	resp, err := http.NewRequest(http.MethodGet, "https://example.com/path?token=secret&name=ok", nil)
	require.NoError(t, err)

	got := obfuscateURL(resp.URL)
	assert.NotContains(t, got, "secret")
	assert.Contains(t, got, "name=ok")
}

func TestSessionStateUpdatesApplyToLaterRequests(t *testing.T) {
	var gotHeader, gotCookie, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Live")
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		gotQuery = r.URL.Query().Get("tok")
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig())

	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, gotHeader)

	c.SetHeaders(map[string]string{"X-Live": "yes"})
	c.SetCookies(map[string]string{"sid": "s1"})
	c.SetQueryParams(map[string]string{"tok": "t1"})

	resp, err = c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "yes", gotHeader)
	assert.Equal(t, "s1", gotCookie)
	assert.Equal(t, "t1", gotQuery)
}

func TestSetProxyRejectsBadURL(t *testing.T) {
	c := newTestClient(t, testConfig())
	assert.Error(t, c.SetProxy("://not-a-proxy"))
}
