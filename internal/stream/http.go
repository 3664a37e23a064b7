package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sluicedev/sluice/internal/httpclient"
)

// HTTPStream delivers a single HTTP(S) resource as a continuous byte
// stream. The response body is handed to the consumer directly; the
// session client supplies headers, proxy, TLS, and retry behavior.
type HTTPStream struct {
	session Session
	url     string
	headers map[string]string
}

// NewHTTPStream creates a stream for a direct URL.
func NewHTTPStream(session Session, url string, headers map[string]string) *HTTPStream {
	return &HTTPStream{session: session, url: url, headers: headers}
}

// Open issues the GET request and returns the response body.
// The request deliberately carries no overall timeout: the body is
// consumed for the lifetime of the stream.
func (s *HTTPStream) Open(ctx context.Context) (io.ReadCloser, error) {
	opts := []httpclient.RequestOption{httpclient.WithTimeout(0)}
	for k, v := range s.headers {
		opts = append(opts, httpclient.WithHeader(k, v))
	}

	resp, err := s.session.HTTP().Get(ctx, s.url, opts...)
	if err != nil {
		return nil, NewError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, Errorf("unexpected status %d opening %s", resp.StatusCode, s.url)
	}
	return &onceCloser{ReadCloser: resp.Body}, nil
}

// URL returns the stream's direct URL.
func (s *HTTPStream) URL() (string, error) { return s.url, nil }

// JSON returns the stable self-description.
func (s *HTTPStream) JSON() map[string]any {
	out := map[string]any{
		"type": "http",
		"url":  s.url,
	}
	if len(s.headers) > 0 {
		out["headers"] = s.headers
	}
	return out
}

var _ Stream = (*HTTPStream)(nil)

// onceCloser makes Close idempotent over an arbitrary ReadCloser.
type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.ReadCloser.Close() })
	return c.err
}

// StatusError formats a status failure for fetch paths that must
// distinguish retryable from fatal codes: 4xx (except 408 and 429)
// wraps ErrFetchFatal, everything else stays retryable.
func StatusError(code int, url string) error {
	err := fmt.Errorf("status %d fetching %s", code, url)
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrFetchFatal, err)
	}
	return err
}
