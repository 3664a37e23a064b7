// Package httpclient provides the session-wide HTTP client.
//
// The client wraps the standard http.Client and applies session state
// uniformly to every outbound request:
//   - Session headers, cookies, and query parameters
//   - HTTP(S) and SOCKS proxy support
//   - TLS options (verification, CA bundle, client certificate)
//   - Automatic retries with exponential backoff, honoring Retry-After
//   - Transparent decompression (gzip, deflate, brotli)
//   - Structured logging with credential obfuscation
package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/proxy"

	"github.com/sluicedev/sluice/internal/config"
	"github.com/sluicedev/sluice/internal/urlutil"
)

// Common errors returned by the client.
var (
	ErrMaxRetries = errors.New("max retries exceeded")
	ErrBadStatus  = errors.New("unexpected status code")
)

// Default values.
const (
	defaultRetryDelay    = 1 * time.Second
	backoffMultiplier    = 2.0
	defaultUserAgent     = "sluice/1.0"
	acceptEncodingHeader = "gzip, deflate, br"
)

// HTTP header constants.
const (
	headerAcceptEncoding  = "Accept-Encoding"
	headerContentEncoding = "Content-Encoding"
	headerUserAgent       = "User-Agent"
	headerRetryAfter      = "Retry-After"

	encodingGzip    = "gzip"
	encodingDeflate = "deflate"
	encodingBrotli  = "br"
)

// Client applies session-wide HTTP behavior to every request. The
// session state (headers, cookies, query parameters, timeout, proxy)
// can be updated while the client is in use; in-flight requests keep
// the state they started with.
type Client struct {
	cfg    config.HTTPConfig
	logger *slog.Logger

	mu          sync.RWMutex
	client      *http.Client
	noFollow    *http.Client
	timeout     time.Duration
	headers     map[string]string
	cookies     map[string]string
	queryParams map[string]string
}

// requestOptions collects per-request overrides.
type requestOptions struct {
	timeout         time.Duration
	followRedirects bool
	headers         http.Header
	validate        func(*http.Response) error
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithTimeout overrides the client timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// WithoutRedirects disables transparent redirect following for one request.
func WithoutRedirects() RequestOption {
	return func(o *requestOptions) { o.followRedirects = false }
}

// WithHeader adds a header to one request, overriding session headers.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Set(key, value)
	}
}

// WithValidator attaches a response validator. A validation error is
// returned from the request after the body has been read.
func WithValidator(fn func(*http.Response) error) RequestOption {
	return func(o *requestOptions) { o.validate = fn }
}

// New creates a client from the session HTTP configuration.
func New(cfg config.HTTPConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Transport: transport},
		noFollow: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:     cfg.Timeout,
		headers:     copyStringMap(cfg.Headers),
		cookies:     copyStringMap(cfg.Cookies),
		queryParams: copyStringMap(cfg.QueryParams),
	}, nil
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetTimeout updates the default per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// SetHeaders replaces the session headers sent with every request.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = copyStringMap(headers)
}

// SetCookies replaces the session cookies sent with every request.
func (c *Client) SetCookies(cookies map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = copyStringMap(cookies)
}

// SetQueryParams replaces the query parameters merged into every
// request URL.
func (c *Client) SetQueryParams(params map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryParams = copyStringMap(params)
}

// SetProxy rebuilds the transport for a new proxy URL. An empty URL
// reverts to the environment proxy settings.
func (c *Client) SetProxy(rawURL string) error {
	cfg := c.cfg
	cfg.Proxy = rawURL
	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Proxy = rawURL
	c.client = &http.Client{Transport: transport}
	c.noFollow = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return nil
}

// newTransport builds the shared transport with proxy and TLS settings.
func newTransport(cfg config.HTTPConfig) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: !cfg.SSLVerify} //nolint:gosec // user-controlled option
	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %q", cfg.CABundle)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.SSLCert != "" {
		key := cfg.SSLKey
		if key == "" {
			key = cfg.SSLCert
		}
		cert, err := tls.LoadX509KeyPair(cfg.SSLCert, key)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	transport.TLSClientConfig = tlsCfg

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		switch proxyURL.Scheme {
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if proxyURL.User != nil {
				password, _ := proxyURL.User.Password()
				auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
			}
			dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("creating SOCKS proxy dialer: %w", err)
			}
			transport.Proxy = nil
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			}
		default:
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return transport, nil
}

// Do executes the request with session state merged in and automatic
// retries. The caller owns the response body.
func (c *Client) Do(ctx context.Context, req *http.Request, opts ...RequestOption) (*http.Response, error) {
	c.mu.RLock()
	o := requestOptions{
		timeout:         c.timeout,
		followRedirects: true,
	}
	httpClient := c.client
	noFollow := c.noFollow
	c.mu.RUnlock()
	for _, opt := range opts {
		opt(&o)
	}

	c.mergeSessionState(req, &o)

	if !o.followRedirects {
		httpClient = noFollow
	}

	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	// Requests with a body need a rewindable copy for retries.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	var lastErr error
	delay := defaultRetryDelay

	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", obfuscateURL(req.URL)),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMultiplier)
			if c.cfg.RetryBackoff > 0 && delay > c.cfg.RetryBackoff {
				delay = c.cfg.RetryBackoff
			}
		}

		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		start := time.Now()
		resp, err := httpClient.Do(req.WithContext(ctx))
		elapsed := time.Since(start)

		if err != nil {
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("duration", elapsed),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
			if after := retryAfter(resp); after > delay {
				delay = after
				if c.cfg.RetryBackoff > 0 && delay > c.cfg.RetryBackoff {
					delay = c.cfg.RetryBackoff
				}
			}
			c.logger.Warn("retryable status code",
				slog.String("url", obfuscateURL(req.URL)),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", elapsed),
				slog.Int("attempt", attempt),
			)
			resp.Body.Close()
			continue
		}

		c.logger.Debug("request completed",
			slog.String("url", obfuscateURL(req.URL)),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", elapsed),
		)

		resp.Body = wrapDecompression(resp, c.logger)

		if o.validate != nil {
			if err := o.validate(resp); err != nil {
				resp.Body.Close()
				return nil, err
			}
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// mergeSessionState applies session headers, cookies, and query
// parameters to the request. Request-specific values win.
func (c *Client) mergeSessionState(req *http.Request, o *requestOptions) {
	c.mu.RLock()
	headers := c.headers
	cookies := c.cookies
	queryParams := c.queryParams
	c.mu.RUnlock()

	for k, v := range headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	for k, v := range o.headers {
		req.Header[k] = v
	}
	if req.Header.Get(headerUserAgent) == "" {
		req.Header.Set(headerUserAgent, defaultUserAgent)
	}
	if req.Header.Get(headerAcceptEncoding) == "" {
		req.Header.Set(headerAcceptEncoding, acceptEncodingHeader)
	}

	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	if len(queryParams) > 0 {
		if updated, err := urlutil.UpdateQuery(req.URL.String(), queryParams); err == nil {
			if u, err := url.Parse(updated); err == nil {
				req.URL = u
			}
		}
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(ctx, req, opts...)
}

// Head performs a HEAD request.
func (c *Client) Head(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(ctx, req, opts...)
}

// Post performs a POST request with the given body.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body io.Reader, opts ...RequestOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req, opts...)
}

// GetBytes performs a GET request and returns the full response body.
// Non-2xx responses are an error.
func (c *Client) GetBytes(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d fetching %s", ErrBadStatus, resp.StatusCode, obfuscateURL(resp.Request.URL))
	}
	return io.ReadAll(resp.Body)
}

// GetJSON performs a GET request and decodes the response body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any, opts ...RequestOption) error {
	data, err := c.GetBytes(ctx, rawURL, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding JSON response: %w", err)
	}
	return nil
}

// wrapDecompression wraps the response body based on Content-Encoding.
func wrapDecompression(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	encoding := resp.Header.Get(headerContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case encodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case encodingDeflate:
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case encodingBrotli:
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader pairs a decompression reader with the original closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// isRetryableStatus reports whether the status code warrants a retry.
// All 5xx are transient; 408 and 429 are the retryable 4xx codes.
func isRetryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// retryAfter parses the Retry-After header (seconds form) if present.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get(headerRetryAfter)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// obfuscateURL returns the URL with sensitive query parameters masked.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	sanitized := *u
	query := sanitized.Query()

	sensitive := []string{
		"password", "passwd", "pass", "pwd",
		"token", "api_key", "apikey", "key",
		"secret", "auth", "authorization",
		"credential", "credentials",
	}
	for _, param := range sensitive {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}

	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
