// Package urlutil provides URL manipulation utilities shared by the
// session resolver and the stream implementations.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// NormalizeScheme ensures a user-supplied URL carries a scheme. URLs with
// no scheme default to https; protocol-relative URLs ("//host/path")
// inherit https as well.
//
// Examples:
//
//	"example.com/live"      -> "https://example.com/live"
//	"//example.com/live"    -> "https://example.com/live"
//	"http://example.com"    -> unchanged
func NormalizeScheme(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return rawURL
	}
	if strings.HasPrefix(rawURL, "//") {
		return SchemeHTTPS + ":" + rawURL
	}
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Scheme != "" {
		return rawURL
	}
	return SchemeHTTPS + "://" + rawURL
}

// UpdateScheme applies the scheme of current to target when target has
// none. A protocol-relative target ("//host/path") adopts current's
// scheme; a target that already has a scheme is returned unchanged.
func UpdateScheme(current, target string) string {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "//") {
		scheme := SchemeHTTPS
		if cur, err := url.Parse(current); err == nil && cur.Scheme != "" {
			scheme = cur.Scheme
		}
		return scheme + ":" + target
	}
	if parsed, err := url.Parse(target); err == nil && parsed.Scheme != "" {
		return target
	}
	return NormalizeScheme(target)
}

// UpdateQuery merges the given parameters into the URL's query string.
// Existing parameters with the same name are replaced; all other
// parameters are preserved. An empty map leaves the effective query
// untouched.
func UpdateQuery(rawURL string, params map[string]string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	query := parsed.Query()
	for k, v := range params {
		query.Set(k, v)
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// Resolve resolves a possibly-relative reference against a base URL.
// Absolute references are returned as-is.
func Resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// IsRemoteURL reports whether the URL can be fetched over HTTP(S).
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL reports whether the URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// FilePathFromURL extracts the local path from a file:// URL.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}
