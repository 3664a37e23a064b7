// Package plugins hosts the built-in protocol handlers: direct HLS,
// direct HTTP byte streams, and local files.
package plugins

import (
	"strings"

	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/urlutil"
)

// LoadBuiltin registers the built-in handlers.
func LoadBuiltin(r *plugin.Registry) error {
	for _, p := range []plugin.Plugin{
		&hlsPlugin{},
		&httpStreamPlugin{},
		&filePlugin{},
	} {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// stripPrefixURL removes a "proto://" marker and normalizes what is
// left: "hls://example.com/x" becomes "https://example.com/x" while an
// explicit inner scheme ("hls://http://...") is kept.
func stripPrefixURL(rawURL, prefix string) string {
	rest := strings.TrimPrefix(rawURL, prefix)
	return urlutil.NormalizeScheme(rest)
}
