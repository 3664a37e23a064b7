package plugins

import (
	"context"
	"regexp"

	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/stream"
)

// httpStreamPlugin handles explicit "httpstream://" URLs as a single
// continuous HTTP byte stream.
type httpStreamPlugin struct{}

var httpStreamMatchers = []plugin.Matcher{
	{Priority: plugin.PriorityNormal, Pattern: regexp.MustCompile(`^httpstream://(?P<url>\S+)$`)},
}

func (p *httpStreamPlugin) Name() string                 { return "httpstream" }
func (p *httpStreamPlugin) Matchers() []plugin.Matcher   { return httpStreamMatchers }
func (p *httpStreamPlugin) Arguments() []plugin.Argument { return nil }

func (p *httpStreamPlugin) Streams(ctx context.Context, session stream.Session, url string) ([]plugin.StreamEntry, error) {
	target := stripPrefixURL(url, "httpstream://")
	return []plugin.StreamEntry{
		{Name: "live", Stream: stream.NewHTTPStream(session, target, nil)},
	}, nil
}
