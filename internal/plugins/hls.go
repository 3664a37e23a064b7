package plugins

import (
	"context"
	"regexp"

	"github.com/sluicedev/sluice/internal/hls"
	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/stream"
)

// hlsPlugin handles explicit "hls://" URLs and bare .m3u8 playlist
// URLs.
type hlsPlugin struct{}

var hlsMatchers = []plugin.Matcher{
	{Priority: plugin.PriorityNormal, Pattern: regexp.MustCompile(`^hls://(?P<url>\S+)$`)},
	{Priority: plugin.PriorityLow, Pattern: regexp.MustCompile(`(?i)^\S+\.m3u8(?:\?\S*)?$`)},
}

func (p *hlsPlugin) Name() string                 { return "hls" }
func (p *hlsPlugin) Matchers() []plugin.Matcher   { return hlsMatchers }
func (p *hlsPlugin) Arguments() []plugin.Argument { return nil }

func (p *hlsPlugin) Streams(ctx context.Context, session stream.Session, url string) ([]plugin.StreamEntry, error) {
	target := stripPrefixURL(url, "hls://")
	return hls.ParseVariantPlaylist(ctx, session, target)
}
