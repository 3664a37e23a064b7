package plugins

import (
	"context"
	"regexp"

	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/stream"
	"github.com/sluicedev/sluice/internal/urlutil"
)

// filePlugin handles "file://" URLs pointing at local media.
type filePlugin struct{}

var fileMatchers = []plugin.Matcher{
	{Priority: plugin.PriorityNormal, Pattern: regexp.MustCompile(`^file://\S+$`)},
}

func (p *filePlugin) Name() string                 { return "file" }
func (p *filePlugin) Matchers() []plugin.Matcher   { return fileMatchers }
func (p *filePlugin) Arguments() []plugin.Argument { return nil }

func (p *filePlugin) Streams(ctx context.Context, session stream.Session, url string) ([]plugin.StreamEntry, error) {
	path, err := urlutil.FilePathFromURL(url)
	if err != nil {
		return nil, plugin.PluginErrorf("bad file URL %s: %v", url, err)
	}
	return []plugin.StreamEntry{
		{Name: "file", Stream: stream.NewFileStream(session, path)},
	}, nil
}
