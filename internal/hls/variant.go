package hls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/stream"
)

// videoCodecPrefixes identify codec strings that carry video.
var videoCodecPrefixes = []string{"avc1", "avc3", "hvc1", "hev1", "vp09", "av01", "mp4v"}

// ParseVariantPlaylist fetches a playlist URL and returns the named
// streams it offers. A multivariant playlist yields one stream per
// variant; a media playlist yields a single "live" entry.
func ParseVariantPlaylist(ctx context.Context, session stream.Session, url string, opts ...HLSOption) ([]plugin.StreamEntry, error) {
	logger := session.Logger().With(slog.String("component", "hls"))

	resp, err := session.HTTP().Get(ctx, url)
	if err != nil {
		return nil, plugin.PluginErrorf("fetching playlist %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, plugin.PluginErrorf("status %d fetching playlist %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.PluginErrorf("reading playlist %s: %v", url, err)
	}

	p, err := Parse(bytes.NewReader(body), url, logger)
	if err != nil {
		return nil, err
	}

	if !p.IsMaster {
		return []plugin.StreamEntry{
			{Name: "live", Stream: NewHLSStream(session, url, append(opts, withName("live"))...)},
		}, nil
	}

	seen := make(map[string]int)
	entries := make([]plugin.StreamEntry, 0, len(p.Variants))
	for _, v := range p.Variants {
		name := uniqueName(variantName(v), seen)
		streamOpts := append(append([]HLSOption(nil), opts...), WithMaster(url), withName(name))
		entries = append(entries, plugin.StreamEntry{
			Name:   name,
			Stream: NewHLSStream(session, v.URI, streamOpts...),
		})
	}
	return entries, nil
}

// variantName derives a human-readable quality name: resolution first
// ("1080p", "720p60"), then audio codec for audio-only renditions,
// then bitrate ("1500k").
func variantName(v Variant) string {
	if v.Height > 0 {
		if v.FrameRate > 30 {
			return fmt.Sprintf("%dp%d", v.Height, int(v.FrameRate+0.5))
		}
		return fmt.Sprintf("%dp", v.Height)
	}
	if codec := audioCodec(v.Codecs); codec != "" {
		return "audio_" + codec
	}
	if v.Bandwidth > 0 {
		return fmt.Sprintf("%dk", v.Bandwidth/1000)
	}
	if v.Name != "" {
		return v.Name
	}
	return "unknown"
}

// audioCodec returns the codec family when the codec list carries no
// video component.
func audioCodec(codecs []string) string {
	if len(codecs) == 0 {
		return ""
	}
	for _, c := range codecs {
		lower := strings.ToLower(c)
		for _, prefix := range videoCodecPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return ""
			}
		}
	}
	family, _, _ := strings.Cut(codecs[0], ".")
	return strings.ToLower(family)
}

// uniqueName disambiguates repeated quality names with _alt suffixes.
func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	switch n {
	case 0:
		return name
	case 1:
		return name + "_alt"
	default:
		return fmt.Sprintf("%s_alt%d", name, n)
	}
}
