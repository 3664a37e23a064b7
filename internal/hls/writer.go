package hls

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Encode renders the playlist back to M3U8 text. Output is canonical:
// URIs are absolute and implicit byterange offsets are explicit, so
// re-parsing yields an equivalent playlist.
func Encode(p *Playlist) string {
	var b strings.Builder
	b.WriteString(playlistHeader)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", p.Version)

	if p.IsMaster {
		encodeMaster(&b, p)
	} else {
		encodeMedia(&b, p)
	}
	return b.String()
}

func encodeMaster(b *strings.Builder, p *Playlist) {
	for _, r := range p.Renditions {
		fmt.Fprintf(b, "#EXT-X-MEDIA:TYPE=%s,GROUP-ID=%q,NAME=%q", r.Type, r.GroupID, r.Name)
		if r.Language != "" {
			fmt.Fprintf(b, ",LANGUAGE=%q", r.Language)
		}
		fmt.Fprintf(b, ",DEFAULT=%s,AUTOSELECT=%s", yesNo(r.Default), yesNo(r.Autoselect))
		if r.URI != "" {
			fmt.Fprintf(b, ",URI=%q", r.URI)
		}
		b.WriteByte('\n')
	}
	for _, v := range p.Variants {
		fmt.Fprintf(b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", v.Bandwidth)
		if v.AverageBandwidth > 0 {
			fmt.Fprintf(b, ",AVERAGE-BANDWIDTH=%d", v.AverageBandwidth)
		}
		if len(v.Codecs) > 0 {
			fmt.Fprintf(b, ",CODECS=%q", strings.Join(v.Codecs, ","))
		}
		if v.Width > 0 && v.Height > 0 {
			fmt.Fprintf(b, ",RESOLUTION=%dx%d", v.Width, v.Height)
		}
		if v.FrameRate > 0 {
			fmt.Fprintf(b, ",FRAME-RATE=%s", formatFloat(v.FrameRate))
		}
		if v.Audio != "" {
			fmt.Fprintf(b, ",AUDIO=%q", v.Audio)
		}
		if v.Video != "" {
			fmt.Fprintf(b, ",VIDEO=%q", v.Video)
		}
		if v.Subtitles != "" {
			fmt.Fprintf(b, ",SUBTITLES=%q", v.Subtitles)
		}
		b.WriteByte('\n')
		b.WriteString(v.URI)
		b.WriteByte('\n')
	}
}

func encodeMedia(b *strings.Builder, p *Playlist) {
	fmt.Fprintf(b, "#EXT-X-TARGETDURATION:%d\n", int64(p.TargetDuration.Round(time.Second)/time.Second))
	if p.MediaSequence != 0 {
		fmt.Fprintf(b, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence)
	}
	if p.DiscontinuitySequence != 0 {
		fmt.Fprintf(b, "#EXT-X-DISCONTINUITY-SEQUENCE:%d\n", p.DiscontinuitySequence)
	}
	if p.Type == PlaylistTypeVOD || p.Type == PlaylistTypeEvent {
		fmt.Fprintf(b, "#EXT-X-PLAYLIST-TYPE:%s\n", p.Type)
	}
	if p.IFramesOnly {
		b.WriteString("#EXT-X-I-FRAMES-ONLY\n")
	}

	var lastKey *Key
	var lastMap *Map
	for i := range p.Segments {
		seg := &p.Segments[i]
		if seg.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if seg.Key != lastKey && seg.Key != nil {
			encodeKey(b, seg.Key)
			lastKey = seg.Key
		}
		if seg.Map != lastMap && seg.Map != nil {
			encodeMap(b, seg.Map)
			lastMap = seg.Map
		}
		if seg.DateTime != nil {
			fmt.Fprintf(b, "#EXT-X-PROGRAM-DATE-TIME:%s\n", seg.DateTime.Format(time.RFC3339Nano))
		}
		fmt.Fprintf(b, "#EXTINF:%s,%s\n", formatFloat(seg.Duration.Seconds()), seg.Title)
		if seg.ByteRange != nil {
			fmt.Fprintf(b, "#EXT-X-BYTERANGE:%s\n", seg.ByteRange)
		}
		b.WriteString(seg.URI)
		b.WriteByte('\n')
	}

	if p.IsEndlist {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
}

func encodeKey(b *strings.Builder, key *Key) {
	if key.Method == MethodNone {
		b.WriteString("#EXT-X-KEY:METHOD=NONE\n")
		return
	}
	fmt.Fprintf(b, "#EXT-X-KEY:METHOD=%s,URI=%q", key.Method, key.URI)
	if key.IV != nil {
		fmt.Fprintf(b, ",IV=0x%s", strings.ToUpper(hex.EncodeToString(key.IV)))
	}
	b.WriteByte('\n')
}

func encodeMap(b *strings.Builder, m *Map) {
	fmt.Fprintf(b, "#EXT-X-MAP:URI=%q", m.URI)
	if m.ByteRange != nil {
		fmt.Fprintf(b, ",BYTERANGE=%q", m.ByteRange)
	}
	b.WriteByte('\n')
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}

// formatFloat renders the shortest decimal representation without
// exponent notation, matching playlist conventions.
func formatFloat(f float64) string {
	s := fmt.Sprintf("%.3f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
