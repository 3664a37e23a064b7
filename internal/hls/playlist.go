// Package hls implements RFC 8216 playlist parsing and the HLS
// segmented stream built on top of the generic delivery engine.
package hls

import (
	"fmt"
	"time"
)

// PlaylistType classifies a media playlist.
type PlaylistType string

const (
	PlaylistTypeVOD   PlaylistType = "VOD"
	PlaylistTypeEvent PlaylistType = "EVENT"
	PlaylistTypeLive  PlaylistType = "LIVE"
)

// EncryptionMethod is the value of an EXT-X-KEY METHOD attribute.
type EncryptionMethod string

const (
	MethodNone      EncryptionMethod = "NONE"
	MethodAES128    EncryptionMethod = "AES-128"
	MethodSampleAES EncryptionMethod = "SAMPLE-AES"
)

// Key is a parsed EXT-X-KEY tag. IV is nil when the tag carries no IV
// attribute, in which case decryption derives it from the segment
// sequence number.
type Key struct {
	Method EncryptionMethod
	URI    string
	IV     []byte
}

// Map is a parsed EXT-X-MAP init section.
type Map struct {
	URI       string
	ByteRange *ByteRange
}

// ByteRange is a parsed EXT-X-BYTERANGE value. Offset is nil when the
// tag omits the @offset part; the effective offset then continues from
// the previous range on the same URI.
type ByteRange struct {
	Length int64
	Offset *int64
}

func (r ByteRange) String() string {
	if r.Offset != nil {
		return fmt.Sprintf("%d@%d", r.Length, *r.Offset)
	}
	return fmt.Sprintf("%d", r.Length)
}

// Segment is one media chunk of a media playlist. URI is absolute,
// resolved against the playlist base.
type Segment struct {
	URI           string
	Duration      time.Duration
	Title         string
	Sequence      int64
	Discontinuity bool
	ByteRange     *ByteRange
	Key           *Key
	Map           *Map
	DateTime      *time.Time
}

// Variant is one EXT-X-STREAM-INF entry of a multivariant playlist.
type Variant struct {
	URI              string
	Bandwidth        int64
	AverageBandwidth int64
	Codecs           []string
	Width            int
	Height           int
	FrameRate        float64
	Audio            string
	Video            string
	Subtitles        string
	Name             string
}

// Rendition is one EXT-X-MEDIA alternative rendition.
type Rendition struct {
	Type       string
	GroupID    string
	Name       string
	Language   string
	Default    bool
	Autoselect bool
	URI        string
}

// Playlist is the parsed form of either playlist kind. A multivariant
// playlist has IsMaster set and Variants/Renditions populated; a media
// playlist carries Segments.
type Playlist struct {
	URI     string
	Version int

	IsMaster   bool
	Variants   []Variant
	Renditions []Rendition

	TargetDuration        time.Duration
	MediaSequence         int64
	DiscontinuitySequence int64
	Type                  PlaylistType
	IsEndlist             bool
	IFramesOnly           bool
	Segments              []Segment
	Keys                  []Key
	Maps                  []Map
}

// IsLive reports whether the playlist is expected to keep growing.
func (p *Playlist) IsLive() bool {
	return !p.IsMaster && !p.IsEndlist && p.Type != PlaylistTypeVOD
}

// FirstSequence returns the sequence number of the first segment, or
// the declared media sequence for an empty playlist.
func (p *Playlist) FirstSequence() int64 {
	if len(p.Segments) == 0 {
		return p.MediaSequence
	}
	return p.Segments[0].Sequence
}

// LastSequence returns the sequence number of the last segment, or
// media_sequence-1 for an empty playlist.
func (p *Playlist) LastSequence() int64 {
	if len(p.Segments) == 0 {
		return p.MediaSequence - 1
	}
	return p.Segments[len(p.Segments)-1].Sequence
}

// LastDuration returns the duration of the final segment, or zero for
// an empty playlist.
func (p *Playlist) LastDuration() time.Duration {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.Segments[len(p.Segments)-1].Duration
}

// TotalDuration sums the declared segment durations.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}
