package hls

import (
	"bufio"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sluicedev/sluice/internal/plugin"
	"github.com/sluicedev/sluice/internal/urlutil"
)

const playlistHeader = "#EXTM3U"

// parseState accumulates the pending tags a URI line inherits.
type parseState struct {
	playlist *Playlist
	logger   *slog.Logger

	sawHeader         bool
	sawTargetDuration bool
	sawExtInf         bool
	sawStreamInf      bool

	duration      time.Duration
	title         string
	byteRange     *ByteRange
	discontinuity bool
	dateTime      *time.Time
	key           *Key
	segmentMap    *Map
	variant       *Variant

	lastRangeEnd map[string]int64
}

// Parse reads an extended M3U8 playlist in one pass. Relative URIs are
// resolved against base. Unknown tags are logged at debug and skipped;
// malformed tag payloads fail the parse.
func Parse(r io.Reader, base string, logger *slog.Logger) (*Playlist, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := &parseState{
		playlist:     &Playlist{URI: base, Version: 1},
		logger:       logger,
		lastRangeEnd: make(map[string]int64),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err := st.parseLine(line); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, plugin.PluginErrorf("reading playlist: %v", err)
	}

	p := st.playlist
	if !st.sawHeader {
		return nil, plugin.NewPluginError("malformed M3U8: missing #EXTM3U header")
	}
	p.IsMaster = st.sawStreamInf && !st.sawExtInf
	if !p.IsMaster {
		if !st.sawTargetDuration {
			return nil, plugin.NewPluginError("malformed M3U8: missing #EXT-X-TARGETDURATION")
		}
		if p.Type == "" {
			if p.IsEndlist {
				p.Type = PlaylistTypeVOD
			} else {
				p.Type = PlaylistTypeLive
			}
		}
	}
	return p, nil
}

func (st *parseState) parseLine(line string) error {
	if line == playlistHeader {
		st.sawHeader = true
		return nil
	}
	if strings.HasPrefix(line, "#EXT") {
		name, value, _ := strings.Cut(line[1:], ":")
		return st.parseTag(name, value)
	}
	if strings.HasPrefix(line, "#") {
		return nil // comment
	}
	return st.parseURI(line)
}

func (st *parseState) parseTag(name, value string) error {
	p := st.playlist
	switch name {
	case "EXT-X-VERSION":
		v, err := strconv.Atoi(value)
		if err != nil {
			return plugin.PluginErrorf("malformed M3U8: bad version %q", value)
		}
		p.Version = v

	case "EXT-X-TARGETDURATION":
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return plugin.PluginErrorf("malformed M3U8: bad target duration %q", value)
		}
		p.TargetDuration = time.Duration(secs * float64(time.Second))
		st.sawTargetDuration = true

	case "EXT-X-MEDIA-SEQUENCE":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return plugin.PluginErrorf("malformed M3U8: bad media sequence %q", value)
		}
		p.MediaSequence = n

	case "EXT-X-DISCONTINUITY-SEQUENCE":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return plugin.PluginErrorf("malformed M3U8: bad discontinuity sequence %q", value)
		}
		p.DiscontinuitySequence = n

	case "EXT-X-PLAYLIST-TYPE":
		switch value {
		case "VOD":
			p.Type = PlaylistTypeVOD
		case "EVENT":
			p.Type = PlaylistTypeEvent
		default:
			return plugin.PluginErrorf("malformed M3U8: bad playlist type %q", value)
		}

	case "EXT-X-ENDLIST":
		p.IsEndlist = true

	case "EXT-X-I-FRAMES-ONLY":
		p.IFramesOnly = true

	case "EXTINF":
		durStr, title, _ := strings.Cut(value, ",")
		secs, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
		if err != nil {
			return plugin.PluginErrorf("malformed M3U8: bad EXTINF duration %q", durStr)
		}
		st.duration = time.Duration(secs * float64(time.Second))
		st.title = strings.TrimSpace(title)
		st.sawExtInf = true

	case "EXT-X-BYTERANGE":
		br, err := parseByteRange(value)
		if err != nil {
			return err
		}
		st.byteRange = br

	case "EXT-X-DISCONTINUITY":
		st.discontinuity = true

	case "EXT-X-PROGRAM-DATE-TIME":
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return plugin.PluginErrorf("malformed M3U8: bad program date time %q", value)
		}
		st.dateTime = &t

	case "EXT-X-KEY":
		key, err := st.parseKey(value)
		if err != nil {
			return err
		}
		st.key = key
		p.Keys = append(p.Keys, *key)

	case "EXT-X-MAP":
		m, err := st.parseMap(value)
		if err != nil {
			return err
		}
		st.segmentMap = m
		p.Maps = append(p.Maps, *m)

	case "EXT-X-STREAM-INF":
		v, err := st.parseStreamInf(value)
		if err != nil {
			return err
		}
		st.variant = v
		st.sawStreamInf = true

	case "EXT-X-MEDIA":
		rend, err := st.parseMedia(value)
		if err != nil {
			return err
		}
		p.Renditions = append(p.Renditions, *rend)

	default:
		st.logger.Debug("ignoring unknown playlist tag", slog.String("tag", name))
	}
	return nil
}

func (st *parseState) parseURI(line string) error {
	p := st.playlist
	uri, err := urlutil.Resolve(p.URI, line)
	if err != nil {
		return plugin.PluginErrorf("malformed M3U8: bad URI %q", line)
	}

	if st.variant != nil {
		v := *st.variant
		v.URI = uri
		p.Variants = append(p.Variants, v)
		st.variant = nil
		return nil
	}

	seg := Segment{
		URI:           uri,
		Duration:      st.duration,
		Title:         st.title,
		Sequence:      p.MediaSequence + int64(len(p.Segments)),
		Discontinuity: st.discontinuity,
		ByteRange:     st.byteRange,
		Key:           st.key,
		Map:           st.segmentMap,
		DateTime:      st.dateTime,
	}

	// Materialize implicit byterange offsets per URI so downstream
	// fetches never have to look back at earlier segments.
	if seg.ByteRange != nil {
		if seg.ByteRange.Offset == nil {
			off := st.lastRangeEnd[uri]
			seg.ByteRange = &ByteRange{Length: seg.ByteRange.Length, Offset: &off}
		}
		st.lastRangeEnd[uri] = *seg.ByteRange.Offset + seg.ByteRange.Length
	}

	p.Segments = append(p.Segments, seg)

	st.duration = 0
	st.title = ""
	st.byteRange = nil
	st.discontinuity = false
	st.dateTime = nil
	return nil
}

func (st *parseState) parseKey(value string) (*Key, error) {
	attrs, err := parseAttributes(value)
	if err != nil {
		return nil, err
	}
	key := &Key{Method: EncryptionMethod(attrs["METHOD"])}
	switch key.Method {
	case MethodNone:
		return key, nil
	case MethodAES128, MethodSampleAES:
	default:
		return nil, plugin.PluginErrorf("malformed M3U8: bad key method %q", attrs["METHOD"])
	}

	uri, err := urlutil.Resolve(st.playlist.URI, attrs["URI"])
	if err != nil || attrs["URI"] == "" {
		return nil, plugin.PluginErrorf("malformed M3U8: bad key URI %q", attrs["URI"])
	}
	key.URI = uri

	if ivStr, ok := attrs["IV"]; ok {
		ivStr = strings.TrimPrefix(strings.TrimPrefix(ivStr, "0x"), "0X")
		iv, err := hex.DecodeString(ivStr)
		if err != nil || len(iv) != 16 {
			return nil, plugin.PluginErrorf("malformed M3U8: bad key IV %q", attrs["IV"])
		}
		key.IV = iv
	}
	return key, nil
}

func (st *parseState) parseMap(value string) (*Map, error) {
	attrs, err := parseAttributes(value)
	if err != nil {
		return nil, err
	}
	uri, err := urlutil.Resolve(st.playlist.URI, attrs["URI"])
	if err != nil || attrs["URI"] == "" {
		return nil, plugin.PluginErrorf("malformed M3U8: bad map URI %q", attrs["URI"])
	}
	m := &Map{URI: uri}
	if br, ok := attrs["BYTERANGE"]; ok {
		m.ByteRange, err = parseByteRange(br)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (st *parseState) parseStreamInf(value string) (*Variant, error) {
	attrs, err := parseAttributes(value)
	if err != nil {
		return nil, err
	}
	v := &Variant{
		Audio:     attrs["AUDIO"],
		Video:     attrs["VIDEO"],
		Subtitles: attrs["SUBTITLES"],
		Name:      attrs["NAME"],
	}
	if bw, ok := attrs["BANDWIDTH"]; ok {
		v.Bandwidth, err = strconv.ParseInt(bw, 10, 64)
		if err != nil {
			return nil, plugin.PluginErrorf("malformed M3U8: bad bandwidth %q", bw)
		}
	}
	if abw, ok := attrs["AVERAGE-BANDWIDTH"]; ok {
		v.AverageBandwidth, err = strconv.ParseInt(abw, 10, 64)
		if err != nil {
			return nil, plugin.PluginErrorf("malformed M3U8: bad average bandwidth %q", abw)
		}
	}
	if codecs, ok := attrs["CODECS"]; ok && codecs != "" {
		for _, c := range strings.Split(codecs, ",") {
			v.Codecs = append(v.Codecs, strings.TrimSpace(c))
		}
	}
	if res, ok := attrs["RESOLUTION"]; ok {
		w, h, found := strings.Cut(res, "x")
		if !found {
			return nil, plugin.PluginErrorf("malformed M3U8: bad resolution %q", res)
		}
		v.Width, err = strconv.Atoi(w)
		if err == nil {
			v.Height, err = strconv.Atoi(h)
		}
		if err != nil {
			return nil, plugin.PluginErrorf("malformed M3U8: bad resolution %q", res)
		}
	}
	if fr, ok := attrs["FRAME-RATE"]; ok {
		v.FrameRate, err = strconv.ParseFloat(fr, 64)
		if err != nil {
			return nil, plugin.PluginErrorf("malformed M3U8: bad frame rate %q", fr)
		}
	}
	return v, nil
}

func (st *parseState) parseMedia(value string) (*Rendition, error) {
	attrs, err := parseAttributes(value)
	if err != nil {
		return nil, err
	}
	rend := &Rendition{
		Type:       attrs["TYPE"],
		GroupID:    attrs["GROUP-ID"],
		Name:       attrs["NAME"],
		Language:   attrs["LANGUAGE"],
		Default:    attrs["DEFAULT"] == "YES",
		Autoselect: attrs["AUTOSELECT"] == "YES",
	}
	if uri, ok := attrs["URI"]; ok && uri != "" {
		rend.URI, err = urlutil.Resolve(st.playlist.URI, uri)
		if err != nil {
			return nil, plugin.PluginErrorf("malformed M3U8: bad media URI %q", uri)
		}
	}
	return rend, nil
}

// parseByteRange parses "<length>[@<offset>]".
func parseByteRange(value string) (*ByteRange, error) {
	lenStr, offStr, hasOffset := strings.Cut(value, "@")
	length, err := strconv.ParseInt(lenStr, 10, 64)
	if err != nil {
		return nil, plugin.PluginErrorf("malformed M3U8: bad byterange %q", value)
	}
	br := &ByteRange{Length: length}
	if hasOffset {
		off, err := strconv.ParseInt(offStr, 10, 64)
		if err != nil {
			return nil, plugin.PluginErrorf("malformed M3U8: bad byterange %q", value)
		}
		br.Offset = &off
	}
	return br, nil
}

// parseAttributes splits a comma-separated attribute list, honoring
// quoted values that contain commas.
func parseAttributes(value string) (map[string]string, error) {
	attrs := make(map[string]string)
	rest := value
	for rest != "" {
		name, after, found := strings.Cut(rest, "=")
		if !found || name == "" {
			return nil, plugin.PluginErrorf("malformed M3U8: bad attribute list %q", value)
		}
		name = strings.TrimSpace(name)

		var val string
		if strings.HasPrefix(after, `"`) {
			end := strings.IndexByte(after[1:], '"')
			if end < 0 {
				return nil, plugin.PluginErrorf("malformed M3U8: unterminated quote in %q", value)
			}
			val = after[1 : 1+end]
			rest = after[2+end:]
			rest = strings.TrimPrefix(rest, ",")
		} else {
			val, rest, _ = strings.Cut(after, ",")
		}
		attrs[name] = val
	}
	return attrs, nil
}
