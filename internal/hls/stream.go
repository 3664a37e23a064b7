package hls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sluicedev/sluice/internal/httpclient"
	"github.com/sluicedev/sluice/internal/stream"
	"github.com/sluicedev/sluice/pkg/duration"
)

const reloadIntervalFloor = time.Second

// HLSStream delivers one HLS media playlist through the segmented
// engine: live reload loop, byte-range fetches, and AES-128
// decryption.
type HLSStream struct {
	session stream.Session
	url     string
	master  string
	headers map[string]string
	name    string

	startOffset  time.Duration
	duration     time.Duration
	forceRestart bool
}

// HLSOption customizes an HLS stream beyond its playlist URL.
type HLSOption func(*HLSStream)

// WithMaster records the multivariant playlist this stream came from.
func WithMaster(url string) HLSOption {
	return func(s *HLSStream) { s.master = url }
}

// WithHeaders sets extra headers sent with playlist and segment
// requests.
func WithHeaders(headers map[string]string) HLSOption {
	return func(s *HLSStream) { s.headers = headers }
}

// WithStartOffset skips the given duration at the start of playback.
func WithStartOffset(d time.Duration) HLSOption {
	return func(s *HLSStream) { s.startOffset = d }
}

// WithDuration limits playback to the given duration.
func WithDuration(d time.Duration) HLSOption {
	return func(s *HLSStream) { s.duration = d }
}

// WithForceRestart starts live playback from the first available
// segment instead of the live edge.
func WithForceRestart() HLSOption {
	return func(s *HLSStream) { s.forceRestart = true }
}

func withName(name string) HLSOption {
	return func(s *HLSStream) { s.name = name }
}

// NewHLSStream creates a stream for a media playlist URL.
func NewHLSStream(session stream.Session, url string, opts ...HLSOption) *HLSStream {
	s := &HLSStream{session: session, url: url}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the media playlist URL.
func (s *HLSStream) URL() (string, error) { return s.url, nil }

// JSON returns the stable self-description.
func (s *HLSStream) JSON() map[string]any {
	out := map[string]any{
		"type": "hls",
		"url":  s.url,
	}
	if s.master != "" {
		out["master"] = s.master
	}
	if len(s.headers) > 0 {
		out["headers"] = s.headers
	}
	return out
}

// Open fetches the initial playlist and starts the delivery pipeline.
func (s *HLSStream) Open(ctx context.Context) (io.ReadCloser, error) {
	logger := s.session.Logger().With(slog.String("component", "hls"))

	h := &segmentHandler{
		stream: s,
		logger: logger,
		keys:   make(map[string]*cacheEntry),
		maps:   make(map[string]*cacheEntry),

		startOffset:  max(s.startOffset, s.session.OptionDuration("hls-start-offset")),
		duration:     max(s.duration, s.session.OptionDuration("hls-duration")),
		forceRestart: s.forceRestart || s.session.OptionBool("hls-live-restart"),
		liveEdge:     max(s.session.OptionInt("hls-live-edge"), 1),
	}

	p, err := h.fetchPlaylist(ctx)
	if err != nil {
		return nil, err
	}
	h.initial = p

	cfg := stream.EngineConfig{
		Threads:        s.session.OptionInt("stream-segment-threads"),
		QueueSize:      s.session.OptionInt("stream-queue-size"),
		Attempts:       s.session.OptionInt("stream-segment-attempts"),
		SegmentTimeout: s.session.OptionDuration("stream-segment-timeout"),
		ReadTimeout:    s.session.OptionDuration("stream-timeout"),
		BufferSize:     s.session.OptionInt("ringbuffer-size"),
		VOD:            !p.IsLive(),
		Logger:         logger,
	}
	return stream.NewEngine(ctx, h, cfg), nil
}

var _ stream.Stream = (*HLSStream)(nil)

// hlsSegment is the engine's unit of work: one media segment, plus
// whether its init section must be emitted ahead of it.
type hlsSegment struct {
	seg      Segment
	withInit bool
}

func (s hlsSegment) String() string {
	return fmt.Sprintf("segment %d", s.seg.Sequence)
}

// cacheEntry caches one fetched resource (key or init section) for the
// stream's lifetime. The once gate makes concurrent fetchers share a
// single download.
type cacheEntry struct {
	once sync.Once
	data []byte
	err  error
}

// segmentHandler implements the protocol side of the engine for HLS.
// Iterator state is only touched by the engine's worker goroutine; the
// caches are shared with the fetch pool and guarded by mu.
type segmentHandler struct {
	stream  *HLSStream
	logger  *slog.Logger
	initial *Playlist

	startOffset  time.Duration
	duration     time.Duration
	forceRestart bool
	liveEdge     int

	mu   sync.Mutex
	keys map[string]*cacheEntry
	maps map[string]*cacheEntry

	lastMapURI string
	emitted    bool
	played     time.Duration
}

func (h *segmentHandler) fetchPlaylist(ctx context.Context) (*Playlist, error) {
	body, err := h.fetchURI(ctx, h.stream.url, nil)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(body), h.stream.url, h.logger)
}

// IterateSegments produces segments for the engine, handling both the
// static and the live reload path.
func (h *segmentHandler) IterateSegments(ctx context.Context, emit func(hlsSegment) error) error {
	if !h.initial.IsLive() {
		return h.iterateStatic(ctx, h.initial, emit)
	}
	return h.iterateLive(ctx, h.initial, emit)
}

func (h *segmentHandler) iterateStatic(ctx context.Context, p *Playlist, emit func(hlsSegment) error) error {
	var cum time.Duration
	for i := range p.Segments {
		seg := p.Segments[i]
		cum += seg.Duration
		if cum <= h.startOffset {
			continue
		}
		if !h.withinDuration(seg.Duration) {
			break
		}
		if err := emit(h.buildSegment(seg)); err != nil {
			return err
		}
	}
	return nil
}

func (h *segmentHandler) iterateLive(ctx context.Context, p *Playlist, emit func(hlsSegment) error) error {
	next := h.startSequence(p)
	lastProgress := time.Now()
	emptyReloads := 0
	failedReloads := 0

	reloadAttempts := max(h.stream.session.OptionInt("hls-playlist-reload-attempts"), 1)
	queueThreshold := h.stream.session.OptionFloat("hls-segment-queue-threshold")

	for {
		advanced := false
		for i := range p.Segments {
			seg := p.Segments[i]
			if seg.Sequence < next {
				continue
			}
			if !h.withinDuration(seg.Duration) {
				return nil
			}
			if err := emit(h.buildSegment(seg)); err != nil {
				return err
			}
			next = seg.Sequence + 1
			advanced = true
		}
		if p.IsEndlist {
			return nil
		}

		if advanced {
			lastProgress = time.Now()
			emptyReloads = 0
		} else {
			emptyReloads++
		}
		if queueThreshold > 0 && p.TargetDuration > 0 {
			stall := time.Duration(float64(p.TargetDuration) * queueThreshold)
			if time.Since(lastProgress) > stall {
				return stream.Errorf("no new segments in playlist for %s", stall)
			}
		}

		interval := h.reloadInterval(p, emptyReloads, reloadAttempts)
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}

		np, err := h.fetchPlaylist(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failedReloads++
			h.logger.Warn("playlist reload failed",
				slog.Int("attempt", failedReloads),
				slog.String("error", err.Error()),
			)
			if failedReloads >= reloadAttempts {
				return stream.Errorf("playlist reload failed %d times: %v", failedReloads, err)
			}
			continue
		}
		failedReloads = 0
		p = np
	}
}

// startSequence picks the first live segment: the live edge by
// default, the playlist start on restart, shifted back by the start
// offset.
func (h *segmentHandler) startSequence(p *Playlist) int64 {
	if len(p.Segments) == 0 {
		return p.MediaSequence
	}
	first := p.FirstSequence()
	start := first
	if !h.forceRestart {
		start = max(first, p.LastSequence()-int64(h.liveEdge)+1)
	}

	if h.startOffset > 0 {
		idx := int(start - first)
		remaining := h.startOffset
		for idx > 0 && remaining > 0 {
			idx--
			remaining -= p.Segments[idx].Duration
		}
		start = p.Segments[idx].Sequence
	}
	return start
}

// withinDuration enforces the playback duration limit. Segments are
// emitted until the played total passes the limit, so the segment
// straddling the end boundary is included.
func (h *segmentHandler) withinDuration(d time.Duration) bool {
	if h.duration <= 0 {
		return true
	}
	if h.played > h.duration {
		return false
	}
	h.played += d
	return true
}

// buildSegment decides whether the init section precedes this
// segment: on first use of a map, on a map change, and at
// discontinuities.
func (h *segmentHandler) buildSegment(seg Segment) hlsSegment {
	hs := hlsSegment{seg: seg}
	if seg.Map != nil && (!h.emitted || seg.Discontinuity || seg.Map.URI != h.lastMapURI) {
		hs.withInit = true
		h.lastMapURI = seg.Map.URI
	}
	h.emitted = true
	return hs
}

// reloadInterval applies the configured reload-time policy, backing
// off exponentially across empty reloads up to target duration times
// the reload attempt budget.
func (h *segmentHandler) reloadInterval(p *Playlist, emptyReloads, reloadAttempts int) time.Duration {
	policy := h.stream.session.OptionString("hls-playlist-reload-time")

	var interval time.Duration
	switch policy {
	case "segment":
		interval = p.LastDuration()
	case "live-edge":
		segs := p.Segments
		if n := h.liveEdge - 1; n > 0 && len(segs) > 0 {
			for _, seg := range segs[max(len(segs)-n, 0):] {
				interval += seg.Duration
			}
		}
	case "", "default":
		interval = p.TargetDuration
		if last := p.LastDuration(); last > 0 && last < interval {
			interval = last
		}
	default:
		if d, err := duration.Parse(policy); err == nil {
			interval = d
		} else {
			h.logger.Warn("invalid playlist reload time, using default",
				slog.String("value", policy))
		}
	}

	if interval <= 0 {
		interval = p.TargetDuration
	}
	if interval < reloadIntervalFloor {
		interval = reloadIntervalFloor
	}

	if emptyReloads > 0 {
		backoff := interval << emptyReloads
		limit := time.Duration(reloadAttempts) * p.TargetDuration
		if limit > 0 && backoff > limit {
			backoff = limit
		}
		if backoff > interval {
			interval = backoff
		}
	}

	h.logger.Debug("playlist reload scheduled",
		slog.String("policy", policy),
		slog.Duration("interval", interval),
	)
	return interval
}

// FetchSegment downloads one segment, decrypting and prepending its
// init section as needed.
func (h *segmentHandler) FetchSegment(ctx context.Context, hs hlsSegment) ([]byte, error) {
	seg := hs.seg

	var init []byte
	if hs.withInit && seg.Map != nil {
		var err error
		init, err = h.cachedFetch(ctx, h.maps, seg.Map.URI, func(ctx context.Context) ([]byte, error) {
			return h.fetchURI(ctx, seg.Map.URI, seg.Map.ByteRange)
		})
		if err != nil {
			return nil, fmt.Errorf("fetching init section: %w", err)
		}
	}

	data, err := h.fetchURI(ctx, seg.URI, seg.ByteRange)
	if err != nil {
		return nil, err
	}

	if seg.Key != nil {
		switch seg.Key.Method {
		case MethodNone, "":
		case MethodAES128:
			data, err = h.decrypt(ctx, seg, data)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unsupported encryption method %s",
				stream.ErrFetchFatal, seg.Key.Method)
		}
	}

	if init != nil {
		return append(init, data...), nil
	}
	return data, nil
}

func (h *segmentHandler) decrypt(ctx context.Context, seg Segment, data []byte) ([]byte, error) {
	iv := seg.Key.IV
	if iv == nil {
		iv = sequenceIV(seg.Sequence)
	}

	keyBytes, err := h.cachedFetch(ctx, h.keys, seg.Key.URI, func(ctx context.Context) ([]byte, error) {
		data, err := h.fetchURI(ctx, seg.Key.URI, nil)
		if err != nil {
			return nil, err
		}
		if len(data) != 16 {
			return nil, stream.Errorf("AES key has length %d, expected 16", len(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching decryption key: %w", err)
	}
	return decryptAES128(data, keyBytes, iv)
}

// cachedFetch deduplicates downloads of keys and init sections for the
// stream's lifetime. Keys are cached per URI: the IV varies per
// segment but never changes which bytes the key URI serves.
func (h *segmentHandler) cachedFetch(ctx context.Context, cache map[string]*cacheEntry, uri string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	h.mu.Lock()
	entry, ok := cache[uri]
	if !ok {
		entry = &cacheEntry{}
		cache[uri] = entry
	}
	h.mu.Unlock()

	entry.once.Do(func() {
		entry.data, entry.err = fetch(ctx)
	})
	return entry.data, entry.err
}

// fetchURI downloads a resource, applying stream headers and the
// byte-range when present.
func (h *segmentHandler) fetchURI(ctx context.Context, uri string, br *ByteRange) ([]byte, error) {
	opts := make([]httpclient.RequestOption, 0, len(h.stream.headers)+1)
	for k, v := range h.stream.headers {
		opts = append(opts, httpclient.WithHeader(k, v))
	}
	if br != nil {
		var offset int64
		if br.Offset != nil {
			offset = *br.Offset
		}
		opts = append(opts, httpclient.WithHeader("Range",
			fmt.Sprintf("bytes=%d-%d", offset, offset+br.Length-1)))
	}

	resp, err := h.stream.session.HTTP().Get(ctx, uri, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, stream.StatusError(resp.StatusCode, uri)
	}
	return io.ReadAll(resp.Body)
}
