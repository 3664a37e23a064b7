package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testSegment struct {
	num  int
	data []byte
}

func (s testSegment) String() string { return fmt.Sprintf("segment %d", s.num) }

// funcHandler lets tests script the iterator and fetcher inline.
type funcHandler struct {
	iterate func(ctx context.Context, emit func(testSegment) error) error
	fetch   func(ctx context.Context, seg testSegment) ([]byte, error)
}

func (h funcHandler) IterateSegments(ctx context.Context, emit func(testSegment) error) error {
	return h.iterate(ctx, emit)
}

func (h funcHandler) FetchSegment(ctx context.Context, seg testSegment) ([]byte, error) {
	return h.fetch(ctx, seg)
}

func emitAll(segs []testSegment) func(ctx context.Context, emit func(testSegment) error) error {
	return func(ctx context.Context, emit func(testSegment) error) error {
		for _, s := range segs {
			if err := emit(s); err != nil {
				return err
			}
		}
		return nil
	}
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		Threads:     4,
		QueueSize:   8,
		Attempts:    1,
		ReadTimeout: 5 * time.Second,
		BufferSize:  1024,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestEngineDeliversSegmentsInOrder(t *testing.T) {
	segs := make([]testSegment, 20)
	var want []byte
	for i := range segs {
		segs[i] = testSegment{num: i, data: []byte(fmt.Sprintf("chunk-%02d|", i))}
		want = append(want, segs[i].data...)
	}

	// Delay fetches so later segments routinely finish before earlier
	// ones; ordering must come from the engine, not fetch timing.
	h := funcHandler{
		iterate: emitAll(segs),
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			time.Sleep(time.Duration((20-seg.num)%5) * time.Millisecond)
			return seg.data, nil
		},
	}

	e := NewEngine(context.Background(), h, testEngineConfig())
	defer e.Close()

	got, err := io.ReadAll(e)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("out-of-order delivery:\ngot  %q\nwant %q", got, want)
	}
}

func TestEngineConcurrencyBound(t *testing.T) {
	const threads = 2
	var inFlight, peak atomic.Int32

	segs := make([]testSegment, 12)
	for i := range segs {
		segs[i] = testSegment{num: i, data: []byte{byte(i)}}
	}

	h := funcHandler{
		iterate: emitAll(segs),
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return seg.data, nil
		},
	}

	cfg := testEngineConfig()
	cfg.Threads = threads
	e := NewEngine(context.Background(), h, cfg)
	defer e.Close()

	if _, err := io.ReadAll(e); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if p := peak.Load(); p > threads {
		t.Errorf("observed %d concurrent fetches, limit %d", p, threads)
	}
}

func TestEngineVODErrorSurfacesAfterDrain(t *testing.T) {
	segs := []testSegment{
		{num: 0, data: []byte("good-0")},
		{num: 1, data: []byte("good-1")},
		{num: 2},
	}

	h := funcHandler{
		iterate: emitAll(segs),
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			if seg.num == 2 {
				return nil, errors.New("connection reset")
			}
			return seg.data, nil
		},
	}

	cfg := testEngineConfig()
	cfg.VOD = true
	e := NewEngine(context.Background(), h, cfg)
	defer e.Close()

	got, err := io.ReadAll(e)
	if err == nil {
		t.Fatal("expected stream error after failed VOD segment")
	}
	if !IsStreamError(err) {
		t.Errorf("error %v is not a stream error", err)
	}
	if string(got) != "good-0good-1" {
		t.Errorf("bytes before error = %q, want %q", got, "good-0good-1")
	}
}

func TestEngineLiveSkipsFailedSegment(t *testing.T) {
	segs := []testSegment{
		{num: 0, data: []byte("aaa")},
		{num: 1},
		{num: 2, data: []byte("ccc")},
	}

	h := funcHandler{
		iterate: emitAll(segs),
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			if seg.num == 1 {
				return nil, errors.New("503 from edge")
			}
			return seg.data, nil
		},
	}

	e := NewEngine(context.Background(), h, testEngineConfig())
	defer e.Close()

	got, err := io.ReadAll(e)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "aaaccc" {
		t.Errorf("got %q, want failed segment skipped (%q)", got, "aaaccc")
	}
}

func TestEngineRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	h := funcHandler{
		iterate: emitAll([]testSegment{{num: 0, data: []byte("ok")}}),
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("flaky")
			}
			return seg.data, nil
		},
	}

	cfg := testEngineConfig()
	cfg.Attempts = 3
	e := NewEngine(context.Background(), h, cfg)
	defer e.Close()

	got, err := io.ReadAll(e)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("fetch called %d times, want 3", n)
	}
}

func TestEngineFatalFetchErrorSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	h := funcHandler{
		iterate: emitAll([]testSegment{{num: 0}}),
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			calls.Add(1)
			return nil, fmt.Errorf("%w: status 403", ErrFetchFatal)
		},
	}

	cfg := testEngineConfig()
	cfg.Attempts = 5
	cfg.VOD = true
	e := NewEngine(context.Background(), h, cfg)
	defer e.Close()

	if _, err := io.ReadAll(e); err == nil {
		t.Fatal("expected error from fatal fetch")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch called %d times, want 1 (no retries on fatal)", n)
	}
}

func TestEngineCloseIdempotentAndStopsIterator(t *testing.T) {
	iterStopped := make(chan struct{})
	h := funcHandler{
		iterate: func(ctx context.Context, emit func(testSegment) error) error {
			defer close(iterStopped)
			for i := 0; ; i++ {
				if err := emit(testSegment{num: i, data: []byte("x")}); err != nil {
					return err
				}
			}
		},
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			return seg.data, nil
		},
	}

	cfg := testEngineConfig()
	cfg.ReadTimeout = 2 * time.Second
	e := NewEngine(context.Background(), h, cfg)

	// Read a little to prove the pipeline is running, then shut down.
	p := make([]byte, 8)
	if _, err := e.Read(p); err != nil {
		t.Fatalf("initial Read failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Close()
		}()
	}
	wg.Wait()

	select {
	case <-iterStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("iterator did not stop after Close")
	}
}

func TestEngineBackpressureBoundsProducer(t *testing.T) {
	var emitted atomic.Int32
	release := make(chan struct{})

	h := funcHandler{
		iterate: func(ctx context.Context, emit func(testSegment) error) error {
			for i := 0; i < 100; i++ {
				if err := emit(testSegment{num: i, data: []byte("y")}); err != nil {
					return err
				}
				emitted.Add(1)
			}
			return nil
		},
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return seg.data, nil
		},
	}

	cfg := testEngineConfig()
	cfg.Threads = 1
	cfg.QueueSize = 4
	e := NewEngine(context.Background(), h, cfg)
	defer e.Close()

	// With all fetches stalled, the producer can run at most QueueSize
	// slots ahead (plus the emit blocked on the full queue).
	time.Sleep(50 * time.Millisecond)
	if n := emitted.Load(); n > int32(cfg.QueueSize)+1 {
		t.Errorf("producer emitted %d segments against stalled fetches, queue size %d", n, cfg.QueueSize)
	}
	close(release)
}

func TestEngineIteratorErrorBecomesStreamError(t *testing.T) {
	h := funcHandler{
		iterate: func(ctx context.Context, emit func(testSegment) error) error {
			if err := emit(testSegment{num: 0, data: []byte("pre")}); err != nil {
				return err
			}
			return errors.New("playlist vanished")
		},
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			return seg.data, nil
		},
	}

	e := NewEngine(context.Background(), h, testEngineConfig())
	defer e.Close()

	got, err := io.ReadAll(e)
	if err == nil {
		t.Fatal("expected iterator error to surface through Read")
	}
	if !IsStreamError(err) {
		t.Errorf("error %v is not a stream error", err)
	}
	if string(got) != "pre" {
		t.Errorf("bytes before error = %q, want %q", got, "pre")
	}
}

func TestEngineReadTimeout(t *testing.T) {
	stall := make(chan struct{})
	h := funcHandler{
		iterate: func(ctx context.Context, emit func(testSegment) error) error {
			select {
			case <-stall:
			case <-ctx.Done():
			}
			return nil
		},
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			return seg.data, nil
		},
	}

	cfg := testEngineConfig()
	cfg.ReadTimeout = 30 * time.Millisecond
	e := NewEngine(context.Background(), h, cfg)
	defer e.Close()
	defer close(stall)

	_, err := e.Read(make([]byte, 8))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout from stalled stream, got %v", err)
	}
}

func TestEngineReadAfterCloseReturnsCancelled(t *testing.T) {
	h := funcHandler{
		iterate: func(ctx context.Context, emit func(testSegment) error) error {
			for i := 0; ; i++ {
				if err := emit(testSegment{num: i, data: []byte("x")}); err != nil {
					return err
				}
			}
		},
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			return seg.data, nil
		},
	}

	e := NewEngine(context.Background(), h, testEngineConfig())

	p := make([]byte, 8)
	if _, err := e.Read(p); err != nil {
		t.Fatalf("initial Read failed: %v", err)
	}
	e.Close()

	// Buffered bytes may still drain; the stream must then report the
	// consumer-initiated shutdown, not a natural end.
	for {
		_, err := e.Read(p)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Read after Close = %v, want ErrCancelled", err)
		}
		break
	}
}

func TestEngineVODFetchFailureStopsProducer(t *testing.T) {
	iterStopped := make(chan struct{})
	h := funcHandler{
		iterate: func(ctx context.Context, emit func(testSegment) error) error {
			defer close(iterStopped)
			for i := 0; ; i++ {
				if err := emit(testSegment{num: i, data: []byte("z")}); err != nil {
					return err
				}
			}
		},
		fetch: func(ctx context.Context, seg testSegment) ([]byte, error) {
			return nil, errors.New("backend gone")
		},
	}

	cfg := testEngineConfig()
	cfg.VOD = true
	e := NewEngine(context.Background(), h, cfg)
	defer e.Close()

	if _, err := io.ReadAll(e); err == nil || !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}

	// The failure alone must unwind the producer; no Close yet.
	select {
	case <-iterStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still running after fatal VOD fetch failure")
	}
}
