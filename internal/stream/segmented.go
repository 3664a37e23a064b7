package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Segment fetch retry pacing.
const (
	fetchRetryBase = 500 * time.Millisecond
	fetchRetryCap  = 5 * time.Second
)

// SegmentHandler drives the segmented pipeline for one protocol.
// The engine owns the concurrency; the handler owns the protocol.
type SegmentHandler[S fmt.Stringer] interface {
	// IterateSegments produces segments in delivery order, calling emit
	// for each. For live protocols this includes polling and reload
	// sleeps. Returning nil ends the stream normally; returning an error
	// fails it. emit returns an error once the pipeline is shutting
	// down, at which point the iterator must stop.
	IterateSegments(ctx context.Context, emit func(S) error) error

	// FetchSegment downloads one segment and returns its final bytes
	// (post-decrypt, post-byterange). Errors wrapping ErrFetchFatal are
	// not retried.
	FetchSegment(ctx context.Context, seg S) ([]byte, error)
}

// EngineConfig parameterizes a segmented pipeline.
type EngineConfig struct {
	// Threads bounds concurrent segment fetches.
	Threads int
	// QueueSize bounds the in-flight ordered task queue.
	QueueSize int
	// Attempts is the per-segment fetch attempt budget.
	Attempts int
	// SegmentTimeout bounds each fetch attempt.
	SegmentTimeout time.Duration
	// ReadTimeout bounds the consumer's blocking Read and teardown join.
	ReadTimeout time.Duration
	// BufferSize is the ring buffer capacity in bytes.
	BufferSize int
	// VOD surfaces fetch failures as stream errors instead of skipping.
	VOD bool

	Logger *slog.Logger
}

func (c *EngineConfig) withDefaults() {
	if c.Threads < 1 {
		c.Threads = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = c.Threads + 4
	}
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 16 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// fetchResult carries one completed fetch to the dispatcher.
type fetchResult struct {
	data []byte
	err  error
}

// task pairs a segment with the channel its fetch result arrives on.
type task[S fmt.Stringer] struct {
	seg    S
	result chan fetchResult
}

// Engine is the generic worker/writer/reader pipeline behind segmented
// protocols. The worker goroutine produces segments, a bounded pool
// fetches them concurrently, and the dispatcher writes results to the
// ring buffer strictly in production order. The consumer reads through
// the io.ReadCloser side.
//
// Byte-ordering contract: the bytes delivered through Read are exactly
// the concatenation of segment bytes in worker emission order, with no
// interleaving, regardless of fetch completion order.
type Engine[S fmt.Stringer] struct {
	handler SegmentHandler[S]
	cfg     EngineConfig
	logger  *slog.Logger

	buf   *RingBuffer
	tasks chan task[S]
	sem   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	pipelineWG sync.WaitGroup // worker + dispatcher
	fetchWG    sync.WaitGroup // fetch pool

	closeOnce sync.Once

	errMu  sync.Mutex
	err    error
	eof    bool
	closed bool
}

// NewEngine starts the pipeline and returns the consumer-side handle.
func NewEngine[S fmt.Stringer](ctx context.Context, handler SegmentHandler[S], cfg EngineConfig) *Engine[S] {
	cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	e := &Engine[S]{
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("stream_id", uuid.NewString())),
		buf:     NewRingBuffer(cfg.BufferSize),
		tasks:   make(chan task[S], cfg.QueueSize),
		sem:     make(chan struct{}, cfg.Threads),
		ctx:     ctx,
		cancel:  cancel,
	}

	e.pipelineWG.Add(2)
	go e.runWorker()
	go e.runDispatcher()

	return e
}

// runWorker drives the protocol iterator until it ends or the pipeline
// is cancelled, then signals completion by closing the task queue.
func (e *Engine[S]) runWorker() {
	defer e.pipelineWG.Done()
	defer close(e.tasks)

	err := e.handler.IterateSegments(e.ctx, e.emit)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.setError(err)
		e.logger.Error("segment worker failed", slog.String("error", err.Error()))
	}
}

// emit schedules one segment: its fetch starts immediately (bounded by
// the pool) and its ordered slot is reserved on the task queue. emit
// blocks when the queue is full, which is the engine's backpressure
// toward the producer.
func (e *Engine[S]) emit(seg S) error {
	t := task[S]{seg: seg, result: make(chan fetchResult, 1)}

	e.fetchWG.Add(1)
	go func() {
		defer e.fetchWG.Done()
		select {
		case e.sem <- struct{}{}:
		case <-e.ctx.Done():
			t.result <- fetchResult{err: context.Cause(e.ctx)}
			return
		}
		defer func() { <-e.sem }()

		data, err := e.fetchWithRetry(seg)
		t.result <- fetchResult{data: data, err: err}
	}()

	select {
	case e.tasks <- t:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// fetchWithRetry applies the per-segment attempt budget with exponential
// backoff. Fatal fetch errors and cancellation stop the retry loop.
func (e *Engine[S]) fetchWithRetry(seg S) ([]byte, error) {
	delay := fetchRetryBase
	var lastErr error

	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		if attempt > 1 {
			e.logger.Debug("retrying segment fetch",
				slog.String("segment", seg.String()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-e.ctx.Done():
				return nil, e.ctx.Err()
			}
			delay = min(delay*2, fetchRetryCap)
		}

		ctx := e.ctx
		var cancel context.CancelFunc
		if e.cfg.SegmentTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, e.cfg.SegmentTimeout)
		}
		data, err := e.handler.FetchSegment(ctx, seg)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return data, nil
		}
		lastErr = err
		if errors.Is(err, ErrFetchFatal) || e.ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// runDispatcher consumes the ordered task queue, awaiting each fetch in
// FIFO order and appending its bytes to the ring buffer. Fetch failures
// are skipped on live streams and fatal on VOD.
func (e *Engine[S]) runDispatcher() {
	defer e.pipelineWG.Done()
	defer e.buf.Close()

	for t := range e.tasks {
		var res fetchResult
		select {
		case res = <-t.result:
		case <-e.ctx.Done():
			return
		}

		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				return
			}
			if e.cfg.VOD {
				e.setError(Errorf("fetching %s: %v", t.seg.String(), res.err))
				e.logger.Error("segment fetch failed",
					slog.String("segment", t.seg.String()),
					slog.String("error", res.err.Error()),
				)
				// Unwind the producer and in-flight fetches; the error
				// is already recorded for delivery through Read.
				e.cancel()
				return
			}
			e.logger.Warn("skipping segment after failed fetch",
				slog.String("segment", t.seg.String()),
				slog.String("error", res.err.Error()),
			)
			continue
		}

		if _, err := e.buf.Write(res.data); err != nil {
			// Consumer closed the stream.
			return
		}
	}
}

// setError records the first hard error for delivery through Read.
func (e *Engine[S]) setError(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

// Read implements the consumer side. It blocks until bytes are
// available, the stream ends, or the stream timeout expires. After the
// buffered bytes are drained, the first hard pipeline error (if any) is
// surfaced once; subsequent reads return io.EOF. Reads on a stream the
// consumer has closed return ErrCancelled instead.
func (e *Engine[S]) Read(p []byte) (int, error) {
	n, err := e.buf.ReadTimeout(p, e.cfg.ReadTimeout)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, ErrTimeout) {
		return n, fmt.Errorf("waiting for stream data: %w", ErrTimeout)
	}
	if errors.Is(err, io.EOF) {
		e.errMu.Lock()
		defer e.errMu.Unlock()
		if e.err != nil && !e.eof {
			e.eof = true
			if IsStreamError(e.err) {
				return n, e.err
			}
			return n, NewError(e.err)
		}
		if e.closed {
			return n, ErrCancelled
		}
		return n, io.EOF
	}
	return n, err
}

// Close tears the pipeline down: cancel the shared context, close the
// ring buffer to wake both sides, and join all goroutines with a
// bounded wait. Safe to call from any goroutine, any number of times.
func (e *Engine[S]) Close() error {
	e.closeOnce.Do(func() {
		e.errMu.Lock()
		e.closed = true
		e.errMu.Unlock()

		e.cancel()
		e.buf.Close()

		done := make(chan struct{})
		go func() {
			e.pipelineWG.Wait()
			e.fetchWG.Wait()
			close(done)
		}()

		joinTimeout := e.cfg.ReadTimeout
		if joinTimeout <= 0 {
			joinTimeout = 60 * time.Second
		}
		select {
		case <-done:
		case <-time.After(joinTimeout):
			e.logger.Warn("stream teardown timed out waiting for workers")
		}
	})
	return nil
}

var _ io.ReadCloser = (*Engine[fmt.Stringer])(nil)
