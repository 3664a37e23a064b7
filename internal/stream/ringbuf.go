package stream

import (
	"io"
	"sync"
	"time"
)

// RingBuffer is a bounded byte buffer with blocking read and write.
// It is the single byte channel between the writer dispatcher and the
// consumer. Writes block while the buffer is full; reads block while it
// is empty. Close wakes both sides: pending data remains readable, after
// which reads return io.EOF. Writes after Close are rejected.
type RingBuffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf    []byte
	rpos   int
	wpos   int
	count  int
	closed bool
}

// NewRingBuffer creates a ring buffer with the given byte capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("ringbuffer capacity must be positive")
	}
	b := &RingBuffer{buf: make([]byte, capacity)}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Capacity returns the fixed byte capacity.
func (b *RingBuffer) Capacity() int { return len(b.buf) }

// Len returns the number of buffered bytes.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Free returns the remaining capacity.
func (b *RingBuffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) - b.count
}

// Write appends p to the buffer, blocking while full. It returns the
// number of bytes written; short writes happen only when the buffer is
// closed mid-write, in which case the error is ErrClosed.
func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for len(p) > 0 {
		if b.closed {
			return total, ErrClosed
		}
		for b.count == len(b.buf) && !b.closed {
			b.notFull.Wait()
		}
		if b.closed {
			return total, ErrClosed
		}

		n := min(len(p), len(b.buf)-b.count)
		first := min(n, len(b.buf)-b.wpos)
		copy(b.buf[b.wpos:], p[:first])
		copy(b.buf, p[first:n])
		b.wpos = (b.wpos + n) % len(b.buf)
		b.count += n
		total += n
		p = p[n:]

		b.notEmpty.Broadcast()
	}
	return total, nil
}

// Read fills p with up to len(p) buffered bytes, blocking while the
// buffer is empty and open. When the buffer is closed and drained it
// returns io.EOF.
func (b *RingBuffer) Read(p []byte) (int, error) {
	return b.ReadTimeout(p, 0)
}

// ReadTimeout is Read with an upper bound on the blocking wait.
// A timeout of zero blocks indefinitely. On expiry it returns ErrTimeout.
func (b *RingBuffer) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var deadline time.Time
	var timer *time.Timer
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		// The timer only wakes the waiter; the loop re-checks the deadline.
		timer = time.AfterFunc(timeout, func() {
			b.mu.Lock()
			b.notEmpty.Broadcast()
			b.mu.Unlock()
		})
		defer timer.Stop()
	}

	for b.count == 0 {
		if b.closed {
			return 0, io.EOF
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
		b.notEmpty.Wait()
	}

	n := min(len(p), b.count)
	first := min(n, len(b.buf)-b.rpos)
	copy(p, b.buf[b.rpos:b.rpos+first])
	copy(p[first:], b.buf[:n-first])
	b.rpos = (b.rpos + n) % len(b.buf)
	b.count -= n

	b.notFull.Broadcast()
	return n, nil
}

// Close marks the buffer closed and wakes all waiters. It is idempotent.
// Buffered bytes remain readable until drained.
func (b *RingBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.notFull.Broadcast()
	b.notEmpty.Broadcast()
	return nil
}

// Closed reports whether Close has been called.
func (b *RingBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
