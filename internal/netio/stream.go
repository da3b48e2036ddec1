package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/someip-go/routingd/internal/someip"
)

// DefaultFlushInterval is the flush timer used when a stream endpoint is
// not configured with an explicit one — long enough to coalesce a burst
// of back-to-back sends into one write, short enough that a lone message
// is never held up noticeably.
const DefaultFlushInterval = 2 * time.Millisecond

// maxReassemblyBacklog bounds how much unresolved data a StreamReader
// will hold before assuming its claimed message length is bogus and
// resynchronizing on the next magic cookie instead of waiting forever.
const maxReassemblyBacklog = 64 * 1024

// StreamReader reassembles SOME/IP messages from a byte-stream transport
// (TCP or a Unix-domain local-IPC connection), resynchronizing on the
// magic-cookie pattern whenever the stream state is lost — e.g. after a
// peer restarts mid-message.
type StreamReader struct {
	conn    net.Conn
	buf     []byte
	scratch []byte
}

// NewStreamReader creates a StreamReader over conn.
func NewStreamReader(conn net.Conn) *StreamReader {
	return &StreamReader{
		conn:    conn,
		scratch: make([]byte, 4096),
	}
}

// Next blocks until a complete SOME/IP message has been reassembled,
// ctx is cancelled, or the connection fails. A malformed header causes
// the reader to resynchronize on the next magic-cookie occurrence rather
// than returning an error for every stray byte.
func (r *StreamReader) Next(ctx context.Context) (*someip.Message, error) {
	for {
		if len(r.buf) >= someip.HeaderSize {
			msg, n, err := someip.DecodeMessage(r.buf, false)
			switch {
			case err == nil:
				r.buf = r.buf[n:]
				return msg, nil
			case errors.Is(err, someip.ErrIncomplete):
				if len(r.buf) > maxReassemblyBacklog {
					// A claimed length this large will never arrive on a
					// sane connection; treat it as lost sync.
					r.resync()
					continue
				}
				// fall through and read more
			case errors.Is(err, someip.ErrMalformed):
				r.resync()
				continue
			default:
				return nil, fmt.Errorf("stream decode: %w", err)
			}
		}

		if err := r.fill(ctx); err != nil {
			return nil, err
		}
	}
}

// resync discards buffered bytes up to the next magic-cookie occurrence.
// When no cookie is present yet, it keeps only the tail that could still
// be the start of one once more bytes arrive.
func (r *StreamReader) resync() {
	if off, _, ok := someip.FindCookie(r.buf); ok {
		r.buf = r.buf[off:]
		return
	}
	tail := someip.HeaderSize - 1
	if len(r.buf) > tail {
		r.buf = r.buf[len(r.buf)-tail:]
	}
}

func (r *StreamReader) fill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}

	n, err := r.conn.Read(r.scratch)
	if err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	r.buf = append(r.buf, r.scratch[:n]...)
	return nil
}

// StreamWriter buffers outgoing SOME/IP messages and flushes them to the
// underlying connection either immediately (flush=true) or after a short
// coalescing delay, so a burst of small sends costs one syscall instead
// of many.
type StreamWriter struct {
	conn          net.Conn
	flushInterval time.Duration
	maxSize       int

	mu     sync.Mutex
	buf    []byte
	timer  *time.Timer
	closed bool
}

// StreamWriterOption configures a StreamWriter.
type StreamWriterOption func(*StreamWriter)

// WithStreamFlushInterval overrides DefaultFlushInterval.
func WithStreamFlushInterval(d time.Duration) StreamWriterOption {
	return func(w *StreamWriter) { w.flushInterval = d }
}

// WithStreamMaxMessageSize bounds the size of a single encoded message;
// zero means unlimited, matching TCP's lack of a fixed MTU.
func WithStreamMaxMessageSize(n int) StreamWriterOption {
	return func(w *StreamWriter) { w.maxSize = n }
}

// NewStreamWriter creates a StreamWriter over conn.
func NewStreamWriter(conn net.Conn, opts ...StreamWriterOption) *StreamWriter {
	w := &StreamWriter{conn: conn, flushInterval: DefaultFlushInterval}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send encodes msg and appends it to the pending write buffer. When flush
// is true, or no coalescing delay is configured, the buffer is written to
// the connection before Send returns.
func (w *StreamWriter) Send(msg *someip.Message, flush bool) error {
	maxSize := w.maxSize
	if maxSize == 0 {
		maxSize = int(someip.HeaderSize) + len(msg.Payload)
	}
	encoded, err := someip.EncodeMessage(msg, maxSize)
	if err != nil {
		return fmt.Errorf("stream send: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("stream send: %w", ErrSocketClosed)
	}

	w.buf = append(w.buf, encoded...)

	if flush || w.flushInterval <= 0 {
		return w.flushLocked()
	}
	w.scheduleFlushLocked()
	return nil
}

func (w *StreamWriter) flushLocked() error {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if len(w.buf) == 0 {
		return nil
	}

	_, err := w.conn.Write(w.buf)
	w.buf = w.buf[:0]
	if err != nil {
		return fmt.Errorf("stream flush: %w", err)
	}
	return nil
}

func (w *StreamWriter) scheduleFlushLocked() {
	if w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(w.flushInterval, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.timer = nil
		_ = w.flushLocked()
	})
}

// Close flushes any pending bytes and closes the underlying connection.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.flushLocked()
	closeErr := w.conn.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("stream close: %w", closeErr)
	}
	return nil
}
