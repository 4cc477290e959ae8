// Package utils holds the cross-adapter helpers providers depend on: header
// sanitization, rate-limit parsing, usage extraction, and the bounded SSE reader
// all of them share.
package utils

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// SSEEvent is a single parsed Server-Sent Event: an optional event name and the
// (possibly multi-line) data payload joined with "\n", per the SSE spec.
type SSEEvent struct {
	Name string
	Data string
}

// SSEReader is a line-oriented iterator over a chunked byte stream yielding
// (eventName, data) tuples. It tolerates blank lines, multi-line `data:`, and
// CRLF. Once the bytes consumed (each line plus its newline) reach maxBytes,
// the line that reached the cap is discarded, any
// event in progress is returned, and every later Next returns io.EOF even if
// the underlying stream has more to give. The bufio.Scanner underneath may
// read ahead of the cap by up to its buffer size.
type SSEReader struct {
	scanner  *bufio.Scanner
	read     int64
	maxBytes int64
	capped   bool
}

// NewSSEReader wraps r with a byte cap. maxBytes <= 0 means unbounded.
func NewSSEReader(r io.Reader, maxBytes int64) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEReader{scanner: sc, maxBytes: maxBytes}
}

// Next returns the next event, or io.EOF when the stream (or the byte cap) is
// exhausted.
func (s *SSEReader) Next() (SSEEvent, error) {
	if s.capped {
		return SSEEvent{}, io.EOF
	}

	var eventName string
	var dataLines []string
	sawAny := false

	for s.scanner.Scan() {
		line := s.scanner.Text()
		s.read += int64(len(line)) + 1
		line = strings.TrimSuffix(line, "\r")

		if s.maxBytes > 0 && s.read >= s.maxBytes {
			s.capped = true
			if sawAny {
				return SSEEvent{Name: eventName, Data: strings.Join(dataLines, "\n")}, nil
			}
			return SSEEvent{}, io.EOF
		}

		if line == "" {
			if sawAny {
				return SSEEvent{Name: eventName, Data: strings.Join(dataLines, "\n")}, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		sawAny = true
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// unrecognized field, ignore per SSE spec
		}
	}

	if sawAny {
		return SSEEvent{Name: eventName, Data: strings.Join(dataLines, "\n")}, nil
	}
	if err := s.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	return SSEEvent{}, io.EOF
}

// BytesRead reports how many bytes have been consumed so far, for callers that
// log how close to the cap a read came.
func (s *SSEReader) BytesRead() int64 { return s.read }

// TeeSSE splits r into two independent io.Readers: one for the client, one
// for an analytics/usage consumer, without cloning the whole stream into a
// buffer first. The analytics side is backed by a bounded channel of chunks
// rather than a blocking pipe, so a slow or abandoned analytics reader can
// never backpressure the client: once the queue is full, new chunks are
// dropped for the analytics side only (the client is unaffected).
func TeeSSE(r io.Reader) (client io.Reader, analytics io.Reader) {
	aw := newAsyncWriter(64)
	client = io.TeeReader(r, aw)
	analytics = aw
	return client, aw
}

// asyncWriter is a single-producer/single-consumer chunk queue: Write (called
// synchronously on the client's read path via io.TeeReader) never blocks, and
// Read (called by the analytics consumer, typically from another goroutine)
// blocks until a chunk is available or the writer side is closed.
type asyncWriter struct {
	chunks chan []byte
	closed chan struct{}
	once   sync.Once

	pending []byte // leftover from a partially-consumed chunk
}

func newAsyncWriter(depth int) *asyncWriter {
	return &asyncWriter{chunks: make(chan []byte, depth), closed: make(chan struct{})}
}

func (a *asyncWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	select {
	case a.chunks <- cp:
	default:
		// analytics consumer is behind; drop this chunk rather than block the client.
	}
	return len(p), nil
}

// Close signals EOF to the analytics reader once the client side is done.
func (a *asyncWriter) Close() error {
	a.once.Do(func() { close(a.closed) })
	return nil
}

func (a *asyncWriter) Read(p []byte) (int, error) {
	if len(a.pending) == 0 {
		select {
		case chunk, ok := <-a.chunks:
			if !ok {
				return 0, io.EOF
			}
			a.pending = chunk
		case <-a.closed:
			select {
			case chunk := <-a.chunks:
				a.pending = chunk
			default:
				return 0, io.EOF
			}
		}
	}
	n := copy(p, a.pending)
	a.pending = a.pending[n:]
	return n, nil
}
