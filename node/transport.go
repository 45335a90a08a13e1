package node

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/andydunstall/glomers/pkg/protocol"
)

// Transport sends messages to other nodes and clients.
type Transport interface {
	Send(m *protocol.Message) error
}

// StreamTransport writes each message as a line of JSON to the underlying
// writer.
//
// Writes are serialised so concurrent senders never interleave frames.
type StreamTransport struct {
	w *bufio.Writer

	// mu protects the above fields.
	mu sync.Mutex

	metrics *Metrics
}

func NewStreamTransport(w io.Writer, metrics *Metrics) *StreamTransport {
	return &StreamTransport{
		w:       bufio.NewWriter(w),
		metrics: metrics,
	}
}

// Send encodes and writes the message, flushing before returning.
func (t *StreamTransport) Send(m *protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.w.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	t.metrics.FramesOutbound.WithLabelValues(string(m.Body.Type())).Inc()
	t.metrics.BytesOutbound.Add(float64(len(b) + 1))

	return nil
}

var _ Transport = &StreamTransport{}

// FrameReader reads newline delimited frames from the underlying reader.
//
// FrameReader is not safe for concurrent use.
type FrameReader struct {
	scanner *bufio.Scanner

	metrics *Metrics
}

func NewFrameReader(r io.Reader, maxFrameSize int, metrics *Metrics) *FrameReader {
	// The initial buffer capacity also bounds the frame size, so must not
	// exceed the maximum.
	initialSize := min(64*1024, maxFrameSize)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialSize), maxFrameSize)
	return &FrameReader{
		scanner: scanner,
		metrics: metrics,
	}
}

// Next returns the next non-empty frame. The returned slice is owned by the
// caller. Returns io.EOF once the reader is exhausted.
func (r *FrameReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		b := r.scanner.Bytes()
		r.metrics.BytesInbound.Add(float64(len(b) + 1))

		b = bytes.TrimSpace(b)
		if len(b) == 0 {
			continue
		}

		frame := make([]byte, len(b))
		copy(frame, b)
		return frame, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
