package sse

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Next after the stream has been closed locally.
var ErrClosed = errors.New("sse: stream closed")

// readBufferSize is the transport read granularity. Events are typically a
// few hundred bytes; 4 KiB keeps syscall count low without hoarding memory
// per connection.
const readBufferSize = 4096

// Stream is a pull-based event sequence over an open transport body.
// Consumption is lazy: bytes are read only when Next is called, and
// abandoning the stream via Close releases the underlying connection.
type Stream struct {
	body    io.ReadCloser
	dec     *Decoder
	pending []Event
	readBuf []byte

	mu     sync.Mutex
	closed bool
}

// NewStream wraps body in a Stream. The Stream owns body and closes it.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:    body,
		dec:     NewDecoder(),
		readBuf: make([]byte, readBufferSize),
	}
}

// Next returns the next complete event. It returns io.EOF when the
// transport ends cleanly, ErrClosed after a local Close, and the transport
// error otherwise. A partial message at EOF is discarded, not yielded.
//
// ctx is checked between transport reads; to interrupt a read already in
// flight, call Close, which unblocks the read.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			s.pending = append(s.pending, s.dec.Feed(s.readBuf[:n])...)
		}
		if err != nil {
			if len(s.pending) > 0 {
				// Drain fully decoded events before reporting the error.
				continue
			}
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return Event{}, ErrClosed
			}
			return Event{}, err
		}
	}
}

// Close releases the underlying transport. Safe to call more than once and
// concurrently with Next.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.body.Close()
}
