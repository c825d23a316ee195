// Package sse decodes server-sent event streams into discrete events.
//
// The decoder is deliberately minimal: it understands the `event:` and
// `data:` fields and blank-line message framing, which is all the studio
// backend emits. Retry hints and event ids are ignored.
package sse

import (
	"bytes"
	"strings"
)

// Event is one decoded server-sent event.
type Event struct {
	Type string
	Data string
}

// Decoder turns arbitrarily chunked stream bytes into complete events.
// Incomplete trailing bytes are buffered and prefixed onto the next chunk,
// so the emitted event sequence is independent of how the transport splits
// the byte stream.
type Decoder struct {
	buf       []byte
	eventType string
	data      string
	hasData   bool
}

// NewDecoder creates an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the pending buffer and returns every event whose
// terminating blank line is now available. A message with no data line is
// discarded. If multiple data lines appear in one message the last one wins.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx == -1 {
			return events
		}

		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]
		line = strings.TrimRight(line, "\r")

		if line == "" {
			if ev, ok := d.flush(); ok {
				events = append(events, ev)
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			// Comment / keepalive line.
			continue
		}
		if strings.HasPrefix(line, "event:") {
			d.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			part := strings.TrimPrefix(line, "data:")
			part = strings.TrimPrefix(part, " ")
			d.data = part
			d.hasData = true
		}
	}
}

// flush completes the in-progress message. Returns false when the message
// carried no data line.
func (d *Decoder) flush() (Event, bool) {
	eventType := d.eventType
	data := d.data
	ok := d.hasData

	d.eventType = ""
	d.data = ""
	d.hasData = false

	if !ok {
		return Event{}, false
	}
	if eventType == "" {
		eventType = "message"
	}
	return Event{Type: eventType, Data: data}, true
}

// Pending reports whether unterminated bytes remain buffered. An incomplete
// message at stream end is not a complete event and is never emitted.
func (d *Decoder) Pending() bool {
	return len(d.buf) > 0 || d.hasData || d.eventType != ""
}
