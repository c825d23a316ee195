// Package render simulates generation jobs for the reference backend and
// publishes their progress as stream frames.
package render

import "time"

// Frame event types carried on the wire.
const (
	FrameTypeQueued     = "generation.queued"
	FrameTypeProcessing = "generation.processing"
	FrameTypeCompleted  = "generation.completed"
	FrameTypeFailed     = "generation.failed"
)

// Frame is the wire-level envelope written as the data payload of one SSE
// message.
type Frame struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id"`
	Timestamp string  `json:"timestamp"`
	Data      Payload `json:"data"`
}

// Payload carries the status-specific fields of a frame.
type Payload struct {
	Status   string  `json:"status"`
	Progress *int    `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
	Images   []Image `json:"images,omitempty"`
}

// Image describes one generated artifact inside a completed frame.
type Image struct {
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Seed        int64  `json:"seed,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

func newFrame(frameType, jobID string, data Payload) Frame {
	return Frame{
		Type:      frameType,
		RequestID: jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}
