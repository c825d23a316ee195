// Package event defines the canonical status model for generation streams
// and the normalizer that maps backend event shapes onto it.
package event

import "time"

// Status is the canonical lifecycle state carried by a normalized event.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Image is one produced artifact reference.
type Image struct {
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Seed        int64  `json:"seed,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Canonical is the backend-agnostic representation of stream progress.
// Images is populated only for StatusComplete. Timestamp is assigned at
// normalization time rather than trusted from the wire, so local ordering
// stays monotonic regardless of upstream clock skew.
type Canonical struct {
	Status    Status
	Progress  int // 0..100
	Message   string
	Images    []Image
	Timestamp time.Time
}

// Terminal reports whether the event ends its session.
func (c Canonical) Terminal() bool {
	return c.Status == StatusComplete || c.Status == StatusError
}
