// Package gallery owns the ordered client-side projections (gallery and
// timeline) and the reconciliation operations that mutate them as stream
// events arrive: append, update-in-place, paginated loads, and the atomic
// temp-to-real identifier remap.
package gallery

import "time"

// Kind distinguishes projection entries.
type Kind string

const (
	KindImage   Kind = "image"   // gallery artwork or placeholder
	KindMessage Kind = "message" // timeline conversational entry
)

// EntityStatus is the render state of a projection entry.
type EntityStatus string

const (
	StatusRendering EntityStatus = "rendering"
	StatusComplete  EntityStatus = "complete"
	StatusError     EntityStatus = "error"
)

// Entity is one entry of a projection, keyed by a stable ID. For
// placeholders CorrelationID holds the client token until the server
// assigns a job id; the remap operation swaps both in one pass.
type Entity struct {
	ID            string       `json:"id"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Kind          Kind         `json:"kind"`
	Status        EntityStatus `json:"status"`
	URL           string       `json:"url,omitempty"`
	Width         int          `json:"width,omitempty"`
	Height        int          `json:"height,omitempty"`
	Seed          int64        `json:"seed,omitempty"`
	Description   string       `json:"description,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Patch is a partial update applied to one entity in place. Nil fields are
// left untouched.
type Patch struct {
	Status      *EntityStatus
	URL         *string
	Width       *int
	Height      *int
	Seed        *int64
	Description *string
}

func (p Patch) apply(e *Entity) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.URL != nil {
		e.URL = *p.URL
	}
	if p.Width != nil {
		e.Width = *p.Width
	}
	if p.Height != nil {
		e.Height = *p.Height
	}
	if p.Seed != nil {
		e.Seed = *p.Seed
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
}

// Remapping rewrites one entity's identity during the temp-to-real swap.
type Remapping struct {
	OldID            string
	NewID            string
	NewCorrelationID string
}
