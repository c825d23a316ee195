package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the wire shape of one stream frame's data payload:
// a wrapper identifying the job plus a status-specific body.
type Envelope struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id"`
	Timestamp string  `json:"timestamp"`
	Data      Payload `json:"data"`
}

// Payload carries the status-specific fields of a frame.
type Payload struct {
	Status   string          `json:"status"`
	Progress *int            `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Images   json.RawMessage `json:"images,omitempty"`
}

// defaultProgress is assumed when a processing frame omits its progress.
const defaultProgress = 50

// Normalize maps one raw frame onto the canonical status model. It is a
// pure mapping with one exception: Timestamp is stamped from the local
// clock. The only returned error is a JSON decode failure of data; every
// well-formed envelope normalizes, with unknown statuses treated as
// processing so new backend states degrade gracefully instead of breaking
// old clients.
func Normalize(rawType string, data []byte) (Canonical, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Canonical{}, fmt.Errorf("decode %s frame: %w", rawType, err)
	}
	return normalizePayload(env.Data), nil
}

func normalizePayload(p Payload) Canonical {
	now := time.Now()

	switch strings.ToLower(p.Status) {
	case "queued":
		return Canonical{Status: StatusProcessing, Progress: 0, Message: messageOr(p, "queued"), Timestamp: now}

	case "processing":
		progress := defaultProgress
		if p.Progress != nil {
			progress = clampProgress(*p.Progress)
		}
		return Canonical{Status: StatusProcessing, Progress: progress, Message: messageOr(p, "processing"), Timestamp: now}

	case "completed":
		images := decodeImages(p.Images)
		if len(images) == 0 {
			// A "completed" frame without artifacts would advance
			// placeholders to a complete-with-no-url state; report it as an
			// error instead.
			return Canonical{
				Status:    StatusError,
				Progress:  0,
				Message:   "completed but no images received",
				Timestamp: now,
			}
		}
		return Canonical{Status: StatusComplete, Progress: 100, Message: p.Message, Images: images, Timestamp: now}

	case "failed":
		return Canonical{Status: StatusError, Progress: 0, Message: messageOr(p, "generation failed"), Timestamp: now}

	default:
		return Canonical{Status: StatusProcessing, Progress: 0, Message: "processing", Timestamp: now}
	}
}

// decodeImages maps the wire image array field-for-field. A malformed
// array normalizes to nil, which the completed branch reports as an error.
func decodeImages(raw json.RawMessage) []Image {
	if len(raw) == 0 {
		return nil
	}
	var images []Image
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil
	}
	out := images[:0]
	for _, img := range images {
		if img.URL != "" {
			out = append(out, img)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func messageOr(p Payload, fallback string) string {
	if p.Message != "" {
		return p.Message
	}
	return fallback
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
