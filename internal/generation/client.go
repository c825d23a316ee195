// Package generation orchestrates generation sessions: it submits jobs,
// owns one stream connection per active session, and reconciles incoming
// events into the gallery and timeline projections.
package generation

import (
	"context"
	"io"

	"github.com/inkworks/easel/internal/event"
	"github.com/inkworks/easel/internal/gallery"
)

// SubmitRequest describes one generation job.
type SubmitRequest struct {
	Prompt      string   `json:"prompt"`
	InputImages []string `json:"input_images,omitempty"`
	Count       int      `json:"count"`
	// AlbumID is optional; when empty the backend creates a new album as a
	// side effect and returns it in the response.
	AlbumID string `json:"album_id,omitempty"`
}

// SubmitResponse is the backend's answer to a submission.
type SubmitResponse struct {
	JobID         string `json:"job_id"`
	AlbumID       string `json:"album_id,omitempty"`
	AlbumName     string `json:"album_name,omitempty"`
	SystemMessage string `json:"system_message,omitempty"`
}

// Client is the studio backend surface the engine consumes. Submit starts
// a job; OpenStream opens the raw event stream for a job id. The engine
// owns the returned body and closes it.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
	OpenStream(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// Callbacks notify the owning view layer. All fields are optional. The
// four session/entity callbacks match the engine's outward contract;
// OnProgress additionally surfaces non-terminal canonical events (incl.
// the synthetic connected event) for live progress display.
type Callbacks struct {
	OnEntityAppended  func(gallery.Entity)
	OnEntityUpdated   func(id string, patch gallery.Patch)
	OnSessionComplete func(jobID string)
	OnSessionError    func(jobID, message string)
	OnProgress        func(jobID string, ev event.Canonical)
}

// State is the lifecycle phase of one session's stream connection.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateStreaming      State = "streaming"
	StateClosedComplete State = "closed-complete"
	StateClosedError    State = "closed-error"
	StateClosedExternal State = "closed-external"
)
