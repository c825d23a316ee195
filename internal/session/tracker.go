// Package session correlates submitted generation jobs with the
// placeholder entities they own, including the one-time swap from a
// client-generated correlation token to the server-assigned job id.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inkworks/easel/internal/event"
	"github.com/inkworks/easel/internal/gallery"
)

// AlbumContext is the album a session renders into.
type AlbumContext struct {
	AlbumID   string
	AlbumName string
}

// Session binds one job to its placeholder entities. Placeholder local ids
// are held here, index-aligned, so event resolution never parses id
// strings.
type Session struct {
	CorrelationID string // client token until remapped, then the job id
	JobID         string // empty until the submit response arrives
	Prompt        string
	Count         int
	Album         AlbumContext
	CreatedAt     time.Time

	placeholders []string // local ids by batch index
}

// Resolution pairs one placeholder with the patch an event implies for it.
type Resolution struct {
	LocalID string
	Patch   gallery.Patch
}

// Tracker owns the map from correlation key (temp token or job id) to
// session state. It is the only writer of that map; all methods are safe
// for concurrent use across sessions.
type Tracker struct {
	store  *gallery.Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTracker creates a tracker that seeds and mutates placeholders through
// store.
func NewTracker(store *gallery.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// placeholderID builds the local id for one batch slot.
func placeholderID(correlationID string, index int) string {
	return fmt.Sprintf("placeholder-%s-%d", correlationID, index)
}

// Open creates count placeholder entities under the temporary correlation
// token and appends them to the gallery projection synchronously, so the
// caller can render them before any network round-trip completes.
func (t *Tracker) Open(tempID string, count int, prompt string, album AlbumContext) *Session {
	if count < 1 {
		count = 1
	}

	now := time.Now()
	s := &Session{
		CorrelationID: tempID,
		Prompt:        prompt,
		Count:         count,
		Album:         album,
		CreatedAt:     now,
		placeholders:  make([]string, count),
	}

	entities := make([]gallery.Entity, count)
	for i := 0; i < count; i++ {
		id := placeholderID(tempID, i)
		s.placeholders[i] = id
		entities[i] = gallery.Entity{
			ID:            id,
			CorrelationID: tempID,
			Kind:          gallery.KindImage,
			Status:        gallery.StatusRendering,
			Description:   prompt,
			CreatedAt:     now,
		}
	}

	t.mu.Lock()
	t.sessions[tempID] = s
	t.mu.Unlock()

	t.store.Append(entities...)
	t.logger.Debug("session opened", "correlation_id", tempID, "count", count)
	return s
}

// Remap swaps the session's temporary token for the server-assigned job
// id. Every placeholder's local id and correlation key change in a single
// store operation; there is no observable state with only some renamed.
// Remapping a session that was already closed is a normal no-op (a submit
// response can arrive after teardown) and returns false.
func (t *Tracker) Remap(tempID, jobID string) bool {
	t.mu.Lock()
	s, ok := t.sessions[tempID]
	if !ok {
		t.mu.Unlock()
		t.logger.Debug("remap skipped, session closed", "correlation_id", tempID, "job_id", jobID)
		return false
	}

	remaps := make([]gallery.Remapping, len(s.placeholders))
	for i, old := range s.placeholders {
		newID := placeholderID(jobID, i)
		remaps[i] = gallery.Remapping{OldID: old, NewID: newID, NewCorrelationID: jobID}
		s.placeholders[i] = newID
	}
	s.CorrelationID = jobID
	s.JobID = jobID
	delete(t.sessions, tempID)
	t.sessions[jobID] = s
	t.mu.Unlock()

	t.store.Remap(remaps)
	t.logger.Debug("session remapped", "correlation_id", tempID, "job_id", jobID)
	return true
}

// Resolve pairs a terminal complete event's images with the session's
// placeholders by batch index. When fewer images arrive than were
// requested, the unmatched placeholders resolve to an error state instead
// of staying in rendering forever. Returns nil for unknown sessions.
func (t *Tracker) Resolve(jobID string, ev event.Canonical) []Resolution {
	t.mu.Lock()
	s, ok := t.sessions[jobID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	locals := append([]string(nil), s.placeholders...)
	t.mu.Unlock()

	resolutions := make([]Resolution, 0, len(locals))
	for i, localID := range locals {
		if i < len(ev.Images) {
			img := ev.Images[i]
			complete := gallery.StatusComplete
			resolutions = append(resolutions, Resolution{
				LocalID: localID,
				Patch: gallery.Patch{
					Status: &complete,
					URL:    &img.URL,
					Width:  &img.Width,
					Height: &img.Height,
					Seed:   &img.Seed,
				},
			})
			continue
		}
		failed := gallery.StatusError
		msg := "not produced"
		resolutions = append(resolutions, Resolution{
			LocalID: localID,
			Patch:   gallery.Patch{Status: &failed, Description: &msg},
		})
	}
	return resolutions
}

// MarkFailed flips every placeholder of the session that is still
// rendering to an error state with the given message. Returns the number
// of placeholders updated. Used for transport errors, backend failures and
// the submit-failure policy (errored in place, never silently deleted).
func (t *Tracker) MarkFailed(id, message string) int {
	t.mu.Lock()
	s, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return 0
	}
	locals := append([]string(nil), s.placeholders...)
	t.mu.Unlock()

	failed := gallery.StatusError
	updated := 0
	for _, localID := range locals {
		e, ok := t.store.Get(localID)
		if !ok || e.Status != gallery.StatusRendering {
			continue
		}
		msg := message
		if t.store.Update(localID, gallery.Patch{Status: &failed, Description: &msg}) {
			updated++
		}
	}
	return updated
}

// Close releases tracking state for the session. Idempotent: closing an
// unknown or already-closed session is a no-op, because terminal-event
// handling and explicit teardown can both try.
func (t *Tracker) Close(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; ok {
		delete(t.sessions, id)
		t.logger.Debug("session closed", "id", id)
	}
}

// Get returns the session registered under the given correlation key.
func (t *Tracker) Get(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Active returns the number of open sessions.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
