package generation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkworks/easel/internal/event"
	"github.com/inkworks/easel/internal/gallery"
	"github.com/inkworks/easel/internal/sse"
	"github.com/inkworks/easel/internal/session"
)

// defaultConnectTimeout bounds how long a connection may sit in the
// connecting state before it is treated as failed.
const defaultConnectTimeout = 30 * time.Second

// eventBuffer decouples the transport read loop from event application.
const eventBuffer = 16

// Manager owns the lifecycle of exactly one open stream per active
// session. Within a session, events are applied strictly in arrival order
// by a single goroutine; across sessions everything runs concurrently.
// Transport and backend errors never escape the manager: each session
// closes cleanly and surfaces its failure once through OnSessionError.
type Manager struct {
	client         Client
	tracker        *session.Tracker
	store          *gallery.Store
	cb             Callbacks
	logger         *slog.Logger
	connectTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*conn
}

// conn tracks one session's stream connection.
type conn struct {
	jobID  string
	events chan event.Canonical

	mu       sync.Mutex
	refs     int
	state    State
	stream   *sse.Stream
	timedOut bool
	readErr  error
	cancel   context.CancelFunc

	finishOnce sync.Once
}

// NewManager wires the engine together. The store must be the same one the
// tracker seeds placeholders into; its mutation hooks are bound to the
// callbacks here.
func NewManager(client Client, tracker *session.Tracker, store *gallery.Store, cb Callbacks, connectTimeout time.Duration, logger *slog.Logger) *Manager {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	m := &Manager{
		client:         client,
		tracker:        tracker,
		store:          store,
		cb:             cb,
		logger:         logger,
		connectTimeout: connectTimeout,
		conns:          make(map[string]*conn),
	}
	store.OnAppend = cb.OnEntityAppended
	store.OnUpdate = cb.OnEntityUpdated
	return m
}

// Generate runs the submit flow: seed placeholders under a temporary
// correlation token, submit, remap to the server-assigned job id, then
// subscribe to the job's stream. Placeholders are created before the
// submit round-trip so the caller can render immediately; if the submit
// fails they are marked errored in place, not deleted.
func (m *Manager) Generate(ctx context.Context, req SubmitRequest) (string, error) {
	tempID := "tmp-" + uuid.New().String()
	m.tracker.Open(tempID, req.Count, req.Prompt, session.AlbumContext{AlbumID: req.AlbumID})

	resp, err := m.client.Submit(ctx, req)
	if err != nil {
		m.tracker.MarkFailed(tempID, "submission failed: "+err.Error())
		m.tracker.Close(tempID)
		return "", fmt.Errorf("submit generation: %w", err)
	}

	if !m.tracker.Remap(tempID, resp.JobID) {
		// Session torn down while the submit was in flight; the late
		// response is ignored.
		return resp.JobID, nil
	}

	if s, ok := m.tracker.Get(resp.JobID); ok {
		s.Album.AlbumID = resp.AlbumID
		s.Album.AlbumName = resp.AlbumName
	}
	if resp.SystemMessage != "" {
		m.store.Append(gallery.Entity{
			ID:          "msg-" + resp.JobID,
			Kind:        gallery.KindMessage,
			Status:      gallery.StatusComplete,
			Description: resp.SystemMessage,
			CreatedAt:   time.Now(),
		})
	}

	m.Subscribe(resp.JobID)
	return resp.JobID, nil
}

// Subscribe opens the job's stream on the 0→1 reference transition. For a
// session that is already connecting or streaming it only increments the
// reference count, so re-render/remount cycles never open a second
// connection.
func (m *Manager) Subscribe(jobID string) {
	m.mu.Lock()
	if c, ok := m.conns[jobID]; ok {
		c.mu.Lock()
		c.refs++
		c.mu.Unlock()
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		jobID:  jobID,
		events: make(chan event.Canonical, eventBuffer),
		refs:   1,
		state:  StateConnecting,
		cancel: cancel,
	}
	m.conns[jobID] = c
	m.mu.Unlock()

	go m.run(ctx, c)
}

// Unsubscribe decrements the reference count and tears the connection down
// on the 1→0 transition. Unknown job ids are a no-op. The teardown is safe
// against a racing terminal event: transport close and session close
// happen exactly once.
func (m *Manager) Unsubscribe(jobID string) {
	m.mu.Lock()
	c, ok := m.conns[jobID]
	m.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.refs--
	last := c.refs <= 0
	c.mu.Unlock()
	if last {
		m.finish(c, StateClosedExternal, "")
	}
}

// State reports the connection state for a job; StateIdle when no
// connection exists.
func (m *Manager) State(jobID string) State {
	m.mu.Lock()
	c, ok := m.conns[jobID]
	m.mu.Unlock()
	if !ok {
		return StateIdle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shutdown tears down every open connection (view unmount).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		m.finish(c, StateClosedExternal, "")
	}
}

// run opens the transport and drives the read and apply loops. It is the
// only goroutine pair touching this connection's stream.
func (m *Manager) run(ctx context.Context, c *conn) {
	timer := time.AfterFunc(m.connectTimeout, func() {
		c.mu.Lock()
		stillConnecting := c.state == StateConnecting
		if stillConnecting {
			c.timedOut = true
		}
		c.mu.Unlock()
		if stillConnecting {
			c.cancel()
			c.closeStream()
		}
	})
	defer timer.Stop()

	body, err := m.client.OpenStream(ctx, c.jobID)
	if err != nil {
		m.finish(c, StateClosedError, c.errorMessage(fmt.Errorf("open stream: %w", err), m.connectTimeout))
		return
	}

	stream := sse.NewStream(body)
	c.mu.Lock()
	c.stream = stream
	finished := c.state.closed()
	c.mu.Unlock()
	if finished {
		// External teardown raced the open; release the fresh transport.
		_ = stream.Close()
		return
	}

	go m.readLoop(ctx, c, stream, timer)
	m.applyLoop(c)
}

// readLoop parses and normalizes frames, feeding canonical events to the
// apply loop in arrival order. Malformed frames are skipped: one corrupt
// frame must not abort an otherwise-healthy stream.
func (m *Manager) readLoop(ctx context.Context, c *conn, stream *sse.Stream, timer *time.Timer) {
	defer close(c.events)

	first := true
	for {
		raw, err := stream.Next(ctx)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		if first {
			first = false
			timer.Stop()
			c.mu.Lock()
			if c.state == StateConnecting {
				c.state = StateStreaming
			}
			c.mu.Unlock()
			// Synthetic connected event: instant feedback before the first
			// backend event is applied.
			c.events <- event.Canonical{
				Status:    event.StatusProcessing,
				Progress:  0,
				Message:   "connected",
				Timestamp: time.Now(),
			}
		}

		ev, err := event.Normalize(raw.Type, []byte(raw.Data))
		if err != nil {
			m.logger.Warn("skipping malformed frame", "job_id", c.jobID, "error", err)
			continue
		}
		c.events <- ev
	}
}

// applyLoop consumes canonical events and mutates tracker and store. It is
// the session's single writer, so arrival order is application order.
func (m *Manager) applyLoop(c *conn) {
	for ev := range c.events {
		switch ev.Status {
		case event.StatusComplete:
			for _, r := range m.tracker.Resolve(c.jobID, ev) {
				m.store.Update(r.LocalID, r.Patch)
			}
			m.finish(c, StateClosedComplete, "")
			// Keep draining so the read loop can exit; the stream is
			// closed, so this ends promptly.
		case event.StatusError:
			m.finish(c, StateClosedError, ev.Message)
		default:
			if m.cb.OnProgress != nil {
				m.cb.OnProgress(c.jobID, ev)
			}
		}
	}

	// Channel closed: the transport ended. If a terminal event already
	// finished the session this is the normal shutdown path.
	c.mu.Lock()
	closed := c.state.closed()
	readErr := c.readErr
	timedOut := c.timedOut
	c.mu.Unlock()
	if closed {
		return
	}

	msg := "stream ended before completion"
	switch {
	case timedOut:
		msg = fmt.Sprintf("connection timed out after %s", m.connectTimeout)
	case readErr != nil && readErr != io.EOF && readErr != sse.ErrClosed:
		msg = "stream disconnected: " + readErr.Error()
	}
	m.finish(c, StateClosedError, msg)
}

// finish performs terminal cleanup exactly once per connection: it closes
// the transport itself (never relying on the transport to self-close),
// marks unresolved placeholders on error, fires the terminal callback, and
// releases the session. Safe under the unmount/terminal-event race.
func (m *Manager) finish(c *conn, state State, message string) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()

		// Deregister before any callback runs so a callback that calls
		// Unsubscribe or Subscribe cannot re-enter this connection.
		m.mu.Lock()
		if m.conns[c.jobID] == c {
			delete(m.conns, c.jobID)
		}
		m.mu.Unlock()

		c.cancel()
		c.closeStream()

		switch state {
		case StateClosedComplete:
			m.logger.Info("session complete", "job_id", c.jobID)
			if m.cb.OnSessionComplete != nil {
				m.cb.OnSessionComplete(c.jobID)
			}
		case StateClosedError:
			m.logger.Warn("session failed", "job_id", c.jobID, "reason", message)
			m.tracker.MarkFailed(c.jobID, message)
			if m.cb.OnSessionError != nil {
				m.cb.OnSessionError(c.jobID, message)
			}
		default:
			m.logger.Debug("session detached", "job_id", c.jobID)
		}

		m.tracker.Close(c.jobID)
	})
}

func (s State) closed() bool {
	return s == StateClosedComplete || s == StateClosedError || s == StateClosedExternal
}

func (c *conn) closeStream() {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
}

// errorMessage picks the surfaced message for a connect-phase failure.
func (c *conn) errorMessage(err error, timeout time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timedOut {
		return fmt.Sprintf("connection timed out after %s", timeout)
	}
	return err.Error()
}
