package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkworks/easel/internal/gallery"
	"github.com/inkworks/easel/internal/session"
)

// scriptedBody is a fake transport body fed frame-by-frame.
type scriptedBody struct {
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newScriptedBody() *scriptedBody {
	return &scriptedBody{ch: make(chan []byte, 16), closed: make(chan struct{})}
}

func (b *scriptedBody) send(s string) { b.ch <- []byte(s) }
func (b *scriptedBody) end()          { close(b.ch) }

func (b *scriptedBody) Read(p []byte) (int, error) {
	select {
	case data, ok := <-b.ch:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-b.closed:
		return 0, errors.New("transport closed")
	}
}

func (b *scriptedBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *scriptedBody) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

type fakeClient struct {
	submitResp SubmitResponse
	submitErr  error
	openErr    error
	body       *scriptedBody
	opens      atomic.Int32
}

func (f *fakeClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	return f.submitResp, f.submitErr
}

func (f *fakeClient) OpenStream(ctx context.Context, jobID string) (io.ReadCloser, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.body, nil
}

func statusFrame(data string) string {
	return fmt.Sprintf("event: generation.status\ndata: {\"type\":\"generation.status\",\"request_id\":\"job-1\",\"data\":%s}\n\n", data)
}

type harness struct {
	manager  *Manager
	store    *gallery.Store
	tracker  *session.Tracker
	client   *fakeClient
	complete chan string
	failed   chan string
}

func newHarness(t *testing.T, client *fakeClient, timeout time.Duration) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := gallery.NewStore(20, nil, nil)
	tracker := session.NewTracker(store, logger)

	h := &harness{
		store:    store,
		tracker:  tracker,
		client:   client,
		complete: make(chan string, 4),
		failed:   make(chan string, 4),
	}
	h.manager = NewManager(client, tracker, store, Callbacks{
		OnSessionComplete: func(jobID string) { h.complete <- jobID },
		OnSessionError:    func(jobID, msg string) { h.failed <- msg },
	}, timeout, logger)
	return h
}

func waitFor(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestGenerateHappyPath(t *testing.T) {
	body := newScriptedBody()
	client := &fakeClient{
		submitResp: SubmitResponse{JobID: "job-1", AlbumID: "album-1", SystemMessage: "generating 2 images"},
		body:       body,
	}
	h := newHarness(t, client, time.Second)

	jobID, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "sunset", Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("got job id %q", jobID)
	}

	// Placeholders were created before any stream activity, already
	// remapped to the job key.
	if n := h.store.Gallery().CountByCorrelation("job-1"); n != 2 {
		t.Fatalf("expected 2 placeholders under job-1, got %d", n)
	}
	if h.store.Timeline().Len() != 1 {
		t.Fatalf("expected the system message on the timeline")
	}

	body.send(statusFrame(`{"status":"queued"}`))
	body.send(statusFrame(`{"status":"completed","images":[{"url":"https://cdn/0.png"},{"url":"https://cdn/1.png"}]}`))

	if got := waitFor(t, h.complete, "session complete"); got != "job-1" {
		t.Fatalf("OnSessionComplete fired for %q", got)
	}
	select {
	case got := <-h.complete:
		t.Fatalf("OnSessionComplete fired twice (second: %q)", got)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 2; i++ {
		e, ok := h.store.Get(fmt.Sprintf("placeholder-job-1-%d", i))
		if !ok || e.Status != gallery.StatusComplete {
			t.Fatalf("placeholder %d not complete: %+v", i, e)
		}
		if e.URL != fmt.Sprintf("https://cdn/%d.png", i) {
			t.Fatalf("placeholder %d got url %q", i, e.URL)
		}
	}
	if !body.isClosed() {
		t.Fatalf("manager must close the transport itself on completion")
	}
	if _, ok := h.tracker.Get("job-1"); ok {
		t.Fatalf("session must be released after the terminal event")
	}
}

func TestDroppedConnection(t *testing.T) {
	body := newScriptedBody()
	client := &fakeClient{submitResp: SubmitResponse{JobID: "job-1"}, body: body}
	h := newHarness(t, client, time.Second)

	if _, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "p", Count: 2}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Transport drops before any event arrives.
	body.end()

	msg := waitFor(t, h.failed, "session error")
	if msg == "" {
		t.Fatalf("expected a transport error message")
	}
	for i := 0; i < 2; i++ {
		e, _ := h.store.Get(fmt.Sprintf("placeholder-job-1-%d", i))
		if e.Status != gallery.StatusError {
			t.Fatalf("placeholder %d left %s, want error", i, e.Status)
		}
	}
}

func TestRemapRaceImmediateCompletion(t *testing.T) {
	body := newScriptedBody()
	// The terminal frame is already queued when the stream opens.
	body.send(statusFrame(`{"status":"completed","images":[{"url":"https://cdn/0.png"}]}`))
	client := &fakeClient{submitResp: SubmitResponse{JobID: "job-9"}, body: body}
	h := newHarness(t, client, time.Second)

	if _, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "p", Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, h.complete, "session complete")

	for _, e := range h.store.Gallery().Snapshot() {
		if e.CorrelationID != "job-9" {
			t.Fatalf("entity still under pre-remap key: %+v", e)
		}
	}
	e, ok := h.store.Get("placeholder-job-9-0")
	if !ok || e.Status != gallery.StatusComplete || e.URL != "https://cdn/0.png" {
		t.Fatalf("completed image did not apply to the remapped placeholder: %+v", e)
	}
}

func TestSubmitFailureMarksPlaceholders(t *testing.T) {
	client := &fakeClient{submitErr: errors.New("quota exceeded")}
	h := newHarness(t, client, time.Second)

	_, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "p", Count: 2})
	if err == nil {
		t.Fatalf("expected submit failure to surface")
	}

	// Policy: optimistic placeholders are marked errored in place.
	got := h.store.Gallery().Snapshot()
	if len(got) != 2 {
		t.Fatalf("placeholders must not be deleted on submit failure, got %d", len(got))
	}
	for _, e := range got {
		if e.Status != gallery.StatusError {
			t.Fatalf("expected errored placeholder, got %+v", e)
		}
	}
	if h.tracker.Active() != 0 {
		t.Fatalf("no session may remain after a failed submit")
	}
	select {
	case msg := <-h.failed:
		t.Fatalf("submit failures surface via the return value, not OnSessionError (%q)", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeIsRefCounted(t *testing.T) {
	body := newScriptedBody()
	client := &fakeClient{submitResp: SubmitResponse{JobID: "job-1"}, body: body}
	h := newHarness(t, client, time.Second)

	if _, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "p", Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	body.send(statusFrame(`{"status":"queued"}`))

	deadline := time.Now().Add(2 * time.Second)
	for h.manager.State("job-1") != StateStreaming {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", h.manager.State("job-1"), StateStreaming)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Remount re-triggers subscription; must not open a second transport.
	h.manager.Subscribe("job-1")
	h.manager.Subscribe("job-1")
	if got := client.opens.Load(); got != 1 {
		t.Fatalf("expected exactly 1 OpenStream call, got %d", got)
	}

	h.manager.Unsubscribe("job-1")
	h.manager.Unsubscribe("job-1")
	if body.isClosed() {
		t.Fatalf("transport must stay open while subscribers remain")
	}

	h.manager.Unsubscribe("job-1")
	deadline = time.Now().Add(2 * time.Second)
	for !body.isClosed() {
		if time.Now().After(deadline) {
			t.Fatalf("transport must close on the 1→0 transition")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.manager.State("job-1"); got != StateIdle {
		t.Fatalf("torn-down session state = %v, want %v", got, StateIdle)
	}

	// Double-teardown and a late Unsubscribe must stay no-ops.
	h.manager.Unsubscribe("job-1")
	select {
	case msg := <-h.failed:
		t.Fatalf("external close must not report an error (%q)", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	body := newScriptedBody()
	client := &fakeClient{submitResp: SubmitResponse{JobID: "job-1"}, body: body}
	h := newHarness(t, client, time.Second)

	if _, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "p", Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	body.send("event: generation.status\ndata: {broken json\n\n")
	body.send(statusFrame(`{"status":"completed","images":[{"url":"https://cdn/0.png"}]}`))

	waitFor(t, h.complete, "session complete despite corrupt frame")
}

func TestBackendFailureSurfacesMessage(t *testing.T) {
	body := newScriptedBody()
	client := &fakeClient{submitResp: SubmitResponse{JobID: "job-1"}, body: body}
	h := newHarness(t, client, time.Second)

	if _, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "p", Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	body.send(statusFrame(`{"status":"failed","message":"nsfw content rejected"}`))

	if msg := waitFor(t, h.failed, "session error"); msg != "nsfw content rejected" {
		t.Fatalf("backend message must surface verbatim, got %q", msg)
	}
	if !body.isClosed() {
		t.Fatalf("manager must close the transport on backend failure")
	}
}

func TestConnectTimeout(t *testing.T) {
	body := newScriptedBody() // never sends a byte
	client := &fakeClient{submitResp: SubmitResponse{JobID: "job-1"}, body: body}
	h := newHarness(t, client, 50*time.Millisecond)

	if _, err := h.manager.Generate(context.Background(), SubmitRequest{Prompt: "p", Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	msg := waitFor(t, h.failed, "timeout error")
	if !strings.Contains(msg, "timed out") {
		t.Fatalf("expected a connection-timeout message, got %q", msg)
	}
	e, _ := h.store.Get("placeholder-job-1-0")
	if e.Status != gallery.StatusError {
		t.Fatalf("placeholder must not hang in rendering after a timeout")
	}
}
