package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/inkworks/easel/internal/render"
	"github.com/inkworks/easel/internal/storage"
	"github.com/inkworks/easel/internal/store"
)

type testEnqueuer struct {
	err error

	mu       sync.Mutex
	enqueued []string
}

func (e *testEnqueuer) Enqueue(jobID string) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueued = append(e.enqueued, jobID)
	return nil
}

func (e *testEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enqueued)
}

func newTestServer(t *testing.T, enqueuer JobEnqueuer) (*Server, Stores, *render.Broker) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "easel.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	stores := Stores{
		Albums:   store.NewAlbumStore(db),
		Jobs:     store.NewJobStore(db),
		Assets:   store.NewAssetStore(db),
		Messages: store.NewMessageStore(db),
	}
	broker := render.NewBroker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{Token: "test-token"}, stores, enqueuer, broker, logger)
	return srv, stores, broker
}

func authedRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestGenerateRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, &testEnqueuer{})
	router := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(`{"prompt":"x"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestGenerateCreatesAlbumSideEffect(t *testing.T) {
	enqueuer := &testEnqueuer{}
	srv, stores, _ := newTestServer(t, enqueuer)
	router := srv.setupRoutes()

	body := []byte(`{"prompt":"a lighthouse at dusk","count":2}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/generations", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	var resp GenerateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.AlbumID == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if resp.AlbumName == "" {
		t.Fatalf("expected side-effect album to carry a name")
	}
	if !strings.Contains(resp.SystemMessage, "a lighthouse at dusk") {
		t.Fatalf("system message = %q, want to mention the prompt", resp.SystemMessage)
	}

	ctx := context.Background()
	if _, err := stores.Albums.GetByID(ctx, resp.AlbumID); err != nil {
		t.Fatalf("side-effect album not persisted: %v", err)
	}
	job, err := stores.Jobs.GetByID(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Count != 2 {
		t.Fatalf("job count = %d, want 2", job.Count)
	}

	msgs, err := stores.Messages.ListPage(ctx, resp.AlbumID, 0, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("persisted %d system messages, want 1", len(msgs))
	}

	if enqueuer.count() != 1 {
		t.Fatalf("enqueued %d jobs, want 1", enqueuer.count())
	}
}

func TestGenerateReusesExistingAlbum(t *testing.T) {
	srv, stores, _ := newTestServer(t, &testEnqueuer{})
	router := srv.setupRoutes()

	album, err := stores.Albums.Create(context.Background(), "Seascapes")
	if err != nil {
		t.Fatalf("create album: %v", err)
	}

	body := []byte(fmt.Sprintf(`{"prompt":"storm waves","album_id":%q}`, album.ID))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/generations", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp GenerateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AlbumID != album.ID || resp.AlbumName != "Seascapes" {
		t.Fatalf("expected existing album echoed back, got %+v", resp)
	}
}

func TestGenerateUnknownAlbumReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t, &testEnqueuer{})
	router := srv.setupRoutes()

	body := []byte(`{"prompt":"x","album_id":"no-such-album"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/generations", body))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGenerateQueueBackpressureReturns503(t *testing.T) {
	srv, _, _ := newTestServer(t, &testEnqueuer{err: errors.New("queue full")})
	router := srv.setupRoutes()

	body := []byte(`{"prompt":"x"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/generations", body))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestListAssetsPagesNewestFirst(t *testing.T) {
	srv, stores, _ := newTestServer(t, &testEnqueuer{})
	router := srv.setupRoutes()
	ctx := context.Background()

	album, err := stores.Albums.Create(ctx, "Pages")
	if err != nil {
		t.Fatalf("create album: %v", err)
	}
	job, err := stores.Jobs.Create(ctx, album.ID, "pages", 1)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	for i := 0; i < 5; i++ {
		_, err := stores.Assets.Create(ctx, &store.Asset{
			AlbumID: album.ID,
			JobID:   job.ID,
			URL:     fmt.Sprintf("https://cdn.example.com/%d.png", i),
		})
		if err != nil {
			t.Fatalf("create asset: %v", err)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/albums/"+album.ID+"/assets?offset=0&limit=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var page AssetPageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Assets) != 2 {
		t.Fatalf("page size = %d, want 2", len(page.Assets))
	}
	if page.Limit != 2 || page.Offset != 0 {
		t.Fatalf("page params echoed wrong: %+v", page)
	}
}

func TestJobEventsStreamsFrames(t *testing.T) {
	srv, stores, broker := newTestServer(t, &testEnqueuer{})
	router := srv.setupRoutes()
	ctx := context.Background()

	album, err := stores.Albums.Create(ctx, "Stream")
	if err != nil {
		t.Fatalf("create album: %v", err)
	}
	job, err := stores.Jobs.Create(ctx, album.ID, "stream me", 1)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// Publish the full lifecycle before the client attaches; replay must
	// deliver it and the closed topic ends the response.
	zero, full := 0, 100
	broker.Publish(job.ID, render.Frame{Type: render.FrameTypeQueued, RequestID: job.ID, Data: render.Payload{Status: "queued", Progress: &zero}})
	broker.Publish(job.ID, render.Frame{Type: render.FrameTypeCompleted, RequestID: job.ID, Data: render.Payload{
		Status:   "completed",
		Progress: &full,
		Images:   []render.Image{{URL: "https://assets.easel.local/a/1.png"}},
	}})
	broker.Close(job.ID)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/generations/"+job.ID+"/events", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "event: "+render.FrameTypeQueued) {
		t.Fatalf("missing queued frame in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: "+render.FrameTypeCompleted) {
		t.Fatalf("missing completed frame in stream:\n%s", body)
	}
	if !strings.Contains(body, "https://assets.easel.local/a/1.png") {
		t.Fatalf("completed frame missing image url:\n%s", body)
	}
}

func TestJobEventsUnknownJobReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t, &testEnqueuer{})
	router := srv.setupRoutes()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/generations/nope/events", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
