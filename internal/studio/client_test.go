package studio

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inkworks/easel/internal/gallery"
	"github.com/inkworks/easel/internal/generation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmitParsesResponse(t *testing.T) {
	var gotAuth string
	var gotBody submitBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/generations" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode submit body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"job_id":         "job-42",
			"album_id":       "album-7",
			"album_name":     "Harbors",
			"system_message": "Generating 2 images: a quiet harbor",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", discardLogger())
	resp, err := c.Submit(context.Background(), generation.SubmitRequest{
		Prompt: "a quiet harbor",
		Count:  2,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotBody.Prompt != "a quiet harbor" || gotBody.Count != 2 {
		t.Fatalf("submit body = %+v", gotBody)
	}
	if resp.JobID != "job-42" || resp.AlbumID != "album-7" || resp.AlbumName != "Harbors" {
		t.Fatalf("submit response = %+v", resp)
	}
}

func TestSubmitSurfacesBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"generation queue is full"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", discardLogger())
	_, err := c.Submit(context.Background(), generation.SubmitRequest{Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("error should carry the status code: %v", err)
	}
}

func TestOpenStreamReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generations/job-9/events" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: generation.queued\ndata: {}\n\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", discardLogger())
	body, err := c.OpenStream(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(raw), "generation.queued") {
		t.Fatalf("unexpected stream body: %q", raw)
	}
}

func TestOpenStreamRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", discardLogger())
	if _, err := c.OpenStream(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for 404 stream")
	}
}

func TestAssetPagesMapsEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/albums/album-1/assets" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("offset") != "10" || q.Get("limit") != "5" {
			t.Fatalf("unexpected page params: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"assets":[
			{"id":"asset-2","job_id":"job-1","url":"https://cdn/x2.png","width":1024,"height":1024,"created_at":"2026-08-29T10:00:02Z"},
			{"id":"asset-1","job_id":"job-1","url":"https://cdn/x1.png","width":1024,"height":1024,"created_at":"2026-08-29T10:00:01Z"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", discardLogger())
	page, err := c.AssetPages("album-1")(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	first := page[0]
	if first.ID != "asset-2" || first.Kind != gallery.KindImage || first.Status != gallery.StatusComplete {
		t.Fatalf("entity mapped wrong: %+v", first)
	}
	if first.CorrelationID != "job-1" || first.URL != "https://cdn/x2.png" {
		t.Fatalf("entity mapped wrong: %+v", first)
	}
}

func TestMessagePagesMapsEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[
			{"id":"msg-1","body":"Generating 1 image: dunes","created_at":"2026-08-29T10:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", discardLogger())
	page, err := c.MessagePages("album-1")(context.Background(), 0, 20)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("page size = %d, want 1", len(page))
	}
	if page[0].Kind != gallery.KindMessage || page[0].Description != "Generating 1 image: dunes" {
		t.Fatalf("entity mapped wrong: %+v", page[0])
	}
}
