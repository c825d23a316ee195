package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkworks/easel/internal/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxBatchCount    = 10
)

// GenerateRequest is the JSON body for POST /v1/generations.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	InputImages []string `json:"input_images,omitempty"`
	Count       int      `json:"count,omitempty"`
	AlbumID     string   `json:"album_id,omitempty"`
}

// GenerateResponse is returned on an accepted submission.
type GenerateResponse struct {
	JobID         string `json:"job_id"`
	AlbumID       string `json:"album_id"`
	AlbumName     string `json:"album_name"`
	SystemMessage string `json:"system_message,omitempty"`
}

// JobResponse is returned by GET /v1/generations/{job_id}.
type JobResponse struct {
	ID          string     `json:"id"`
	AlbumID     string     `json:"album_id"`
	Prompt      string     `json:"prompt"`
	Count       int        `json:"count"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AssetPageResponse is returned by GET /v1/albums/{album_id}/assets.
type AssetPageResponse struct {
	Assets []*store.Asset `json:"assets"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// MessagePageResponse is returned by GET /v1/albums/{album_id}/messages.
type MessagePageResponse struct {
	Messages []*store.Message `json:"messages"`
	Offset   int              `json:"offset"`
	Limit    int              `json:"limit"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleGenerate handles POST /v1/generations. When album_id is absent a new
// album is created as a side effect and returned in the response.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > maxBatchCount {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be at most %d", maxBatchCount))
		return
	}

	var album *store.Album
	var err error
	if req.AlbumID != "" {
		album, err = s.stores.Albums.GetByID(r.Context(), req.AlbumID)
		if err != nil {
			if err == sql.ErrNoRows {
				s.writeError(w, http.StatusNotFound, "album not found")
				return
			}
			s.logger.Error("failed to load album", "album_id", req.AlbumID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to load album")
			return
		}
	} else {
		album, err = s.stores.Albums.Create(r.Context(), albumNameFromPrompt(req.Prompt))
		if err != nil {
			s.logger.Error("failed to create album", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create album")
			return
		}
	}

	job, err := s.stores.Jobs.Create(r.Context(), album.ID, req.Prompt, req.Count)
	if err != nil {
		s.logger.Error("failed to create job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	noun := "image"
	if job.Count > 1 {
		noun = "images"
	}
	sysMsg := fmt.Sprintf("Generating %d %s: %s", job.Count, noun, job.Prompt)
	if _, err := s.stores.Messages.Create(r.Context(), album.ID, sysMsg); err != nil {
		s.logger.Warn("failed to persist system message", "job_id", job.ID, "error", err)
	}

	if err := s.enqueuer.Enqueue(job.ID); err != nil {
		s.logger.Error("failed to enqueue job", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "generation queue is full")
		return
	}

	s.logger.Info("generation accepted",
		"job_id", job.ID,
		"album_id", album.ID,
		"count", job.Count,
	)

	respondJSON(w, http.StatusAccepted, GenerateResponse{
		JobID:         job.ID,
		AlbumID:       album.ID,
		AlbumName:     album.Name,
		SystemMessage: sysMsg,
	})
}

// handleGetJob handles GET /v1/generations/{job_id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := s.stores.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, JobResponse{
		ID:          job.ID,
		AlbumID:     job.AlbumID,
		Prompt:      job.Prompt,
		Count:       job.Count,
		Status:      string(job.Status),
		Error:       job.Error,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		CreatedAt:   job.CreatedAt,
	})
}

// handleListAssets handles GET /v1/albums/{album_id}/assets.
// Pages are newest first.
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	albumID := chi.URLParam(r, "album_id")
	offset, limit := pageParams(r)

	assets, err := s.stores.Assets.ListPage(r.Context(), albumID, offset, limit)
	if err != nil {
		s.logger.Error("failed to list assets", "album_id", albumID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}
	if assets == nil {
		assets = []*store.Asset{}
	}

	respondJSON(w, http.StatusOK, AssetPageResponse{
		Assets: assets,
		Offset: offset,
		Limit:  limit,
	})
}

// handleListMessages handles GET /v1/albums/{album_id}/messages.
// Pages are newest first.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	albumID := chi.URLParam(r, "album_id")
	offset, limit := pageParams(r)

	messages, err := s.stores.Messages.ListPage(r.Context(), albumID, offset, limit)
	if err != nil {
		s.logger.Error("failed to list messages", "album_id", albumID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	respondJSON(w, http.StatusOK, MessagePageResponse{
		Messages: messages,
		Offset:   offset,
		Limit:    limit,
	})
}

// handleJobEvents handles GET /v1/generations/{job_id}/events. It streams the
// job's frames as server-sent events until the job reaches a terminal state
// or the client disconnects. Frames published before the client attached are
// replayed, so a late subscriber still observes the terminal frame.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	if _, err := s.stores.Jobs.GetByID(r.Context(), jobID); err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames, cancel := s.broker.Subscribe(jobID)
	defer cancel()

	heartbeat := s.config.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// Comment line per the SSE spec, keeps intermediaries from
			// timing out the connection.
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-frames:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				s.logger.Error("failed to marshal frame", "job_id", jobID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// albumNameFromPrompt derives a display name for a side-effect album.
func albumNameFromPrompt(prompt string) string {
	name := prompt
	if len(name) > 40 {
		name = strings.TrimSpace(name[:40]) + "…"
	}
	return name
}

func pageParams(r *http.Request) (offset, limit int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset, limit
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
