// Package studio is the HTTP client for the studio backend: job submission,
// progress streams, and the newest-first asset/message pages backing the
// gallery projections.
package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inkworks/easel/internal/gallery"
	"github.com/inkworks/easel/internal/generation"
)

// Client is an HTTP client for the studio backend API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient carries no timeout; progress streams are long-lived.
	streamClient *http.Client
	logger       *slog.Logger
}

// NewClient creates a new studio API client.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
		logger:       logger,
	}
}

var _ generation.Client = (*Client)(nil)

type submitBody struct {
	Prompt      string   `json:"prompt"`
	InputImages []string `json:"input_images,omitempty"`
	Count       int      `json:"count,omitempty"`
	AlbumID     string   `json:"album_id,omitempty"`
}

// Submit sends POST /v1/generations and returns the assigned job plus album
// metadata. When no album id is supplied the backend creates one as a side
// effect and returns it here.
func (c *Client) Submit(ctx context.Context, req generation.SubmitRequest) (generation.SubmitResponse, error) {
	body, err := json.Marshal(submitBody{
		Prompt:      req.Prompt,
		InputImages: req.InputImages,
		Count:       req.Count,
		AlbumID:     req.AlbumID,
	})
	if err != nil {
		return generation.SubmitResponse{}, fmt.Errorf("marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generations", strings.NewReader(string(body)))
	if err != nil {
		return generation.SubmitResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return generation.SubmitResponse{}, fmt.Errorf("submit generation: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		c.logger.Warn("submit rejected", "status", resp.StatusCode)
		return generation.SubmitResponse{}, fmt.Errorf("submit generation: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out generation.SubmitResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return generation.SubmitResponse{}, fmt.Errorf("parse submit response: %w", err)
	}
	if out.JobID == "" {
		return generation.SubmitResponse{}, fmt.Errorf("submit generation: response missing job_id")
	}
	return out, nil
}

// OpenStream opens GET /v1/generations/{jobID}/events and returns the raw
// body for the caller to decode. The caller owns closing it.
func (c *Client) OpenStream(ctx context.Context, jobID string) (io.ReadCloser, error) {
	streamURL := fmt.Sprintf("%s/v1/generations/%s/events", c.baseURL, url.PathEscape(jobID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", jobID, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		c.logger.Warn("stream rejected", "job_id", jobID, "status", resp.StatusCode)
		return nil, fmt.Errorf("open stream %s: status %d: %s", jobID, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp.Body, nil
}

type assetPage struct {
	Assets []struct {
		ID          string    `json:"id"`
		JobID       string    `json:"job_id"`
		URL         string    `json:"url"`
		Width       int       `json:"width"`
		Height      int       `json:"height"`
		Seed        int64     `json:"seed"`
		Description string    `json:"description"`
		CreatedAt   time.Time `json:"created_at"`
	} `json:"assets"`
}

type messagePage struct {
	Messages []struct {
		ID        string    `json:"id"`
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"messages"`
}

// AssetPages returns a page fetcher over the album's assets, newest first,
// suitable as a gallery projection source.
func (c *Client) AssetPages(albumID string) gallery.PageFunc {
	return func(ctx context.Context, offset, limit int) ([]gallery.Entity, error) {
		var page assetPage
		if err := c.getPage(ctx, fmt.Sprintf("/v1/albums/%s/assets", url.PathEscape(albumID)), offset, limit, &page); err != nil {
			return nil, err
		}
		entities := make([]gallery.Entity, 0, len(page.Assets))
		for _, a := range page.Assets {
			entities = append(entities, gallery.Entity{
				ID:            a.ID,
				CorrelationID: a.JobID,
				Kind:          gallery.KindImage,
				Status:        gallery.StatusComplete,
				URL:           a.URL,
				Width:         a.Width,
				Height:        a.Height,
				Seed:          a.Seed,
				Description:   a.Description,
				CreatedAt:     a.CreatedAt,
			})
		}
		return entities, nil
	}
}

// MessagePages returns a page fetcher over the album's system messages,
// newest first, suitable as a timeline projection source.
func (c *Client) MessagePages(albumID string) gallery.PageFunc {
	return func(ctx context.Context, offset, limit int) ([]gallery.Entity, error) {
		var page messagePage
		if err := c.getPage(ctx, fmt.Sprintf("/v1/albums/%s/messages", url.PathEscape(albumID)), offset, limit, &page); err != nil {
			return nil, err
		}
		entities := make([]gallery.Entity, 0, len(page.Messages))
		for _, m := range page.Messages {
			entities = append(entities, gallery.Entity{
				ID:          m.ID,
				Kind:        gallery.KindMessage,
				Status:      gallery.StatusComplete,
				Description: m.Body,
				CreatedAt:   m.CreatedAt,
			})
		}
		return entities, nil
	}
}

func (c *Client) getPage(ctx context.Context, path string, offset, limit int, out any) error {
	pageURL := fmt.Sprintf("%s%s?offset=%d&limit=%d", c.baseURL, path, offset, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse page response: %w", err)
	}
	return nil
}
