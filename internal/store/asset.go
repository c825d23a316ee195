package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Asset represents a generated image stored in an album.
type Asset struct {
	ID          string    `json:"id"`
	AlbumID     string    `json:"album_id"`
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Seed        int64     `json:"seed"`
	ContentType string    `json:"content_type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// AssetStore provides operations on the assets table.
type AssetStore struct {
	db *sql.DB
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(db *sql.DB) *AssetStore {
	return &AssetStore{db: db}
}

// Create inserts a new asset.
func (s *AssetStore) Create(ctx context.Context, a *Asset) (*Asset, error) {
	now := time.Now().UTC()
	out := *a
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (id, album_id, job_id, url, width, height, seed, content_type, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.AlbumID, out.JobID, out.URL, out.Width, out.Height,
		out.Seed, out.ContentType, out.Description, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}

	return &out, nil
}

// ListPage retrieves a page of assets for an album, newest first.
func (s *AssetStore) ListPage(ctx context.Context, albumID string, offset, limit int) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, album_id, job_id, url, width, height, seed, content_type, description, created_at
		 FROM assets WHERE album_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, albumID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		var createdAt string
		err := rows.Scan(&a.ID, &a.AlbumID, &a.JobID, &a.URL, &a.Width, &a.Height,
			&a.Seed, &a.ContentType, &a.Description, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			a.CreatedAt = t
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}
