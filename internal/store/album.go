package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Album represents a collection of generated assets and system messages.
type Album struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// AlbumStore provides operations on the albums table.
type AlbumStore struct {
	db *sql.DB
}

// NewAlbumStore creates a new AlbumStore.
func NewAlbumStore(db *sql.DB) *AlbumStore {
	return &AlbumStore{db: db}
}

// Create inserts a new album.
func (s *AlbumStore) Create(ctx context.Context, name string) (*Album, error) {
	now := time.Now().UTC()
	album := &Album{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO albums (id, name, created_at) VALUES (?, ?, ?)`,
		album.ID, album.Name, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert album: %w", err)
	}

	return album, nil
}

// GetByID retrieves an album by its ID.
func (s *AlbumStore) GetByID(ctx context.Context, id string) (*Album, error) {
	var a Album
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM albums WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan album: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}
