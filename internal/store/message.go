package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message represents a system message shown in an album's timeline.
type Message struct {
	ID        string    `json:"id"`
	AlbumID   string    `json:"album_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageStore provides operations on the messages table.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a new MessageStore.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Create inserts a new message.
func (s *MessageStore) Create(ctx context.Context, albumID, body string) (*Message, error) {
	now := time.Now().UTC()
	msg := &Message{
		ID:        uuid.New().String(),
		AlbumID:   albumID,
		Body:      body,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, album_id, body, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.AlbumID, msg.Body, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

// ListPage retrieves a page of messages for an album, newest first.
func (s *MessageStore) ListPage(ctx context.Context, albumID string, offset, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, album_id, body, created_at
		 FROM messages WHERE album_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, albumID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.AlbumID, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			m.CreatedAt = t
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
