package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Thread is a conversation whose messages are stored in order.
type Thread struct {
	ID           string          `json:"id"`
	Title        string          `json:"title,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Metadata     json.RawMessage `json:"metadata"`
	MessageCount int             `json:"message_count"`
}

// CreateThread creates an empty thread with a new id.
func (db *DB) CreateThread(ctx context.Context, title string, metadata json.RawMessage) (*Thread, error) {
	return db.CreateThreadWithID(ctx, uuid.New().String(), title, metadata)
}

// CreateThreadWithID creates an empty thread with the given id.
func (db *DB) CreateThreadWithID(ctx context.Context, id, title string, metadata json.RawMessage) (*Thread, error) {
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	now := time.Now().UTC()

	_, err := db.ExecContext(ctx,
		"INSERT INTO threads (id, title, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?)",
		id, title, now, now, string(metadata),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert thread: %w", ErrPersistence, err)
	}

	return &Thread{ID: id, Title: title, CreatedAt: now, UpdatedAt: now, Metadata: metadata}, nil
}

const threadColumns = `t.id, t.title, t.created_at, t.updated_at, t.metadata,
	(SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id)`

// GetThread returns a thread by id.
func (db *DB) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := db.QueryRowContext(ctx, "SELECT "+threadColumns+" FROM threads t WHERE t.id = ?", id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListThreads returns threads, most recently updated first. A limit of zero
// or less returns all of them.
func (db *DB) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	query := "SELECT " + threadColumns + " FROM threads t ORDER BY t.updated_at DESC, t.id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// DeleteThread removes a thread and its messages.
func (db *DB) DeleteThread(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: delete thread: %w", ErrPersistence, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrThreadNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var t Thread
	var metadata string
	if err := row.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt, &metadata, &t.MessageCount); err != nil {
		return nil, err
	}
	t.Metadata = json.RawMessage(metadata)
	return &t, nil
}
