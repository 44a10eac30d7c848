package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentpress/internal/message"
)

const messageColumns = "id, thread_id, role, kind, content, structured, is_llm_message, metadata, created_at"

// latestSummarySeq is the seq of the thread's most recent summary, 0 if none.
const latestSummarySeq = "COALESCE((SELECT MAX(seq) FROM messages WHERE thread_id = ? AND kind = '" + message.KindSummary + "'), 0)"

// AppendMessage stores msg at the end of the thread and returns it with its
// id, thread and creation time set. A message without an id gets a new one.
func (db *DB) AppendMessage(ctx context.Context, threadID string, msg message.Message) (*message.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Kind == "" {
		msg.Kind = message.KindText
	}
	msg.ThreadID = threadID
	msg.CreatedAt = time.Now().UTC()

	metadata := "{}"
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(b)
	}

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM threads WHERE id = ?", threadID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrThreadNotFound
			}
			return err
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			msg.ID, threadID, string(msg.Role), msg.Kind, msg.Content.String(),
			msg.Content.IsStructured(), msg.FromModel, metadata, msg.CreatedAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE threads SET updated_at = ? WHERE id = ?", msg.CreatedAt, threadID)
		return err
	})
	if errors.Is(err, ErrThreadNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: append message: %w", ErrPersistence, err)
	}
	return &msg, nil
}

// FetchThreadMessages returns the LLM-relevant messages of a thread starting
// at its latest summary, in insertion order. Status rows without a role are
// left out.
func (db *DB) FetchThreadMessages(ctx context.Context, threadID string) ([]message.Message, error) {
	return db.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? AND role != '' AND seq >= "+latestSummarySeq+" ORDER BY seq",
		threadID, threadID,
	)
}

// FetchMessagesSinceSummary returns the LLM-relevant messages after the
// latest summary, excluding the summary itself.
func (db *DB) FetchMessagesSinceSummary(ctx context.Context, threadID string) ([]message.Message, error) {
	return db.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? AND role != '' AND seq > "+latestSummarySeq+" ORDER BY seq",
		threadID, threadID,
	)
}

// ListMessages returns every message of a thread, including status rows and
// history hidden behind summaries.
func (db *DB) ListMessages(ctx context.Context, threadID string) ([]message.Message, error) {
	return db.queryMessages(ctx, "SELECT "+messageColumns+" FROM messages WHERE thread_id = ? ORDER BY seq", threadID)
}

// GetMessage returns a message by id. It is the lookup behind the pointer
// left in compressed messages.
func (db *DB) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	msgs, err := db.queryMessages(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	return &msgs[0], nil
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]message.Message, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		m          message.Message
		role       string
		content    string
		structured bool
		metadata   string
	)
	if err := row.Scan(&m.ID, &m.ThreadID, &role, &m.Kind, &content, &structured, &m.FromModel, &metadata, &m.CreatedAt); err != nil {
		return message.Message{}, err
	}
	m.Role = message.Role(role)

	m.Content = message.Text(content)
	if structured {
		var data map[string]any
		if err := json.Unmarshal([]byte(content), &data); err != nil {
			return message.Message{}, fmt.Errorf("decode content of %s: %w", m.ID, err)
		}
		m.Content = message.Structured(data)
	}

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return message.Message{}, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}
	return m, nil
}
