// Package redisstore keeps threads and their messages in Redis. It offers the
// same operations as the SQLite store and returns the same types and errors.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"agentpress/internal/message"
	"agentpress/internal/storage"
	"agentpress/pkg/logger"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "agentpress:"

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a Redis-backed thread store.
//
// Key layout, relative to the prefix:
//
//	threads                 sorted set of thread ids scored by last update
//	thread:<id>             hash with title, metadata and timestamps
//	thread:<id>:messages    list of message ids in insertion order
//	thread:<id>:summary     id of the latest summary message
//	msg:<id>                message JSON
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	return New(client, opts.KeyPrefix), nil
}

// New wraps an existing client. An empty prefix selects DefaultKeyPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) threadsKey() string { return s.prefix + "threads" }
func (s *Store) threadKey(id string) string { return s.prefix + "thread:" + id }
func (s *Store) messagesKey(id string) string { return s.prefix + "thread:" + id + ":messages" }
func (s *Store) summaryKey(id string) string { return s.prefix + "thread:" + id + ":summary" }
func (s *Store) messageKey(msgID string) string { return s.prefix + "msg:" + msgID }

// CreateThread creates an empty thread with a new id.
func (s *Store) CreateThread(ctx context.Context, title string, metadata json.RawMessage) (*storage.Thread, error) {
	return s.CreateThreadWithID(ctx, uuid.New().String(), title, metadata)
}

// CreateThreadWithID creates an empty thread with the given id.
func (s *Store) CreateThreadWithID(ctx context.Context, id, title string, metadata json.RawMessage) (*storage.Thread, error) {
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	now := time.Now().UTC()

	created, err := s.client.HSetNX(ctx, s.threadKey(id), "created_at", formatTime(now)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: create thread: %w", storage.ErrPersistence, err)
	}
	if !created {
		return nil, fmt.Errorf("%w: thread %s already exists", storage.ErrPersistence, id)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.threadKey(id),
			"title", title,
			"metadata", string(metadata),
			"updated_at", formatTime(now),
		)
		pipe.ZAdd(ctx, s.threadsKey(), redis.Z{Score: score(now), Member: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create thread: %w", storage.ErrPersistence, err)
	}

	return &storage.Thread{ID: id, Title: title, CreatedAt: now, UpdatedAt: now, Metadata: metadata}, nil
}

// GetThread returns a thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*storage.Thread, error) {
	fields, err := s.client.HGetAll(ctx, s.threadKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, storage.ErrThreadNotFound
	}

	count, err := s.client.LLen(ctx, s.messagesKey(id)).Result()
	if err != nil {
		return nil, err
	}

	t := &storage.Thread{
		ID:           id,
		Title:        fields["title"],
		Metadata:     json.RawMessage(fields["metadata"]),
		MessageCount: int(count),
	}
	if len(t.Metadata) == 0 {
		t.Metadata = json.RawMessage("{}")
	}
	if t.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("thread %s created_at: %w", id, err)
	}
	if t.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("thread %s updated_at: %w", id, err)
	}
	return t, nil
}

// ListThreads returns threads, most recently updated first. A limit of zero
// or less returns all of them.
func (s *Store) ListThreads(ctx context.Context, limit int) ([]*storage.Thread, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.threadsKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	threads := make([]*storage.Thread, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetThread(ctx, id)
		if errors.Is(err, storage.ErrThreadNotFound) {
			logger.Warn().Str("thread_id", id).Msg("Thread indexed but missing, skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// DeleteThread removes a thread and its messages.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.threadKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrThreadNotFound
	}

	ids, err := s.client.LRange(ctx, s.messagesKey(id), 0, -1).Result()
	if err != nil {
		return err
	}

	keys := []string{s.threadKey(id), s.messagesKey(id), s.summaryKey(id)}
	for _, msgID := range ids {
		keys = append(keys, s.messageKey(msgID))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.threadsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete thread: %w", storage.ErrPersistence, err)
	}
	return nil
}

// AppendMessage stores msg at the end of the thread and returns it with its
// id, thread and creation time set. A summary-kind message becomes the
// thread's summary boundary.
func (s *Store) AppendMessage(ctx context.Context, threadID string, msg message.Message) (*message.Message, error) {
	exists, err := s.client.Exists(ctx, s.threadKey(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: append message: %w", storage.ErrPersistence, err)
	}
	if exists == 0 {
		return nil, storage.ErrThreadNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Kind == "" {
		msg.Kind = message.KindText
	}
	msg.ThreadID = threadID
	msg.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	stored, err := s.client.SetNX(ctx, s.messageKey(msg.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: append message: %w", storage.ErrPersistence, err)
	}
	if !stored {
		return nil, fmt.Errorf("%w: message %s already exists", storage.ErrPersistence, msg.ID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.messagesKey(threadID), msg.ID)
		if msg.Kind == message.KindSummary {
			pipe.Set(ctx, s.summaryKey(threadID), msg.ID, 0)
		}
		pipe.HSet(ctx, s.threadKey(threadID), "updated_at", formatTime(msg.CreatedAt))
		pipe.ZAdd(ctx, s.threadsKey(), redis.Z{Score: score(msg.CreatedAt), Member: threadID})
		return nil
	})
	if err != nil {
		s.client.Del(ctx, s.messageKey(msg.ID))
		return nil, fmt.Errorf("%w: append message: %w", storage.ErrPersistence, err)
	}
	return &msg, nil
}

// FetchThreadMessages returns the LLM-relevant messages of a thread starting
// at its latest summary, in insertion order.
func (s *Store) FetchThreadMessages(ctx context.Context, threadID string) ([]message.Message, error) {
	return s.fetchFromSummary(ctx, threadID, true)
}

// FetchMessagesSinceSummary returns the LLM-relevant messages after the
// latest summary, excluding the summary itself.
func (s *Store) FetchMessagesSinceSummary(ctx context.Context, threadID string) ([]message.Message, error) {
	return s.fetchFromSummary(ctx, threadID, false)
}

// ListMessages returns every message of a thread, including status rows and
// history hidden behind summaries.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]message.Message, error) {
	ids, err := s.client.LRange(ctx, s.messagesKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMessages(ctx, ids, false)
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	data, err := s.client.Get(ctx, s.messageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	var m message.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &m, nil
}

func (s *Store) fetchFromSummary(ctx context.Context, threadID string, inclusive bool) ([]message.Message, error) {
	ids, err := s.client.LRange(ctx, s.messagesKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	summaryID, err := s.client.Get(ctx, s.summaryKey(threadID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if summaryID != "" {
		if i := slices.Index(ids, summaryID); i >= 0 {
			if !inclusive {
				i++
			}
			ids = ids[i:]
		}
	}
	return s.loadMessages(ctx, ids, true)
}

func (s *Store) loadMessages(ctx context.Context, ids []string, llmOnly bool) ([]message.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.messageKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]message.Message, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			logger.Warn().Str("message_id", ids[i]).Msg("Message listed but missing, skipping")
			continue
		}
		var m message.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", ids[i], err)
		}
		if llmOnly && m.Role == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}
