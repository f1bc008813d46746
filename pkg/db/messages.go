package db

import (
	"context"
	"fmt"

	"github.com/mahaj/whisper/pkg/model"
)

// Room is the partition every message lives in. There is a single global
// room.
const Room = "global"

// MessageStore reads and writes chat messages.
type MessageStore struct {
	s *Session
}

func NewMessageStore(s *Session) *MessageStore {
	return &MessageStore{s: s}
}

func (m *MessageStore) Save(ctx context.Context, msg model.Message) error {
	q := `INSERT INTO messages (room, id, username, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if err := m.s.Query(q, Room, msg.ID, msg.Username, msg.Content, msg.CreatedAt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("save message %d: %w", msg.ID, err)
	}
	return nil
}

// Recent returns up to limit of the newest messages, newest first.
func (m *MessageStore) Recent(ctx context.Context, limit int) ([]model.Message, error) {
	q := m.s.Query(`SELECT id, username, content, created_at FROM messages WHERE room = ? LIMIT ?`, Room, limit)
	return scan(q.WithContext(ctx).Iter())
}

// Before returns up to limit messages with an id strictly below id, newest
// first.
func (m *MessageStore) Before(ctx context.Context, id int64, limit int) ([]model.Message, error) {
	q := m.s.Query(`SELECT id, username, content, created_at FROM messages WHERE room = ? AND id < ? LIMIT ?`, Room, id, limit)
	return scan(q.WithContext(ctx).Iter())
}

type scanner interface {
	Scan(dest ...any) bool
	Close() error
}

func scan(iter scanner) ([]model.Message, error) {
	messages := []model.Message{}
	var msg model.Message
	for iter.Scan(&msg.ID, &msg.Username, &msg.Content, &msg.CreatedAt) {
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return messages, nil
}
