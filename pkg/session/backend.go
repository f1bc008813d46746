package session

import (
	"context"
	"sync"
)

// Keys of the two durable entries. They are always written and removed
// together.
const (
	KeyUser  = "currentUser"
	KeyToken = "token"
)

// Backend is the durable half of the store. Save and Clear must be atomic:
// a crash may leave the old or the new record, never a mix of both.
type Backend interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
	Close() error
}

// MemoryBackend keeps the session in process memory only.
type MemoryBackend struct {
	mu sync.Mutex
	s  Session
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s, nil
}

func (b *MemoryBackend) Save(_ context.Context, s Session) error {
	b.mu.Lock()
	b.s = s
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Clear(context.Context) error {
	b.mu.Lock()
	b.s = Session{}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
