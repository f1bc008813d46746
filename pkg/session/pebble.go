package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleBackend persists the session in a local Pebble database.
type PebbleBackend struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &PebbleBackend{db: db}, nil
}

func (b *PebbleBackend) get(key string) (string, error) {
	data, closer, err := b.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	return string(data), nil
}

func (b *PebbleBackend) Load(context.Context) (Session, error) {
	user, err := b.get(KeyUser)
	if err != nil {
		return Session{}, err
	}
	token, err := b.get(KeyToken)
	if err != nil {
		return Session{}, err
	}
	return Session{Username: user, Token: token}, nil
}

func (b *PebbleBackend) Save(_ context.Context, s Session) error {
	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte(KeyUser), []byte(s.Username), nil); err != nil {
		return err
	}
	if err := batch.Set([]byte(KeyToken), []byte(s.Token), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (b *PebbleBackend) Clear(context.Context) error {
	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete([]byte(KeyUser), nil); err != nil {
		return err
	}
	if err := batch.Delete([]byte(KeyToken), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (b *PebbleBackend) Close() error {
	return b.db.Close()
}
