// Package session owns the authenticated session of the client. The Store is
// the only writer of both the in-memory session and its durable copy, and
// every consumer observes it through an injected *Store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrPartialSession = errors.New("session requires both username and token")

type Session struct {
	Username string
	Token    string
}

// Valid reports whether both fields are present.
func (s Session) Valid() bool {
	return s.Username != "" && s.Token != ""
}

type Store struct {
	mu      sync.RWMutex
	cur     Session
	gen     uint64
	backend Backend
	subs    map[chan Session]struct{}
	log     zerolog.Logger
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore restores the persisted session from backend. A persisted record
// with only one of the two fields is wiped and treated as logged out.
func NewStore(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		subs:    make(map[chan Session]struct{}),
		log:     log.Logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	persisted, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	switch {
	case persisted.Valid():
		s.cur = persisted
		s.log.Debug().Str("user", persisted.Username).Msg("restored session")
	case persisted.Username != "" || persisted.Token != "":
		s.log.Warn().Msg("discarding partially persisted session")
		if err := backend.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear partial session: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) IsAuthenticated() bool {
	return s.Get().Valid()
}

// Generation changes on every Set and every effective clear. Callers capture
// it before a request and compare afterwards to detect a session change.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Set persists sess and then publishes it. On a persistence error the
// in-memory session is left untouched.
func (s *Store) Set(ctx context.Context, sess Session) error {
	if !sess.Valid() {
		return ErrPartialSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Save(ctx, sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.cur = sess
	s.gen++
	s.notifyLocked()
	return nil
}

// Clear removes the session. It reports whether a session was present, so
// a second call is a no-op that returns false.
func (s *Store) Clear(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cur.Valid() {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

// CompareAndClear clears the session only while its token is still token.
// A rejection observed for an older token therefore never clears a newer
// session, and concurrent callers clear at most once.
func (s *Store) CompareAndClear(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cur.Valid() || s.cur.Token != token {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

// clearLocked drops the in-memory session even when the durable clear
// fails; the error is returned so the caller can report it.
func (s *Store) clearLocked(ctx context.Context) error {
	err := s.backend.Clear(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("clear persisted session")
		err = fmt.Errorf("clear persisted session: %w", err)
	}
	s.cur = Session{}
	s.gen++
	s.notifyLocked()
	return err
}

// Subscribe returns a channel that always holds the latest session after a
// change. Slow readers skip intermediate values but never see a partial one.
func (s *Store) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notifyLocked() {
	for ch := range s.subs {
		for {
			select {
			case ch <- s.cur:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close releases the durable backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
