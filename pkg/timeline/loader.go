package timeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/model"
)

// ErrSessionChanged is returned when a page arrives after the session it
// was requested under was replaced or torn down. The page is discarded.
var ErrSessionChanged = errors.New("session changed while loading history")

// Fetcher is the history side of the HTTP API.
type Fetcher interface {
	Recent(ctx context.Context) ([]model.Message, error)
	Before(ctx context.Context, id int64) ([]model.Message, error)
}

// Generationer reports the session generation; see session.Store.
type Generationer interface {
	Generation() uint64
}

// Loader fills a Timeline from the history API: the most recent page first,
// then older pages on demand.
type Loader struct {
	fetch    Fetcher
	tl       *Timeline
	sess     Generationer
	inflight atomic.Bool
	log      zerolog.Logger

	mu     sync.Mutex
	cursor int64
}

func NewLoader(fetch Fetcher, tl *Timeline, sess Generationer) *Loader {
	return &Loader{
		fetch: fetch,
		tl:    tl,
		sess:  sess,
		log:   log.Logger.With().Str("component", "history").Logger(),
	}
}

// SetLogger replaces the loader's logger.
func (l *Loader) SetLogger(lg zerolog.Logger) { l.log = lg }

// Cursor is the id of the oldest loaded page message, 0 without an anchor.
func (l *Loader) Cursor() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Loading reports whether a backfill request is in flight.
func (l *Loader) Loading() bool {
	return l.inflight.Load()
}

// Reset drops the backfill anchor.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.cursor = 0
	l.mu.Unlock()
}

// LoadRecent fetches the newest page and makes it the timeline content.
func (l *Loader) LoadRecent(ctx context.Context) ([]model.Message, error) {
	gen := l.sess.Generation()
	page, err := l.fetch.Recent(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to load messages")
		return nil, err
	}
	if l.sess.Generation() != gen {
		l.log.Debug().Int("count", len(page)).Msg("discarding recent page from previous session")
		return nil, ErrSessionChanged
	}

	l.tl.Replace(page)
	cursor := oldestID(page)
	l.mu.Lock()
	l.cursor = cursor
	l.mu.Unlock()
	l.log.Debug().Int("count", len(page)).Int64("cursor", cursor).Msg("loaded recent messages")
	return page, nil
}

// LoadPrevious fetches the page strictly older than cursor and prepends it.
// It does nothing while another backfill is in flight or without a cursor.
func (l *Loader) LoadPrevious(ctx context.Context, cursor int64) ([]model.Message, error) {
	if cursor <= 0 {
		return nil, nil
	}
	if !l.inflight.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer l.inflight.Store(false)

	gen := l.sess.Generation()
	page, err := l.fetch.Before(ctx, cursor)
	if err != nil {
		l.log.Error().Err(err).Int64("before", cursor).Msg("failed to load previous messages")
		return nil, err
	}
	if l.sess.Generation() != gen {
		l.log.Debug().Int("count", len(page)).Msg("discarding backfill page from previous session")
		return nil, ErrSessionChanged
	}

	older := page[:0:0]
	for _, m := range page {
		if m.ID < cursor {
			older = append(older, m)
		}
	}
	added := l.tl.Prepend(older)

	if oldest := oldestID(older); oldest > 0 {
		l.mu.Lock()
		if l.cursor == 0 || oldest < l.cursor {
			l.cursor = oldest
		}
		l.mu.Unlock()
	}
	l.log.Debug().Int("count", len(older)).Int("added", added).Int64("cursor", l.Cursor()).Msg("loaded previous messages")
	return older, nil
}

// LoadOlder backfills from the current cursor.
func (l *Loader) LoadOlder(ctx context.Context) ([]model.Message, error) {
	return l.LoadPrevious(ctx, l.Cursor())
}

func oldestID(page []model.Message) int64 {
	var oldest int64
	for _, m := range page {
		if m.ID > 0 && (oldest == 0 || m.ID < oldest) {
			oldest = m.ID
		}
	}
	return oldest
}
