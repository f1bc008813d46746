package api

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionClearer is the clearing side of session.Store.
type SessionClearer interface {
	CompareAndClear(ctx context.Context, token string) (bool, error)
}

// Disconnector closes the live channel; live.Manager implements it.
type Disconnector interface {
	Disconnect()
}

// Teardown ends the session bound to a token: the stored session is cleared
// and the live channel closed. Running it again for the same token, or for a
// token that is no longer current, does nothing.
type Teardown struct {
	store SessionClearer
	conn  Disconnector
	log   zerolog.Logger
}

func NewTeardown(store SessionClearer, conn Disconnector) *Teardown {
	return &Teardown{
		store: store,
		conn:  conn,
		log:   log.Logger.With().Str("component", "teardown").Logger(),
	}
}

// Run reports whether this call performed the teardown.
func (t *Teardown) Run(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	cleared, err := t.store.CompareAndClear(ctx, token)
	if err != nil {
		// the in-memory session is gone even when the durable clear failed
		t.log.Error().Err(err).Msg("session teardown")
	}
	if !cleared {
		return false
	}
	if t.conn != nil {
		t.conn.Disconnect()
	}
	t.log.Info().Msg("session ended")
	return true
}
