package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/session"
)

// SessionStore is the part of session.Store the gateway needs.
type SessionStore interface {
	Get() session.Session
	Set(ctx context.Context, s session.Session) error
}

// AuthGateway logs users in and out. It is the only writer of a fresh
// session into the store.
type AuthGateway struct {
	client   *Client
	store    SessionStore
	teardown *Teardown
}

func NewAuthGateway(client *Client, store SessionStore, teardown *Teardown) *AuthGateway {
	return &AuthGateway{client: client, store: store, teardown: teardown}
}

func (g *AuthGateway) Login(ctx context.Context, creds model.Credentials) (session.Session, error) {
	return g.authenticate(ctx, "/api/auth/login", creds, "Login failed")
}

func (g *AuthGateway) Register(ctx context.Context, creds model.Credentials) (session.Session, error) {
	return g.authenticate(ctx, "/api/auth/register", creds, "Registration failed")
}

func (g *AuthGateway) authenticate(ctx context.Context, path string, creds model.Credentials, fallback string) (session.Session, error) {
	var resp model.AuthResponse
	if err := g.client.do(ctx, g.client.anon, http.MethodPost, path, creds, &resp); err != nil {
		msg := fallback
		var se *StatusError
		if errors.As(err, &se) && se.Message != "" {
			msg = se.Message
		}
		return session.Session{}, &AuthError{Message: msg, Err: err}
	}

	sess := session.Session{Username: resp.Username, Token: resp.Token}
	if !sess.Valid() {
		return session.Session{}, &AuthError{Message: fallback, Err: ErrIncompleteAuth}
	}
	if err := g.store.Set(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("store session: %w", err)
	}
	g.client.log.Info().Str("user", sess.Username).Msg("authenticated")
	return sess, nil
}

// Logout revokes the token server side and ends the local session. The local
// session is cleared even when the request fails; that error is still
// returned.
func (g *AuthGateway) Logout(ctx context.Context) error {
	token := g.store.Get().Token
	if token == "" {
		return nil
	}
	err := g.client.do(ctx, g.client.authed, http.MethodPost, "/api/auth/logout", nil, nil)
	if err != nil {
		g.client.log.Warn().Err(err).Msg("logout request failed")
	}
	g.teardown.Run(context.WithoutCancel(ctx), token)
	return err
}
