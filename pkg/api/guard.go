package api

import (
	"context"
	"net/http"

	"github.com/mahaj/whisper/pkg/session"
)

// TokenSource is the read side of session.Store.
type TokenSource interface {
	Get() session.Session
}

// Guard is the transport of every authenticated API call. It attaches the
// current token as a bearer credential and, when the server answers 401 or
// 403, tears the session down before handing the response back.
type Guard struct {
	base     http.RoundTripper
	sessions TokenSource
	teardown *Teardown
}

func NewGuard(base http.RoundTripper, sessions TokenSource, teardown *Teardown) *Guard {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Guard{base: base, sessions: sessions, teardown: teardown}
}

func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	token := g.sessions.Get().Token
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	rejected := resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
	if rejected && token != "" && g.teardown != nil {
		g.teardown.Run(context.WithoutCancel(req.Context()), token)
	}
	return resp, nil
}
