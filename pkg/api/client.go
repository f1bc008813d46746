// Package api talks to the whisper HTTP API: authentication, message history
// and presence. Authenticated calls go through a Guard so that a rejected
// token ends the session everywhere.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	limit   int
	timeout time.Duration
	base    http.RoundTripper

	// authed carries the bearer token through the Guard, anon is used for
	// login and registration.
	authed *http.Client
	anon   *http.Client
	log    zerolog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTransport sets the transport beneath the guard.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithPageSize sets the limit query parameter of history requests. Zero
// leaves the server default.
func WithPageSize(n int) Option {
	return func(c *Client) { c.limit = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL string, sessions TokenSource, teardown *Teardown, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		base:    http.DefaultTransport,
		log:     log.Logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.authed = &http.Client{Timeout: c.timeout, Transport: NewGuard(c.base, sessions, teardown)}
	c.anon = &http.Client{Timeout: c.timeout, Transport: c.base}
	return c
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// answers become *StatusError.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := newStatusError(resp)
		c.log.Debug().Int("status", se.StatusCode).Str("path", se.Path).Msg("api request failed")
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
