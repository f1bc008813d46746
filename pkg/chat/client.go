// Package chat assembles the session store, the HTTP API, the live channel
// and the timeline into the client a UI drives.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/api"
	"github.com/mahaj/whisper/pkg/live"
	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/presence"
	"github.com/mahaj/whisper/pkg/session"
	"github.com/mahaj/whisper/pkg/timeline"
)

var ErrNotAuthenticated = errors.New("chat: not logged in")

type Config struct {
	APIURL string
	WSURL  string

	// Backend persists the session. Nil keeps it in memory.
	Backend session.Backend

	// Credential selects how the token reaches the gateway. Nil means the
	// access_token subprotocol.
	Credential live.Credential

	PageSize         int
	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// Client is one user's view of the room.
type Client struct {
	Store    *session.Store
	Live     *live.Manager
	API      *api.Client
	Auth     *api.AuthGateway
	Timeline *timeline.Timeline
	Loader   *timeline.Loader
	Presence *presence.Tracker

	teardown *api.Teardown
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	backend := cfg.Backend
	if backend == nil {
		backend = session.NewMemoryBackend()
	}
	store, err := session.NewStore(ctx, backend)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Store:    store,
		Timeline: timeline.New(),
		Presence: presence.NewTracker(),
		log:      log.Logger.With().Str("component", "chat").Logger(),
	}

	liveOpts := []live.Option{
		live.WithAuthRejectedHandler(func(token string) {
			c.teardown.Run(context.Background(), token)
		}),
	}
	if cfg.Credential != nil {
		liveOpts = append(liveOpts, live.WithCredential(cfg.Credential))
	}
	if cfg.HandshakeTimeout > 0 {
		liveOpts = append(liveOpts, live.WithHandshakeTimeout(cfg.HandshakeTimeout))
	}
	c.Live = live.NewManager(cfg.WSURL, store, liveOpts...)
	c.teardown = api.NewTeardown(store, viewReset{c})

	apiOpts := []api.Option{api.WithPageSize(cfg.PageSize)}
	if cfg.HTTPTimeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.HTTPTimeout))
	}
	c.API = api.NewClient(cfg.APIURL, store, c.teardown, apiOpts...)
	c.Auth = api.NewAuthGateway(c.API, store, c.teardown)
	c.Loader = timeline.NewLoader(c.API, c.Timeline, store)

	pumpCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.pump(pumpCtx)
	return c, nil
}

// pump feeds live pushes into the timeline and presence set.
func (c *Client) pump(ctx context.Context) {
	msgs := c.Live.SubscribeMessages()
	users := c.Live.SubscribePresence()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer msgs.Close()
		for {
			m, ok := msgs.Next(ctx)
			if !ok {
				return
			}
			c.Timeline.Append(m)
		}
	}()
	go func() {
		defer c.wg.Done()
		defer users.Close()
		for {
			u, ok := users.Next(ctx)
			if !ok {
				return
			}
			c.Presence.Replace(u)
		}
	}()
}

// viewReset is the Disconnector handed to the teardown, so the view is reset
// synchronously right after the session is cleared.
type viewReset struct{ c *Client }

func (v viewReset) Disconnect() { v.c.resetView() }

// resetView drops the live channel and everything loaded for the ended
// session. When a new session was stored between the clear and this call the
// reset is skipped: the view already belongs to the new session and Start
// replaces what is left.
func (c *Client) resetView() {
	if c.Store.IsAuthenticated() {
		c.log.Debug().Msg("newer session present, view kept")
		return
	}
	c.Live.Disconnect()
	c.Loader.Reset()
	c.Timeline.Reset()
	c.Presence.Replace(nil)
	c.log.Debug().Msg("session ended, view cleared")
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	_, err := c.Auth.Login(ctx, model.Credentials{Username: username, Password: password})
	return err
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	_, err := c.Auth.Register(ctx, model.Credentials{Username: username, Password: password})
	return err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Auth.Logout(ctx)
}

// Start loads the most recent page, takes a presence snapshot and opens the
// live channel. A history failure is logged and the channel is opened
// anyway; an auth rejection ends the session and is returned.
func (c *Client) Start(ctx context.Context) error {
	if !c.Store.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	if _, err := c.Loader.LoadRecent(ctx); err != nil {
		if api.IsAuthRejection(err) {
			return err
		}
		c.log.Warn().Err(err).Msg("starting without history")
	}

	if users, err := c.API.OnlineUsers(ctx); err == nil {
		c.Presence.Replace(users)
	} else if api.IsAuthRejection(err) {
		return err
	}

	if err := c.Live.Connect(ctx); err != nil {
		return fmt.Errorf("connect live channel: %w", err)
	}
	return nil
}

// OnScroll loads older messages when the viewport is near the top edge.
func (c *Client) OnScroll(ctx context.Context, scrollTop, clientHeight float64) error {
	if !timeline.NearTop(scrollTop, clientHeight) {
		return nil
	}
	_, err := c.Loader.LoadOlder(ctx)
	return err
}

// LoadOlder backfills one page from the current cursor.
func (c *Client) LoadOlder(ctx context.Context) ([]model.Message, error) {
	return c.Loader.LoadOlder(ctx)
}

// Send transmits content on the live channel. It returns false when the
// channel is not connected; nothing is queued.
func (c *Client) Send(content string) bool {
	return c.Live.SendMessage(content)
}

func (c *Client) Messages() []model.Message {
	return c.Timeline.Messages()
}

func (c *Client) Users() []string {
	return c.Presence.Users()
}

// Close stops the live channel and releases the session backend. The
// session itself stays persisted.
func (c *Client) Close() error {
	c.Live.Close()
	c.cancel()
	c.wg.Wait()
	return c.Store.Close()
}
