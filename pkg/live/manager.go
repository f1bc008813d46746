// Package live manages the websocket live channel: connection lifecycle,
// token handshake, inbound frame dispatch and outbound sends.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the close frame on Disconnect.
	closeWait = time.Second

	DefaultHandshakeTimeout = 10 * time.Second
)

var (
	ErrNoToken    = errors.New("live: no token available")
	ErrRejected   = errors.New("live: handshake rejected")
	ErrSuperseded = errors.New("live: connection attempt superseded")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// SessionSource is the read side of session.Store.
type SessionSource interface {
	Get() session.Session
}

// Manager owns at most one live connection at a time. There is no automatic
// reconnect: after an unexpected close the manager stays Disconnected until
// Connect is called again.
type Manager struct {
	url            string
	sessions       SessionSource
	cred           Credential
	dialer         websocket.Dialer
	log            zerolog.Logger
	onAuthRejected func(token string)

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	gen   uint64
	wg    sync.WaitGroup

	writeMu sync.Mutex

	messages *Broadcaster[model.Message]
	presence *Broadcaster[[]string]
	states   *Broadcaster[State]
}

type Option func(*Manager)

func WithCredential(c Credential) Option {
	return func(m *Manager) { m.cred = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialer.HandshakeTimeout = d }
}

// WithAuthRejectedHandler registers fn to run when the gateway refuses the
// handshake with 401 or 403. fn receives the token that was refused.
func WithAuthRejectedHandler(fn func(token string)) Option {
	return func(m *Manager) { m.onAuthRejected = fn }
}

func NewManager(wsURL string, sessions SessionSource, opts ...Option) *Manager {
	m := &Manager{
		url:      wsURL,
		sessions: sessions,
		cred:     SubprotocolCredential{},
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log:      log.Logger.With().Str("component", "live").Logger(),
		messages: NewBroadcaster[model.Message](),
		presence: NewBroadcaster[[]string](),
		states:   NewBroadcaster[State](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SubscribeMessages returns the stream of chat messages pushed by the server.
func (m *Manager) SubscribeMessages() *Subscription[model.Message] {
	return m.messages.Subscribe()
}

// SubscribePresence returns the stream of full online-user sets.
func (m *Manager) SubscribePresence() *Subscription[[]string] {
	return m.presence.Subscribe()
}

// SubscribeState returns the stream of state transitions.
func (m *Manager) SubscribeState() *Subscription[State] {
	return m.states.Subscribe()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.states.Publish(s)
}

// Connect opens the live channel with the current session token, closing any
// existing connection first.
func (m *Manager) Connect(ctx context.Context) error {
	token := m.sessions.Get().Token
	if token == "" {
		m.log.Error().Msg("no token available")
		return ErrNoToken
	}

	m.mu.Lock()
	old := m.detachLocked()
	m.gen++
	gen := m.gen
	m.setStateLocked(Connecting)
	m.mu.Unlock()
	m.closeConn(old)

	d := m.dialer
	header := http.Header{}
	m.cred.Prepare(token, &d, header)

	conn, resp, err := d.DialContext(ctx, m.url, header)
	if err != nil {
		m.abortConnect(gen)
		if resp != nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				m.log.Warn().Int("status", resp.StatusCode).Msg("live channel refused token")
				if m.onAuthRejected != nil {
					m.onAuthRejected(token)
				}
				return fmt.Errorf("%w: %s", ErrRejected, resp.Status)
			}
		}
		m.log.Error().Err(err).Str("url", m.url).Msg("dial live channel")
		return fmt.Errorf("dial live channel: %w", err)
	}

	if err := m.cred.Established(conn, token); err != nil {
		_ = conn.Close()
		m.abortConnect(gen)
		return fmt.Errorf("authenticate live channel: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrSuperseded
	}
	m.conn = conn
	m.setStateLocked(Connected)
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.Info().Str("url", m.url).Msg("live channel connected")
	go m.readLoop(conn, gen)
	return nil
}

func (m *Manager) abortConnect(gen uint64) {
	m.mu.Lock()
	if m.gen == gen {
		m.setStateLocked(Disconnected)
	}
	m.mu.Unlock()
}

// Disconnect closes the live channel. It is safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	conn := m.detachLocked()
	m.mu.Unlock()

	if conn != nil {
		m.log.Info().Msg("live channel disconnected")
	}
	m.closeConn(conn)
}

func (m *Manager) detachLocked() *websocket.Conn {
	conn := m.conn
	m.conn = nil
	m.setStateLocked(Disconnected)
	return conn
}

func (m *Manager) closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(closeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.writeMu.Unlock()
	_ = conn.Close()
}

// SendMessage transmits content as a raw text frame. While not Connected the
// message is dropped: nothing is queued and false is returned.
func (m *Manager) SendMessage(content string) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.log.Warn().Msg("dropping outbound message: live channel not connected")
		return false
	}

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.TextMessage, []byte(content))
	m.writeMu.Unlock()
	if err != nil {
		m.log.Error().Err(err).Msg("send message")
		return false
	}
	return true
}

// readLoop handles the frames of one connection in arrival order. Once the
// connection is no longer current it exits without touching manager state.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	defer m.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			current := m.gen == gen && m.conn == conn
			if current {
				m.conn = nil
				m.setStateLocked(Disconnected)
			}
			m.mu.Unlock()

			if current {
				_ = conn.Close()
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					m.log.Warn().Err(err).Msg("live channel closed unexpectedly")
				} else {
					m.log.Info().Msg("live channel closed by server")
				}
			}
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	var f model.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		m.log.Warn().Err(err).Msg("error parsing frame")
		return
	}

	switch f.Type {
	case model.FrameChat:
		var msg model.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			m.log.Warn().Err(err).Msg("error parsing chat payload")
			return
		}
		m.messages.Publish(msg)
	case model.FrameUsers:
		var users []string
		if err := json.Unmarshal(f.Payload, &users); err != nil {
			m.log.Warn().Err(err).Msg("error parsing users payload")
			return
		}
		m.presence.Publish(users)
	case model.FrameJoin, model.FrameLeave:
		// reserved
	default:
		m.log.Debug().Str("type", string(f.Type)).Msg("ignoring unknown frame type")
	}
}

// Close disconnects, waits for the read loop and ends all subscriptions.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
	m.messages.Close()
	m.presence.Close()
	m.states.Close()
}
