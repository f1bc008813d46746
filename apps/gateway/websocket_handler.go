package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/auth"
	"github.com/mahaj/whisper/pkg/telemetry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the token frame when the handshake carried none.
	authWait = 5 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	subprotocolPrefix = "access_token|"
)

var errNoToken = errors.New("no token in handshake")

type sessionChecker interface {
	Check(ctx context.Context, claims *auth.Claims) error
}

// authenticator accepts tokens that are correctly signed and still the
// active token of their user.
type authenticator struct {
	signer   *auth.Signer
	sessions sessionChecker
}

func (a authenticator) validate(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := a.signer.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Check(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// tokenFromRequest finds the token in the access_token subprotocol, the
// Authorization header or the token query parameter, in that order. proto
// is the subprotocol to echo back, if any.
func tokenFromRequest(r *http.Request) (token, proto string, err error) {
	for _, p := range websocket.Subprotocols(r) {
		if t, ok := strings.CutPrefix(p, subprotocolPrefix); ok && t != "" {
			return t, p, nil
		}
	}
	if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && t != "" {
		return t, "", nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, "", nil
	}
	return "", "", errNoToken
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	username string
}

// readPump pumps raw text messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user", c.username).Msg("read error")
			}
			return
		}
		select {
		case c.hub.inbound <- inbound{client: c, content: string(message)}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps frames from the hub to the websocket connection, one
// websocket message per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wsHandler struct {
	hub      *Hub
	auth     authenticator
	upgrader websocket.Upgrader
}

func newWSHandler(hub *Hub, a authenticator, origins []string) *wsHandler {
	return &wsHandler{
		hub:  hub,
		auth: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origins),
		},
	}
}

func checkOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP authenticates the handshake and registers the connection. A
// handshake without any token is upgraded and must send its token as the
// first frame.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, proto, err := tokenFromRequest(r)
	var claims *auth.Claims
	if err == nil {
		claims, err = h.auth.validate(r.Context(), token)
		if err != nil {
			telemetry.Inc(telemetry.HandshakesRejected)
			log.Warn().Err(err).Msg("unauthorized: invalid token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var header http.Header
	if proto != "" {
		header = http.Header{"Sec-Websocket-Protocol": {proto}}
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	if claims == nil {
		claims, err = h.firstFrameAuth(r.Context(), conn)
		if err != nil {
			telemetry.Inc(telemetry.HandshakesRejected)
			log.Warn().Err(err).Msg("unauthorized: token frame")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}
	}

	client := &Client{hub: h.hub, conn: conn, send: make(chan []byte, 256), username: claims.Username}
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *wsHandler) firstFrameAuth(ctx context.Context, conn *websocket.Conn) (*auth.Claims, error) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(authWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})
	return h.auth.validate(ctx, strings.TrimSpace(string(data)))
}
