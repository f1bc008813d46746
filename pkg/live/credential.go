package live

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Credential attaches the session token to a live-channel connection.
// Prepare runs before the handshake, Established right after it; a strategy
// uses whichever hook its transport needs.
type Credential interface {
	Prepare(token string, d *websocket.Dialer, header http.Header)
	Established(conn *websocket.Conn, token string) error
}

// SubprotocolPrefix is the subprotocol name under which the gateway expects
// the token.
const SubprotocolPrefix = "access_token"

// SubprotocolCredential offers the token as the websocket subprotocol
// "access_token|<token>". Browsers cannot set headers on a websocket
// handshake, so this is what the gateway accepts from every client.
type SubprotocolCredential struct{}

func (SubprotocolCredential) Prepare(token string, d *websocket.Dialer, _ http.Header) {
	d.Subprotocols = []string{SubprotocolPrefix + "|" + token}
}

func (SubprotocolCredential) Established(*websocket.Conn, string) error { return nil }

// HeaderCredential sends the token as a bearer Authorization header.
type HeaderCredential struct{}

func (HeaderCredential) Prepare(token string, _ *websocket.Dialer, header http.Header) {
	header.Set("Authorization", "Bearer "+token)
}

func (HeaderCredential) Established(*websocket.Conn, string) error { return nil }

// FirstFrameCredential sends the token as the first text frame after the
// handshake.
type FirstFrameCredential struct{}

func (FirstFrameCredential) Prepare(string, *websocket.Dialer, http.Header) {}

func (FirstFrameCredential) Established(conn *websocket.Conn, token string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(token))
}
