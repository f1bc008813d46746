package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/whisper/pkg/auth"
	"github.com/mahaj/whisper/pkg/model"
)

type loopback struct {
	hub *Hub
}

func (l *loopback) Publish(_ context.Context, data []byte) error {
	l.hub.Deliver(data)
	return nil
}

type fakePresence struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakePresence) Join(_ context.Context, u string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[u]++
	return f.counts[u] == 1, nil
}

func (f *fakePresence) Leave(_ context.Context, u string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[u]--
	if f.counts[u] <= 0 {
		delete(f.counts, u)
		return true, nil
	}
	return false, nil
}

func (f *fakePresence) Online(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]string, 0, len(f.counts))
	for u := range f.counts {
		users = append(users, u)
	}
	slices.Sort(users)
	return users, nil
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Generate() int64 { return 1000 + s.n.Add(1) }

type allowAll struct{}

func (allowAll) Check(context.Context, *auth.Claims) error { return nil }

type testEnv struct {
	srv    *httptest.Server
	signer *auth.Signer
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	signer, err := auth.NewSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	bus := &loopback{}
	hub := NewHub(bus, &fakePresence{counts: map[string]int{}}, &seqIDs{})
	bus.hub = hub
	hub.now = func() time.Time { return time.Unix(1700000000, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ws := newWSHandler(hub, authenticator{signer: signer, sessions: allowAll{}}, []string{"*"})
	srv := httptest.NewServer(newRouter(ws))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.done
	})
	return &testEnv{srv: srv, signer: signer, hub: hub}
}

func (e *testEnv) url() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws"
}

func (e *testEnv) token(t *testing.T, user string) string {
	t.Helper()
	tok, _, err := e.signer.GenerateToken(user)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	proto := subprotocolPrefix + e.token(t, user)
	d := websocket.Dialer{Subprotocols: []string{proto}}
	conn, resp, err := d.Dial(e.url(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if got := resp.Header.Get("Sec-Websocket-Protocol"); got != proto {
		t.Fatalf("echoed protocol = %q", got)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) model.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f model.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %q: %v", data, err)
	}
	return f
}

func expectUsers(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != model.FrameUsers {
		t.Fatalf("frame type = %q, want users", f.Type)
	}
	var users []string
	_ = json.Unmarshal(f.Payload, &users)
	if !slices.Equal(users, want) {
		t.Fatalf("users = %v, want %v", users, want)
	}
}

func expectMember(t *testing.T, conn *websocket.Conn, typ model.FrameType, user string) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != typ {
		t.Fatalf("frame type = %q, want %q", f.Type, typ)
	}
	var m model.Member
	_ = json.Unmarshal(f.Payload, &m)
	if m.Username != user {
		t.Fatalf("member = %q, want %q", m.Username, user)
	}
}

func TestChatRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	alice := e.dial(t, "alice")
	expectMember(t, alice, model.FrameJoin, "alice")
	expectUsers(t, alice, "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("hi <b>there</b> & you")); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, alice)
	if f.Type != model.FrameChat {
		t.Fatalf("frame type = %q", f.Type)
	}
	var msg model.Message
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	want := model.Message{ID: 1001, Username: "alice", Content: "hi there & you", CreatedAt: 1700000000}
	if msg != want {
		t.Fatalf("message = %+v, want %+v", msg, want)
	}
}

func TestPresenceFrames(t *testing.T) {
	e := newTestEnv(t)
	alice := e.dial(t, "alice")
	expectMember(t, alice, model.FrameJoin, "alice")
	expectUsers(t, alice, "alice")

	bob := e.dial(t, "bob")
	expectMember(t, alice, model.FrameJoin, "bob")
	expectUsers(t, alice, "alice", "bob")

	bob.Close()
	expectMember(t, alice, model.FrameLeave, "bob")
	expectUsers(t, alice, "alice")
}

func TestEmptyMessagesAreDropped(t *testing.T) {
	e := newTestEnv(t)
	alice := e.dial(t, "alice")
	expectMember(t, alice, model.FrameJoin, "alice")
	expectUsers(t, alice, "alice")

	_ = alice.WriteMessage(websocket.TextMessage, []byte("<script></script>   "))
	_ = alice.WriteMessage(websocket.TextMessage, []byte("second"))

	f := readFrame(t, alice)
	var msg model.Message
	_ = json.Unmarshal(f.Payload, &msg)
	if f.Type != model.FrameChat || msg.Content != "second" {
		t.Fatalf("frame = %s %+v", f.Type, msg)
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	e := newTestEnv(t)
	d := websocket.Dialer{Subprotocols: []string{subprotocolPrefix + "not-a-jwt"}}
	_, resp, err := d.Dial(e.url(), nil)
	if err == nil {
		t.Fatal("dial succeeded with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestFirstFrameAuthentication(t *testing.T) {
	e := newTestEnv(t)
	conn, _, err := websocket.DefaultDialer.Dial(e.url(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(e.token(t, "carol"))); err != nil {
		t.Fatal(err)
	}
	expectMember(t, conn, model.FrameJoin, "carol")
	expectUsers(t, conn, "carol")
}

func TestFirstFrameRejectsBadToken(t *testing.T) {
	e := newTestEnv(t)
	conn, _, err := websocket.DefaultDialer.Dial(e.url(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte("nope"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want policy violation close", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name      string
		header    http.Header
		query     string
		wantToken string
		wantProto string
		wantErr   bool
	}{
		{"subprotocol", http.Header{"Sec-Websocket-Protocol": {"chat, access_token|abc"}}, "", "abc", "access_token|abc", false},
		{"bearer", http.Header{"Authorization": {"Bearer xyz"}}, "", "xyz", "", false},
		{"query", nil, "?token=q1", "q1", "", false},
		{"empty subprotocol token", http.Header{"Sec-Websocket-Protocol": {"access_token|"}}, "", "", "", true},
		{"none", nil, "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/ws"+tt.query, nil)
			for k, v := range tt.header {
				r.Header[k] = v
			}
			token, proto, err := tokenFromRequest(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if token != tt.wantToken || proto != tt.wantProto {
				t.Fatalf("got (%q, %q)", token, proto)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	h := NewHub(nil, nil, nil)
	tests := []struct{ in, want string }{
		{"plain text", "plain text"},
		{"<b>bold</b>", "bold"},
		{"fish & chips", "fish & chips"},
		{`<img src=x onerror="alert(1)">`, ""},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := h.sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// stalledBus blocks every write until released.
type stalledBus struct {
	release chan struct{}
	writes  atomic.Int32
}

func (b *stalledBus) Publish(ctx context.Context, _ []byte) error {
	b.writes.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowBusDoesNotStallHub(t *testing.T) {
	bus := &stalledBus{release: make(chan struct{})}
	hub := NewHub(bus, &fakePresence{counts: map[string]int{}}, &seqIDs{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		close(bus.release)
		cancel()
		<-hub.done
	})

	alice := &Client{hub: hub, send: make(chan []byte, 8), username: "alice"}
	bob := &Client{hub: hub, send: make(chan []byte, 8), username: "bob"}
	for _, c := range []*Client{alice, bob} {
		select {
		case hub.register <- c:
		case <-time.After(time.Second):
			t.Fatalf("register of %s blocked behind the bus", c.username)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for bus.writes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bus.writes.Load() == 0 {
		t.Fatal("no frame reached the bus")
	}

	f, _ := model.NewFrame(model.FrameChat, model.Message{ID: 7, Username: "carol", Content: "hey"})
	data, _ := json.Marshal(f)
	hub.Deliver(data)
	for _, c := range []*Client{alice, bob} {
		select {
		case got := <-c.send:
			if string(got) != string(data) {
				t.Fatalf("%s got %s", c.username, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("fan-out to %s blocked behind the bus", c.username)
		}
	}
}

func TestWriterKeepsRoomOnOnePartition(t *testing.T) {
	w := newWriter([]string{"localhost:19092"}, "chat-messages")
	defer w.Close()
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("balancer = %T, want *kafka.Hash", w.Balancer)
	}
	if w.BatchTimeout <= 0 || w.BatchTimeout > 50*time.Millisecond {
		t.Fatalf("batch timeout = %v", w.BatchTimeout)
	}

	users := frameMessage([]byte(`{"type":"users","payload":["a"]}`))
	chat := frameMessage([]byte(`{"type":"chat","payload":{}}`))
	if string(users.Key) != roomKey || string(chat.Key) != roomKey {
		t.Fatalf("keys = %q, %q", users.Key, chat.Key)
	}
	partitions := []int{0, 1, 2, 3, 4, 5}
	if a, b := w.Balancer.Balance(users, partitions...), w.Balancer.Balance(chat, partitions...); a != b {
		t.Fatalf("frames landed on partitions %d and %d", a, b)
	}
}
