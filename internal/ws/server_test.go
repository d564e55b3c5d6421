package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pong-realtime/internal/auth"
	"pong-realtime/internal/chat"
	"pong-realtime/internal/config"
	"pong-realtime/internal/conn"
	"pong-realtime/internal/game"
	"pong-realtime/internal/protocol"
)

type tokenAuth struct{}

func (tokenAuth) Validate(_ context.Context, token string) (auth.Identity, error) {
	switch {
	case token == "":
		return auth.Identity{}, auth.ErrMissingToken
	case token == "down":
		return auth.Identity{}, errors.New("dial tcp: connection refused")
	case strings.HasPrefix(token, "user-"):
		return auth.Identity{UserID: strings.TrimPrefix(token, "user-"), Username: token}, nil
	default:
		return auth.Identity{}, auth.ErrUnauthorized
	}
}

type call struct {
	op     string
	gameID string
	userID string
	seq    int64
}

type fakeSessions struct {
	mu      sync.Mutex
	calls   []call
	joinErr error
	input   error
}

func (f *fakeSessions) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeSessions) Join(_ context.Context, gameID, userID string) error {
	f.record(call{op: "join", gameID: gameID, userID: userID})
	return f.joinErr
}

func (f *fakeSessions) Leave(gameID, userID string) error {
	f.record(call{op: "leave", gameID: gameID, userID: userID})
	return nil
}

func (f *fakeSessions) ApplyInput(gameID, userID string, upd protocol.GameUpdate) error {
	f.record(call{op: "input", gameID: gameID, userID: userID, seq: upd.Sequence})
	return f.input
}

func (f *fakeSessions) Pause(gameID, userID string) error {
	f.record(call{op: "pause", gameID: gameID, userID: userID})
	return game.ErrPauseUsed
}

func (f *fakeSessions) Resume(gameID, userID string) error {
	f.record(call{op: "resume", gameID: gameID, userID: userID})
	return nil
}

func (f *fakeSessions) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type harness struct {
	srv      *httptest.Server
	conns    *conn.Manager
	sessions *fakeSessions
	closed   chan string
}

func newHarness(t *testing.T, maxConns int) *harness {
	t.Helper()
	h := &harness{sessions: &fakeSessions{}, closed: make(chan string, 8)}
	h.conns = conn.NewManager(maxConns, config.HeartbeatConfig{WriteTimeout: time.Second})
	chatSvc := chat.NewService(h.conns, nil, nil)
	s := NewServer(Config{MaxPayloadBytes: 4096, AuthCookieName: "access_token"}, tokenAuth{}, h.conns, h.sessions, h.sessions, chatSvc)
	h.conns.SetHooks(s.Hooks(conn.Hooks{
		OnClose: func(c *conn.Connection, _ string) { h.closed <- c.UserID() },
	}))
	h.srv = httptest.NewServer(http.HandlerFunc(s.HandleWS))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + token
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func send(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitCalls(t *testing.T, s *fakeSessions, n int) []call {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := s.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d calls, got %d", n, len(s.snapshot()))
	return nil
}

func TestUpgradeRequiresIdentity(t *testing.T) {
	h := newHarness(t, 10)
	base := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil {
		t.Fatalf("expected handshake failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=down", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 when auth is unreachable, got %v", err)
	}
	if h.conns.Count() != 0 {
		t.Fatalf("expected no registered connections")
	}
}

func TestConnectedGreetingAndRouting(t *testing.T) {
	h := newHarness(t, 10)
	c := h.dial(t, "user-u1")

	f := readFrame(t, c)
	if f.Event != protocol.EventConnected || !strings.Contains(string(f.Payload), `"userId":"u1"`) {
		t.Fatalf("expected connected greeting, got %s %s", f.Event, f.Payload)
	}

	send(t, c, `{"event":"game_start","payload":{"gameId":"g1"}}`)
	send(t, c, `{"event":"game_update","payload":{"gameId":"g1","direction":"up","sequence":4}}`)
	send(t, c, `{"event":"game_resume","payload":{"gameId":"g1"}}`)
	send(t, c, `{"event":"game_leave","payload":{"gameId":"g1"}}`)

	calls := waitCalls(t, h.sessions, 4)
	want := []string{"join", "input", "resume", "leave"}
	for i, op := range want {
		if calls[i].op != op || calls[i].gameID != "g1" || calls[i].userID != "u1" {
			t.Fatalf("call %d: expected %s on g1 by u1, got %+v", i, op, calls[i])
		}
	}
	if calls[1].seq != 4 {
		t.Fatalf("expected sequence 4, got %d", calls[1].seq)
	}
}

func TestUserFacingErrorBecomesWarning(t *testing.T) {
	h := newHarness(t, 10)
	c := h.dial(t, "user-u1")
	readFrame(t, c)

	send(t, c, `{"event":"game_pause","payload":{"gameId":"g1"}}`)
	f := readFrame(t, c)
	if f.Event != protocol.EventNotification {
		t.Fatalf("expected notification, got %s", f.Event)
	}
	var n protocol.Notification
	_ = json.Unmarshal(f.Payload, &n)
	if n.Type != protocol.NoticeWarning || n.Message != game.NoticeMessage(game.ErrPauseUsed) {
		t.Fatalf("unexpected notification %+v", n)
	}

	send(t, c, `{"event":"chat_message","payload":{"receiverId":"u1","message":"me"}}`)
	f = readFrame(t, c)
	if f.Event != protocol.EventNotification {
		t.Fatalf("expected self-chat warning, got %s", f.Event)
	}
}

func TestInternalErrorBecomesErrorEvent(t *testing.T) {
	h := newHarness(t, 10)
	h.sessions.joinErr = errors.New("fetch match g1: backend GET failed with status 500")
	c := h.dial(t, "user-u1")
	readFrame(t, c)

	send(t, c, `{"event":"game_start","payload":{"gameId":"g1"}}`)
	f := readFrame(t, c)
	if f.Event != protocol.EventError {
		t.Fatalf("expected error event, got %s", f.Event)
	}
}

func TestStaleInputIsSilent(t *testing.T) {
	h := newHarness(t, 10)
	h.sessions.input = game.ErrStaleInput
	c := h.dial(t, "user-u1")
	readFrame(t, c)

	send(t, c, `{"event":"game_update","payload":{"gameId":"g1","direction":"down","sequence":1}}`)
	send(t, c, `{"event":"game_leave","payload":{"gameId":"g1"}}`)
	waitCalls(t, h.sessions, 2)

	_ = c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, raw, err := c.ReadMessage(); err == nil {
		t.Fatalf("expected no reply to stale input, got %s", raw)
	}
}

func TestInvalidPayloadClosesConnection(t *testing.T) {
	h := newHarness(t, 10)
	c := h.dial(t, "user-u1")
	readFrame(t, c)

	send(t, c, `{"event":"game_update","payload":{"gameId":"g1","direction":"sideways","sequence":1}}`)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, protocol.CloseInvalidPayload) {
		t.Fatalf("expected close %d, got %v", protocol.CloseInvalidPayload, err)
	}
	select {
	case uid := <-h.closed:
		if uid != "u1" {
			t.Fatalf("unexpected closed user %s", uid)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected disconnect hook")
	}
	if len(h.sessions.snapshot()) != 0 {
		t.Fatalf("invalid payload must not reach handlers")
	}
}

func TestMaxConnectionsCloseCode(t *testing.T) {
	h := newHarness(t, 1)
	first := h.dial(t, "user-u1")
	readFrame(t, first)

	second := h.dial(t, "user-u2")
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, protocol.CloseMaxConnections) {
		t.Fatalf("expected close %d, got %v", protocol.CloseMaxConnections, err)
	}
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{cfg: Config{AllowedOrigins: []string{"https://pong.example.com", "localhost:5173"}}}
	cases := map[string]bool{
		"":                           true,
		"https://pong.example.com":   true,
		"http://localhost:5173":      true,
		"https://evil.example.com":   false,
		"https://pong.example.com.x": false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := s.checkOrigin(r); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}

	open := &Server{}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anywhere.test")
	if !open.checkOrigin(r) {
		t.Fatalf("expected any origin allowed without an allow-list")
	}
}
