package conn

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"pong-realtime/internal/config"
	"pong-realtime/internal/protocol"
)

type control struct {
	kind int
	data []byte
}

type fakeSocket struct {
	mu       sync.Mutex
	messages [][]byte
	controls []control
	closed   bool
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeSocket) WriteControl(kind int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, control{kind: kind, data: data})
	return nil
}

func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) closeCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.controls {
		if c.kind == websocket.CloseMessage && len(c.data) >= 2 {
			return int(binary.BigEndian.Uint16(c.data[:2]))
		}
	}
	return 0
}

func (f *fakeSocket) pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.controls {
		if c.kind == websocket.PingMessage {
			n++
		}
	}
	return n
}

func (f *fakeSocket) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testHeartbeat() config.HeartbeatConfig {
	return config.HeartbeatConfig{
		PingInterval:   10 * time.Second,
		PongTimeout:    5 * time.Second,
		MaxMissedPings: 3,
		WriteTimeout:   time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type hookLog struct {
	mu     sync.Mutex
	opens  []string
	closes []string
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnOpen: func(c *Connection, carried string) {
			h.mu.Lock()
			h.opens = append(h.opens, c.UserID()+":"+carried)
			h.mu.Unlock()
		},
		OnClose: func(c *Connection, gameID string) {
			h.mu.Lock()
			h.closes = append(h.closes, c.UserID()+":"+gameID)
			h.mu.Unlock()
		},
	}
}

func (h *hookLog) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closes)
}

func TestRegisterRejectsOverCapacity(t *testing.T) {
	m := NewManager(1, testHeartbeat(), WithClock(clockwork.NewFakeClock()))
	if _, err := m.Register(Identity{UserID: "u1"}, &fakeSocket{}); err != nil {
		t.Fatalf("register u1: %v", err)
	}
	sock := &fakeSocket{}
	if _, err := m.Register(Identity{UserID: "u2"}, sock); !errors.Is(err, ErrMaxConnections) {
		t.Fatalf("expected max connections, got %v", err)
	}
	if code := sock.closeCode(); code != protocol.CloseMaxConnections {
		t.Fatalf("expected close code %d, got %d", protocol.CloseMaxConnections, code)
	}
	if m.Count() != 1 {
		t.Fatalf("expected one live connection, got %d", m.Count())
	}
}

func TestReplacingConnectionEvictsWithoutDisconnect(t *testing.T) {
	hl := &hookLog{}
	m := NewManager(1, testHeartbeat(), WithClock(clockwork.NewFakeClock()), WithHooks(hl.hooks()))

	oldSock := &fakeSocket{}
	old, err := m.Register(Identity{UserID: "u1"}, oldSock)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	m.Bind("u1", "g1")

	newSock := &fakeSocket{}
	c, err := m.Register(Identity{UserID: "u1"}, newSock)
	if err != nil {
		t.Fatalf("re-register at capacity should evict, got %v", err)
	}
	if code := oldSock.closeCode(); code != protocol.CloseReplaced {
		t.Fatalf("expected replaced close code, got %d", code)
	}
	if c.GameID() != "g1" {
		t.Fatalf("expected binding carried to new connection, got %q", c.GameID())
	}

	m.Remove(old, protocol.CloseNormal, "read loop ended")
	if hl.closeCount() != 0 {
		t.Fatalf("eviction must not run disconnect hooks, got %v", hl.closes)
	}
	if got, _ := m.Get("u1"); got != c {
		t.Fatalf("expected new connection to remain current")
	}
	if len(hl.opens) != 2 || hl.opens[1] != "u1:g1" {
		t.Fatalf("expected carried game on second open, got %v", hl.opens)
	}

	m.Remove(c, protocol.CloseNormal, "bye")
	if hl.closeCount() != 1 || hl.closes[0] != "u1:g1" {
		t.Fatalf("expected disconnect hook with game, got %v", hl.closes)
	}
}

func TestSendToWritesEnvelope(t *testing.T) {
	m := NewManager(10, testHeartbeat(), WithClock(clockwork.NewFakeClock()))
	sock := &fakeSocket{}
	if _, err := m.Register(Identity{UserID: "u1"}, sock); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !m.SendTo("u1", protocol.EventConnected, protocol.Connected{UserID: "u1"}) {
		t.Fatalf("expected send to succeed")
	}
	if m.SendTo("nobody", protocol.EventConnected, protocol.Connected{}) {
		t.Fatalf("expected send to unknown user to fail")
	}
	waitFor(t, "message written", func() bool { return sock.messageCount() == 1 })

	sock.mu.Lock()
	raw := sock.messages[0]
	sock.mu.Unlock()
	var env struct {
		Event   string            `json:"event"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != "connected" || env.Payload["userId"] != "u1" {
		t.Fatalf("unexpected envelope %s", raw)
	}
}

func TestUnbindOnlyMatchingGame(t *testing.T) {
	m := NewManager(10, testHeartbeat(), WithClock(clockwork.NewFakeClock()))
	c, _ := m.Register(Identity{UserID: "u1"}, &fakeSocket{})
	m.Bind("u1", "g2")
	m.Unbind("u1", "g1")
	if c.GameID() != "g2" {
		t.Fatalf("unbind of a different game must not clear binding")
	}
	m.Unbind("u1", "g2")
	if c.GameID() != "" {
		t.Fatalf("expected binding cleared")
	}
}

func TestHeartbeatDeclaresLostAfterThreeMissedPongs(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hl := &hookLog{}
	m := NewManager(10, testHeartbeat(), WithClock(clock), WithHooks(hl.hooks()))
	sock := &fakeSocket{}
	if _, err := m.Register(Identity{UserID: "u1"}, sock); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("heartbeat ticker not started: %v", err)
	}

	clock.Advance(10 * time.Second)
	waitFor(t, "first ping", func() bool { return sock.pings() == 1 })
	for i := 2; i <= 3; i++ {
		clock.Advance(10 * time.Second)
		want := i
		waitFor(t, "ping", func() bool { return sock.pings() == want })
	}
	if m.Count() != 1 {
		t.Fatalf("connection closed too early")
	}
	clock.Advance(10 * time.Second)
	waitFor(t, "connection lost", func() bool { return hl.closeCount() == 1 })
	if code := sock.closeCode(); code != protocol.CloseConnectionLost {
		t.Fatalf("expected connection lost code, got %d", code)
	}
	if m.Count() != 0 {
		t.Fatalf("expected connection removed")
	}
}

func TestHeartbeatTickResetsOnPong(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Connection{
		Identity: Identity{UserID: "u1"},
		socket:   &fakeSocket{},
		done:     make(chan struct{}),
		hb:       testHeartbeat(),
		clock:    clockwork.NewFakeClockAt(start),
		quality:  QualityUnknown,
	}
	now := start
	if c.heartbeatTick(now) {
		t.Fatalf("first tick cannot be lost")
	}
	now = now.Add(10 * time.Second)
	c.heartbeatTick(now)
	now = now.Add(10 * time.Second)
	c.heartbeatTick(now)
	if hb := c.Heartbeat(); hb.MissedPings != 2 {
		t.Fatalf("expected two missed pings, got %d", hb.MissedPings)
	}

	c.HandlePong(now.Add(250 * time.Millisecond))
	hb := c.Heartbeat()
	if hb.MissedPings != 0 || hb.RTT != 250*time.Millisecond || hb.Quality != QualityFair {
		t.Fatalf("unexpected heartbeat after pong: %+v", hb)
	}
	now = now.Add(10 * time.Second)
	if c.heartbeatTick(now) {
		t.Fatalf("tick after pong must not be lost")
	}
	if hb := c.Heartbeat(); hb.MissedPings != 0 {
		t.Fatalf("answered ping counted as missed: %d", hb.MissedPings)
	}
}

func TestQualityBuckets(t *testing.T) {
	cases := map[time.Duration]Quality{
		20 * time.Millisecond:  QualityGood,
		150 * time.Millisecond: QualityFair,
		time.Second:            QualityPoor,
	}
	for rtt, want := range cases {
		if got := qualityFor(rtt); got != want {
			t.Fatalf("rtt %v: expected %s, got %s", rtt, want, got)
		}
	}
}

func TestShutdownSequence(t *testing.T) {
	hl := &hookLog{}
	m := NewManager(10, testHeartbeat(), WithClock(clockwork.NewFakeClock()), WithHooks(hl.hooks()))
	s1, s2 := &fakeSocket{}, &fakeSocket{}
	_, _ = m.Register(Identity{UserID: "u1"}, s1)
	_, _ = m.Register(Identity{UserID: "u2"}, s2)

	m.StopAccepting()
	late := &fakeSocket{}
	if _, err := m.Register(Identity{UserID: "u3"}, late); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected shutting down, got %v", err)
	}
	if late.closeCode() != protocol.CloseGoingAway {
		t.Fatalf("expected going away for late socket")
	}
	if n := m.NotifyAll(protocol.NoticeWarning, "server restarting"); n != 2 {
		t.Fatalf("expected two notifications, got %d", n)
	}
	waitFor(t, "notifications written", func() bool { return s1.messageCount() == 1 && s2.messageCount() == 1 })
	m.Drain(time.Second)
	if n := m.CloseAll(protocol.CloseGoingAway, "shutdown"); n != 2 {
		t.Fatalf("expected two sockets closed, got %d", n)
	}
	if s1.closeCode() != protocol.CloseGoingAway || s2.closeCode() != protocol.CloseGoingAway {
		t.Fatalf("expected going away close codes")
	}
	if hl.closeCount() != 0 {
		t.Fatalf("close all must not run disconnect hooks")
	}
}

type stuckSocket struct {
	fakeSocket
	release chan struct{}
}

func (s *stuckSocket) WriteMessage(kind int, data []byte) error {
	<-s.release
	return s.fakeSocket.WriteMessage(kind, data)
}

func TestDrainGivesUpAtDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(10, config.HeartbeatConfig{}, WithClock(clock))
	sock := &stuckSocket{release: make(chan struct{})}
	defer close(sock.release)
	if _, err := m.Register(Identity{UserID: "u1"}, sock); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 3; i++ {
		m.SendTo("u1", protocol.EventNotification, protocol.NewNotification(protocol.NoticeInfo, "queued", clock.Now()))
	}

	done := make(chan struct{})
	go func() {
		m.Drain(time.Second)
		close(done)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatalf("drain never armed its timers: %v", err)
	}
	select {
	case <-done:
		t.Fatalf("drain returned with messages still queued")
	default:
	}
	clock.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("drain did not stop at its deadline")
	}
}
