package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newStreamServer runs a websocket endpoint that hands each connection
// to serve and counts how many connections were accepted.
func newStreamServer(t *testing.T, serve func(*websocket.Conn)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeliversDecodedMessages(t *testing.T) {
	srv, _ := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"grep_started"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"grep_completed","duration":10,"searchedFiles":3}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	messages := make(chan protocol.Message, 16)
	m := NewManager(wsURL(srv), Options{
		ReconnectDelay: 20 * time.Millisecond,
		OnMessage:      func(msg protocol.Message) { messages <- msg },
		Logger:         logging.Nop(),
	})
	m.Connect()
	defer m.Close()

	select {
	case msg := <-messages:
		assert.IsType(t, protocol.GrepStarted{}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for grep_started")
	}
	select {
	case msg := <-messages:
		completed, ok := msg.(protocol.GrepCompleted)
		require.True(t, ok)
		assert.Equal(t, 3, completed.SearchedFiles)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for grep_completed")
	}
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	srv, _ := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pty_output","data":"x"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"grep_started"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	messages := make(chan protocol.Message, 16)
	m := NewManager(wsURL(srv), Options{
		ReconnectDelay: 20 * time.Millisecond,
		OnMessage:      func(msg protocol.Message) { messages <- msg },
		Logger:         logging.Nop(),
	})
	m.Connect()
	defer m.Close()

	// Only the valid frame surfaces; garbage and unknown tags are
	// logged and dropped without killing the read loop.
	select {
	case msg := <-messages:
		assert.IsType(t, protocol.GrepStarted{}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the valid frame")
	}
	select {
	case msg := <-messages:
		t.Fatalf("unexpected extra message %T", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectsAfterServerClose(t *testing.T) {
	var (
		srv   *httptest.Server
		conns *atomic.Int32
	)
	srv, conns = newStreamServer(t, func(conn *websocket.Conn) {
		// Drop the first connection immediately; keep later ones.
		if conns.Load() == 1 {
			_ = conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	states := make(chan State, 16)
	m := NewManager(wsURL(srv), Options{
		ReconnectDelay: 20 * time.Millisecond,
		OnMessage:      func(protocol.Message) {},
		OnState:        func(s State) { states <- s },
		Logger:         logging.Nop(),
	})
	m.Connect()
	defer m.Close()

	assert.Eventually(t, func() bool {
		return conns.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond, "manager should redial after the server drops the connection")

	seen := map[State]bool{}
	for {
		select {
		case s := <-states:
			seen[s] = true
			if seen[StateReconnecting] && m.State() == StateOpen {
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("never observed reconnect cycle, states seen: %v", seen)
		}
	}
}

func TestCloseStopsRedialing(t *testing.T) {
	srv, conns := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.Close()
	})

	m := NewManager(wsURL(srv), Options{
		ReconnectDelay: 20 * time.Millisecond,
		OnMessage:      func(protocol.Message) {},
		Logger:         logging.Nop(),
	})
	m.Connect()

	assert.Eventually(t, func() bool { return conns.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	m.Close()
	assert.Equal(t, StateClosed, m.State())

	after := conns.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, conns.Load(), "no dials may happen after Close")
}

func TestSendIsNoOpWhenNotOpen(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/nowhere", Options{
		ReconnectDelay: time.Hour,
		OnMessage:      func(protocol.Message) {},
		Logger:         logging.Nop(),
	})
	// Never connected: Send must not panic or block.
	m.Send(protocol.NewGrepSearch("x", protocol.SearchOptions{Include: "all"}))

	m.Connect()
	m.Send(protocol.NewGrepSearch("y", protocol.SearchOptions{Include: "all"}))
	m.Close()
	m.Send(protocol.NewGrepSearch("z", protocol.SearchOptions{Include: "all"}))
}
