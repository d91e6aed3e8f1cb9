package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/redstone-dev/redstone/internal/events"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func fastOptions() Options {
	return Options{
		Token:           "secret",
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/agents/ws/test"
}

func next(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		if !ok {
			t.Fatalf("events closed: %v", c.Err())
		}
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSendAndReceive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "connected", "client_id": "test"})

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.WriteJSON(map[string]string{"type": "pong"})
		conn.WriteJSON(map[string]string{"type": "mystery"})
		data, _ := events.Marshal(events.ChunkEvent{Turn: "t1", Content: "echo: " + msg.Content})
		conn.WriteMessage(websocket.TextMessage, data)
		data, _ = events.Marshal(events.CompleteEvent{Turn: "t1", Status: "complete", FilesModified: []string{}})
		conn.WriteMessage(websocket.TextMessage, data)
		conn.ReadMessage()
	}))
	defer ts.Close()

	c, err := Dial(context.Background(), wsURL(ts), fastOptions())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Send(Message{Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	chunk, ok := next(t, c).(events.ChunkEvent)
	if !ok || chunk.Content != "echo: hi" {
		t.Fatalf("unexpected first event %#v", chunk)
	}
	if e := next(t, c); e.EventType() != events.EventTypeComplete {
		t.Fatalf("expected complete event, got %s", e.EventType())
	}
}

func TestDialRejectedIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := Dial(context.Background(), wsURL(ts), fastOptions())
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("error should name the status: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		data, _ := events.Marshal(events.ChunkEvent{Turn: "t1", Content: strings.Repeat("x", int(n))})
		conn.WriteMessage(websocket.TextMessage, data)
		if n == 1 {
			// Drop without a close frame.
			conn.UnderlyingConn().Close()
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer ts.Close()

	reconnected := make(chan int, 1)
	opts := fastOptions()
	opts.OnReconnect = func(attempts int) { reconnected <- attempts }

	c, err := Dial(context.Background(), "http"+strings.TrimPrefix(wsURL(ts), "ws"), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if e := next(t, c).(events.ChunkEvent); e.Content != "x" {
		t.Fatalf("first connection sent %q", e.Content)
	}
	if e := next(t, c).(events.ChunkEvent); e.Content != "xx" {
		t.Fatalf("second connection sent %q", e.Content)
	}
	select {
	case n := <-reconnected:
		if n < 1 {
			t.Errorf("attempts = %d", n)
		}
	case <-time.After(time.Second):
		t.Error("OnReconnect not called")
	}
}

func TestCloseEndsEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	c, err := Dial(context.Background(), wsURL(ts), fastOptions())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatal("unexpected event after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events not closed")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err after Close = %v", err)
	}
	if err := c.Send(Message{Content: "late"}); err != ErrClosed {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}
