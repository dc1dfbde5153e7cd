// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type levelEvent struct {
	Level float64 `json:"level"`
}

func (levelEvent) MessageType() string { return "level" }

type failing struct{ err error }

func (f failing) Send(any) error { return f.err }
func (f failing) Close() error   { return f.err }

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"message", Message{Type: "state"}, "state"},
		{"message pointer", &Message{Type: "artifact"}, "artifact"},
		{"typed", levelEvent{Level: 0.5}, "level"},
		{"plain", 42, "data"},
	}
	for _, tt := range tests {
		if got := Wrap(tt.in).Type; got != tt.want {
			t.Errorf("%s: type = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	m := Multi{failing{errA}, NewLoggingTransport(), failing{errB}}

	err := m.Send("x")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Send error = %v, want both failures", err)
	}
	if err := (Multi{NewLoggingTransport()}).Send("x"); err != nil {
		t.Errorf("Send error = %v, want nil", err)
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	if err := lt.Send(levelEvent{Level: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := lt.Send(func() {}); err != nil {
		t.Errorf("unmarshalable values should still be accepted, got %v", err)
	}
	lt.Close()
	if err := lt.Send(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()
	defer wst.Close()

	a, b := dial(t, srv), dial(t, srv)
	waitFor(t, "two clients", func() bool { return wst.Clients() == 2 })

	if err := wst.Send(levelEvent{Level: 0.25}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for i, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type    string     `json:"type"`
			Payload levelEvent `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if msg.Type != "level" || msg.Payload.Level != 0.25 {
			t.Errorf("client %d got %+v", i, msg)
		}
	}

	a.Close()
	waitFor(t, "disconnect", func() bool { return wst.Clients() == 1 })
}

func TestWebSocketExtraHandler(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	defer wst.Close()
	wst.Handle("/recording", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/webm")
		io.WriteString(w, "chunk")
	}))

	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/recording")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "chunk" || resp.Header.Get("Content-Type") != "audio/webm" {
		t.Errorf("got %q (%s)", body, resp.Header.Get("Content-Type"))
	}
}

func TestWebSocketStartAndClose(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	if err := wst.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wst.Start(); err == nil {
		t.Error("second Start should fail")
	}
	if strings.HasSuffix(wst.Addr(), ":0") {
		t.Errorf("Addr = %s, want the bound port", wst.Addr())
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr()+DefaultPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "client", func() bool { return wst.Clients() == 1 })

	if err := wst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if wst.Clients() != 0 {
		t.Error("clients should be disconnected on Close")
	}
	if err := wst.Send("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	if err := wst.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("client should see the connection close")
	}
}

func TestWebSocketSendDoesNotBlock(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	defer wst.Close()

	done := make(chan struct{})
	go func() {
		for i := range 4 * broadcastBuffer {
			wst.Send(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked")
	}
}

func TestMessageJSON(t *testing.T) {
	encoded, err := json.Marshal(Wrap(levelEvent{Level: 1}))
	if err != nil {
		t.Fatal(err)
	}
	if string(encoded) != `{"type":"level","payload":{"level":1}}` {
		t.Errorf("encoded = %s", encoded)
	}
}
