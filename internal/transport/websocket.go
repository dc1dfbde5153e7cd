// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	applog "mediarec/internal/log"
)

const (
	// DefaultPath is where clients connect.
	DefaultPath = "/ws"

	broadcastBuffer = 256
	writeTimeout    = 2 * time.Second
)

// WebSocketTransport broadcasts every sent value as a JSON Message to all
// connected WebSocket clients. Other HTTP handlers can share its server.
type WebSocketTransport struct {
	addr     string
	log      *applog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}

	broadcast chan Message
	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
	dropped   atomic.Uint64

	serverMu sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewWebSocketTransport returns a hub that will listen on addr once Start
// is called. The broadcast loop runs immediately, so the hub can also be
// served through Handler.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		log:  applog.New("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local tooling connects from anywhere
			},
		},
		mux:       http.NewServeMux(),
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, broadcastBuffer),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	wst.mux.HandleFunc(DefaultPath, wst.handleWebSocket)

	go wst.handleBroadcasts()
	return wst
}

// Handle mounts an extra handler next to the WebSocket endpoint.
func (wst *WebSocketTransport) Handle(pattern string, handler http.Handler) {
	wst.mux.Handle(pattern, handler)
}

// Handler returns the HTTP handler serving every mounted route.
func (wst *WebSocketTransport) Handler() http.Handler {
	return wst.mux
}

// Start binds the listen address and serves in the background.
func (wst *WebSocketTransport) Start() error {
	wst.serverMu.Lock()
	defer wst.serverMu.Unlock()
	if wst.server != nil {
		return errors.New("websocket: already started")
	}

	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return err
	}
	wst.listener = ln
	wst.server = &http.Server{
		Handler:           wst.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		wst.log.Infof("listening on %s", ln.Addr())
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.log.Errorf("server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (wst *WebSocketTransport) Addr() string {
	wst.serverMu.Lock()
	defer wst.serverMu.Unlock()
	if wst.listener != nil {
		return wst.listener.Addr().String()
	}
	return wst.addr
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Warnf("upgrade error: %v", err)
		return
	}

	select {
	case <-wst.done:
		conn.Close()
		return
	default:
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = struct{}{}
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.Debugf("client connected from %s, total: %d", r.RemoteAddr, total)

	// Clients only listen; reading just notices when they go away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	conn.Close()
	if ok {
		wst.log.Debugf("client disconnected, total: %d", total)
	}
}

// handleBroadcasts writes queued messages to every client until Close.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer close(wst.loopDone)
	for {
		select {
		case msg := <-wst.broadcast:
			wst.write(msg)
		case <-wst.done:
			return
		}
	}
}

func (wst *WebSocketTransport) write(msg Message) {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	for client := range wst.clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteJSON(msg); err != nil {
			wst.log.Warnf("error sending %s to client: %v", msg.Type, err)
			client.Close()
			delete(wst.clients, client)
		}
	}
}

// Send queues data for every client. When the queue is full the message is
// dropped rather than blocking the caller.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrClosed
	default:
	}

	msg := Wrap(data)
	select {
	case wst.broadcast <- msg:
	default:
		if n := wst.dropped.Add(1); n == 1 || n%100 == 0 {
			wst.log.Warnf("broadcast queue full, dropped %d messages", n)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Close disconnects every client and shuts down the server.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		close(wst.done)
		<-wst.loopDone

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeTimeout))
			client.Close()
		}
		clear(wst.clients)
		wst.clientsMu.Unlock()

		wst.serverMu.Lock()
		server := wst.server
		wst.serverMu.Unlock()
		if server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			err = server.Shutdown(ctx)
			wst.log.Infof("server on %s closed", wst.Addr())
		}
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
