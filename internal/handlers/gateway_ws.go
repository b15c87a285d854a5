package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 64 * 1024
	wsPongWait     = 90 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

// upgrader returns the upgrader for socket connections. Browsers must send
// an allowed Origin; clients that send none (CLI, mobile) are let through.
func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			for _, allowed := range a.AllowedOrigins {
				if strings.EqualFold(strings.TrimSpace(allowed), origin) {
					return true
				}
			}
			return false
		},
	}
}

// wsConn adapts a gorilla connection to services.SocketConn with write
// deadlines and a serialised writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ReadJSON(dest interface{}) error {
	return c.conn.ReadJSON(dest)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// ServeWebSocket is the socket gateway endpoint.
// Authentication uses the session token (Authorization: Bearer <token>, or
// ?token= for browser clients that cannot set headers).
func (a *API) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.authenticate(r, true)
	if !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	upgrader := a.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	a.Gateway.Serve(r.Context(), identity, &wsConn{conn: conn})
	close(done)
}
