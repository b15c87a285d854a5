package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials the gateway over gorilla/websocket, sending the
// session token as a Bearer header.
type WebSocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// NewWebSocketDialer returns a dialer for a ws:// or wss:// gateway URL.
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{URL: url, HandshakeTimeout: 10 * time.Second}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	conn.SetReadLimit(64 * 1024)
	return conn, nil
}
