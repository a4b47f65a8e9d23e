package connector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is the framed bidirectional channel to the peer bridge. The
// production implementation is a websocket; tests swap in an in-memory fake.
type Transport interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer establishes a Transport to a bridge URL.
type Dialer func(ctx context.Context, bridgeURL string) (Transport, error)

type wsTransport struct {
	mu   sync.Mutex // gorilla allows one concurrent writer
	conn *websocket.Conn
}

func (t *wsTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// DialWebsocket is the production Dialer. http(s) bridge URLs are rewritten
// to their ws(s) equivalents, the way bridge operators publish them.
func DialWebsocket(ctx context.Context, bridgeURL string) (Transport, error) {
	u, err := url.Parse(strings.TrimSpace(bridgeURL))
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported bridge scheme %q", u.Scheme)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}
